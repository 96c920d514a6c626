package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Enums
type ListingStatus string

const (
	ListingStatusActive ListingStatus = "active"
	ListingStatusDraft  ListingStatus = "draft"
	ListingStatusSold   ListingStatus = "sold"
)

type RenderJobStatus string

const (
	// RenderJobStatusPrepared means props were assembled but nothing was rendered yet.
	RenderJobStatusPrepared  RenderJobStatus = "prepared"
	RenderJobStatusRendering RenderJobStatus = "rendering"
	RenderJobStatusSucceeded RenderJobStatus = "succeeded"
	RenderJobStatusFailed    RenderJobStatus = "failed"
)

type RenderJobSource string

const (
	RenderJobSourceAPI     RenderJobSource = "api"
	RenderJobSourceWebhook RenderJobSource = "webhook"
)

// Models

// Specifications is the sparse attribute bag attached to a listing. Every field is optional.
type Specifications struct {
	Category  *string  `json:"category,omitempty"`
	Condition *string  `json:"condition,omitempty"`
	Weight    *float64 `json:"weight,omitempty"` // troy ounces
	Purity    *string  `json:"purity,omitempty"`
	Year      *string  `json:"year,omitempty"`
}

// UnmarshalJSON accepts the loosely typed values sellers actually enter:
// numeric or quoted weights and years, and blank strings for "not set".
func (s *Specifications) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid specifications: %w", err)
	}

	*s = Specifications{
		Category:  looseString(raw["category"]),
		Condition: looseString(raw["condition"]),
		Purity:    looseString(raw["purity"]),
		Year:      looseString(raw["year"]),
		Weight:    looseNumber(raw["weight"]),
	}
	return nil
}

// Value stores the bag in a JSONB column.
func (s Specifications) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *Specifications) Scan(value interface{}) error {
	if value == nil {
		*s = Specifications{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unsupported specifications type %T", value)
	}
	return json.Unmarshal(bytes, s)
}

func looseString(v interface{}) *string {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return &s
		}
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		return &s
	case bool:
		s := strconv.FormatBool(t)
		return &s
	}
	return nil
}

func looseNumber(v interface{}) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return &f
		}
	}
	return nil
}

type Listing struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Description    *string        `json:"description,omitempty"` // may contain HTML
	Images         []string       `json:"images"`
	UserID         string         `json:"user_id"`
	Category       *string        `json:"category,omitempty"`
	Status         ListingStatus  `json:"status,omitempty"`
	Specifications Specifications `json:"specifications"`
	VideoURL       *string        `json:"video_url,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

var listingIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidListingID reports whether id can be used as a single segment of a
// file or object path.
func ValidListingID(id string) bool {
	return listingIDPattern.MatchString(id)
}

// ResolvedCategory prefers the listing's category column over the specifications bag.
func (l *Listing) ResolvedCategory() *string {
	if l.Category != nil && strings.TrimSpace(*l.Category) != "" {
		return l.Category
	}
	return l.Specifications.Category
}

type Profile struct {
	ID         string  `json:"id"`
	Username   *string `json:"username,omitempty"`
	FullName   *string `json:"full_name,omitempty"`
	AvatarURL  *string `json:"avatar_url,omitempty"`
	Reputation float64 `json:"reputation"`
	IsVerified bool    `json:"is_verified"`
}

// Default profile values used when the seller record cannot be loaded.
const (
	DefaultProfileUsername = "seller"
	DefaultProfileFullName = "Marketplace Seller"
)

// DefaultProfile is the deterministic stand-in for a missing seller profile.
func DefaultProfile(ownerID string) *Profile {
	username := DefaultProfileUsername
	fullName := DefaultProfileFullName
	return &Profile{
		ID:       ownerID,
		Username: &username,
		FullName: &fullName,
	}
}

// VideoProps is the fixed-shape input of the showcase composition.
type VideoProps struct {
	Title               string              `json:"title"`
	Description         string              `json:"description"`
	DetailedDescription string              `json:"detailedDescription"`
	Images              []string            `json:"images"`
	Specifications      VideoSpecifications `json:"specifications"`
	SellerName          string              `json:"sellerName"`
	LogoURL             string              `json:"logoUrl"`
}

// VideoSpecifications fields are omitted entirely when unknown so the
// composition can skip them.
type VideoSpecifications struct {
	Category  *string `json:"category,omitempty"`
	Condition *string `json:"condition,omitempty"`
	Weight    *string `json:"weight,omitempty"`
	Purity    *string `json:"purity,omitempty"`
	Year      *string `json:"year,omitempty"`
}

// RenderJob is one pipeline execution for a listing.
type RenderJob struct {
	ID           uuid.UUID       `json:"id"`
	ListingID    string          `json:"listing_id"`
	Source       RenderJobSource `json:"source"`
	Status       RenderJobStatus `json:"status"`
	Props        *VideoProps     `json:"props,omitempty"`
	VideoURL     *string         `json:"video_url,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// WebhookEvent is the database change notification envelope.
type WebhookEvent struct {
	Type      string          `json:"type"`
	Table     string          `json:"table"`
	Schema    string          `json:"schema,omitempty"`
	Record    json.RawMessage `json:"record"`
	OldRecord json.RawMessage `json:"old_record,omitempty"`
}

// DTOs for API requests and responses

type RenderRequest struct {
	ListingID   *string  `json:"listingId,omitempty"`
	ListingData *Listing `json:"listingData,omitempty"`
}

type RenderResponse struct {
	Success    bool    `json:"success"`
	VideoURL   string  `json:"videoUrl"`
	ListingID  string  `json:"listingId"`
	RenderTime float64 `json:"renderTime"` // seconds
}

type ErrorResponse struct {
	Success    bool    `json:"success"`
	Error      string  `json:"error"`
	RenderTime float64 `json:"renderTime"`
	Stack      string  `json:"stack,omitempty"` // non-production only
}

type WebhookResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Reason  string     `json:"reason,omitempty"`
	Job     *RenderJob `json:"job,omitempty"`
}

type HealthResponse struct {
	Status       string          `json:"status"`
	Service      string          `json:"service"`
	Timestamp    time.Time       `json:"timestamp"`
	Config       map[string]bool `json:"config"`
	PreparedJobs *int64          `json:"preparedJobs,omitempty"` // set when the queue is configured
}
