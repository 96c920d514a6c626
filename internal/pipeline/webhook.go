package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bobarin/showcase/internal/apperr"
	"github.com/bobarin/showcase/internal/models"
)

const listingsTable = "listings"

// webhookRecord is the subset of a listings row we read from change events.
// Timestamps are left out: their format depends on the column type.
type webhookRecord struct {
	ID             string                `json:"id"`
	Title          string                `json:"title"`
	Description    *string               `json:"description"`
	Images         []string              `json:"images"`
	UserID         string                `json:"user_id"`
	Category       *string               `json:"category"`
	Status         string                `json:"status"`
	Specifications models.Specifications `json:"specifications"`
}

// ListingFromWebhook validates a change event and returns the inserted listing.
// Events that are not for us come back as apperr skips.
func ListingFromWebhook(event models.WebhookEvent) (*models.Listing, error) {
	const op = "webhook"

	if !strings.EqualFold(event.Type, "INSERT") {
		return nil, apperr.Skip(op, fmt.Sprintf("Event type is not INSERT (got: %s)", event.Type))
	}
	if event.Table != listingsTable {
		return nil, apperr.Skip(op, fmt.Sprintf("Table is not %s (got: %s)", listingsTable, event.Table))
	}

	raw := strings.TrimSpace(string(event.Record))
	if raw == "" || raw == "null" {
		return nil, apperr.Client(op, "Webhook record is missing")
	}

	var rec webhookRecord
	if err := json.Unmarshal(event.Record, &rec); err != nil {
		return nil, apperr.Clientf(op, "Invalid listing record: %v", err)
	}

	var missing []string
	if strings.TrimSpace(rec.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(rec.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(rec.UserID) == "" {
		missing = append(missing, "user_id")
	}
	if len(missing) > 0 {
		return nil, apperr.Clientf(op, "Listing record is missing required fields: %s", strings.Join(missing, ", "))
	}
	if !models.ValidListingID(rec.ID) {
		return nil, apperr.Clientf(op, "Invalid listing id: %q", rec.ID)
	}

	if models.ListingStatus(rec.Status) != models.ListingStatusActive {
		return nil, apperr.Skip(op, fmt.Sprintf("Listing is not active (status: %s)", rec.Status))
	}

	return &models.Listing{
		ID:             rec.ID,
		Title:          rec.Title,
		Description:    rec.Description,
		Images:         rec.Images,
		UserID:         rec.UserID,
		Category:       rec.Category,
		Status:         models.ListingStatus(rec.Status),
		Specifications: rec.Specifications,
	}, nil
}
