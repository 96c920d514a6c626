package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bobarin/showcase/internal/apperr"
	"github.com/bobarin/showcase/internal/logging"
	"github.com/bobarin/showcase/internal/models"
	"github.com/bobarin/showcase/internal/services"
	"github.com/google/uuid"
)

// Store reads marketplace data.
type Store interface {
	GetListing(ctx context.Context, id string) (*models.Listing, error)
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
}

// JobStore persists render job records.
type JobStore interface {
	CreateRenderJob(ctx context.Context, job *models.RenderJob) error
	FinishRenderJob(ctx context.Context, id uuid.UUID, status models.RenderJobStatus, videoURL, errorMessage *string) error
}

// PreparedQueue receives webhook jobs that are ready to render.
type PreparedQueue interface {
	EnqueuePrepared(ctx context.Context, job *models.RenderJob) error
}

// ListingLocker serializes renders of the same listing.
type ListingLocker interface {
	AcquireListingLock(ctx context.Context, listingID string, ttl time.Duration) (release func(), ok bool, err error)
}

type Describer interface {
	Describe(ctx context.Context, listing *models.Listing) services.Descriptions
}

type Renderer interface {
	Render(ctx context.Context, listingID string, props *models.VideoProps) (string, error)
}

type VideoPublisher interface {
	Publish(ctx context.Context, localPath, listingID string) (string, error)
}

// Options holds the optional collaborators. Nil fields disable the feature.
type Options struct {
	LogoURL string
	LockTTL time.Duration
	Jobs    JobStore
	Queue   PreparedQueue
	Locker  ListingLocker
}

// Service runs the showcase pipeline: describe, assemble, render, publish.
type Service struct {
	store     Store
	describer Describer
	renderer  Renderer
	publisher VideoPublisher
	opts      Options
}

func NewService(store Store, describer Describer, renderer Renderer, publisher VideoPublisher, opts Options) *Service {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 15 * time.Minute
	}
	return &Service{
		store:     store,
		describer: describer,
		renderer:  renderer,
		publisher: publisher,
		opts:      opts,
	}
}

// Result is the outcome of a successful render.
type Result struct {
	ListingID string
	VideoURL  string
	Props     models.VideoProps
}

// ResolveListing picks the listing for a render request. Inline data wins
// over an id lookup. The id ends up in file and object paths, so it must be a
// single path segment.
func (s *Service) ResolveListing(ctx context.Context, req models.RenderRequest) (*models.Listing, error) {
	const op = "resolve listing"

	if req.ListingData != nil {
		listing := *req.ListingData
		listing.ID = strings.TrimSpace(listing.ID)
		if listing.ID == "" {
			if req.ListingID != nil && strings.TrimSpace(*req.ListingID) != "" {
				listing.ID = strings.TrimSpace(*req.ListingID)
			} else {
				listing.ID = "inline-" + uuid.NewString()
			}
		}
		if !models.ValidListingID(listing.ID) {
			return nil, apperr.Clientf(op, "Invalid listing id: %q", listing.ID)
		}
		if strings.TrimSpace(listing.Title) == "" {
			return nil, apperr.Client(op, "listingData.title is required")
		}
		return &listing, nil
	}

	if req.ListingID == nil || strings.TrimSpace(*req.ListingID) == "" {
		return nil, apperr.Client(op, "Either listingId or listingData is required")
	}

	id := strings.TrimSpace(*req.ListingID)
	if !models.ValidListingID(id) {
		return nil, apperr.Clientf(op, "Invalid listing id: %q", id)
	}

	listing, err := s.store.GetListing(ctx, id)
	if err != nil {
		return nil, apperr.Server(op, fmt.Errorf("failed to fetch listing %s: %w", id, err))
	}
	return listing, nil
}

// Seller loads the listing owner's profile, falling back to the default profile.
func (s *Service) Seller(ctx context.Context, ownerID string) *models.Profile {
	if ownerID == "" {
		return models.DefaultProfile(ownerID)
	}

	profile, err := s.store.GetProfile(ctx, ownerID)
	if err != nil {
		logger := logging.Component("pipeline")
		logger.Warn().Err(err).Str("user_id", ownerID).Msg("using default seller profile")
		return models.DefaultProfile(ownerID)
	}
	return profile
}

// Prepare generates copy and assembles the composition input.
func (s *Service) Prepare(ctx context.Context, listing *models.Listing) models.VideoProps {
	seller := s.Seller(ctx, listing.UserID)
	desc := s.describer.Describe(ctx, listing)
	return Assemble(listing, seller, desc, s.opts.LogoURL)
}

// Render runs every step for the listing and returns the public video URL.
func (s *Service) Render(ctx context.Context, listing *models.Listing) (*Result, error) {
	const op = "render"
	logger := logging.Component("pipeline").With().Str("listing_id", listing.ID).Logger()

	if s.opts.Locker != nil {
		release, ok, err := s.opts.Locker.AcquireListingLock(ctx, listing.ID, s.opts.LockTTL)
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("listing lock unavailable, rendering without it")
		case !ok:
			return nil, apperr.Conflict(op, fmt.Sprintf("A video for listing %s is already being rendered", listing.ID))
		default:
			defer release()
		}
	}

	props := s.Prepare(ctx, listing)
	job := s.startJob(ctx, listing.ID, &props)

	localPath, err := s.renderer.Render(ctx, listing.ID, &props)
	if err != nil {
		s.finishJob(ctx, job, models.RenderJobStatusFailed, "", err)
		return nil, apperr.Server(op, err)
	}

	videoURL, err := s.publisher.Publish(ctx, localPath, listing.ID)
	if err != nil {
		s.finishJob(ctx, job, models.RenderJobStatusFailed, "", err)
		return nil, apperr.Server(op, err)
	}

	s.finishJob(ctx, job, models.RenderJobStatusSucceeded, videoURL, nil)
	logger.Info().Str("video_url", videoURL).Msg("showcase video published")

	return &Result{ListingID: listing.ID, VideoURL: videoURL, Props: props}, nil
}

// PrepareFromWebhook validates a listing-created event and records a prepared
// job for it. Nothing is rendered.
func (s *Service) PrepareFromWebhook(ctx context.Context, event models.WebhookEvent) (*models.RenderJob, error) {
	const op = "prepare webhook job"

	listing, err := ListingFromWebhook(event)
	if err != nil {
		return nil, err
	}

	logger := logging.Component("pipeline").With().Str("listing_id", listing.ID).Logger()

	props := s.Prepare(ctx, listing)
	job := &models.RenderJob{
		ID:        uuid.New(),
		ListingID: listing.ID,
		Source:    models.RenderJobSourceWebhook,
		Status:    models.RenderJobStatusPrepared,
		Props:     &props,
		CreatedAt: time.Now(),
	}

	if s.opts.Jobs != nil {
		if err := s.opts.Jobs.CreateRenderJob(ctx, job); err != nil {
			return nil, apperr.Server(op, fmt.Errorf("failed to record job: %w", err))
		}
	}
	if s.opts.Queue != nil {
		if err := s.opts.Queue.EnqueuePrepared(ctx, job); err != nil {
			return nil, apperr.Server(op, fmt.Errorf("failed to enqueue job: %w", err))
		}
	}

	logger.Info().Str("job_id", job.ID.String()).Msg("video job prepared")
	return job, nil
}

func (s *Service) startJob(ctx context.Context, listingID string, props *models.VideoProps) *models.RenderJob {
	if s.opts.Jobs == nil {
		return nil
	}

	now := time.Now()
	job := &models.RenderJob{
		ID:        uuid.New(),
		ListingID: listingID,
		Source:    models.RenderJobSourceAPI,
		Status:    models.RenderJobStatusRendering,
		Props:     props,
		StartedAt: &now,
	}
	if err := s.opts.Jobs.CreateRenderJob(ctx, job); err != nil {
		logger := logging.Component("pipeline")
		logger.Warn().Err(err).Str("listing_id", listingID).Msg("failed to record render job")
		return nil
	}
	return job
}

func (s *Service) finishJob(ctx context.Context, job *models.RenderJob, status models.RenderJobStatus, videoURL string, cause error) {
	if job == nil {
		return
	}

	var urlPtr, errPtr *string
	if videoURL != "" {
		urlPtr = &videoURL
	}
	if cause != nil {
		msg := cause.Error()
		errPtr = &msg
	}

	// The request may have been cancelled; the record should still land.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.opts.Jobs.FinishRenderJob(ctx, job.ID, status, urlPtr, errPtr); err != nil {
		logger := logging.Component("pipeline")
		logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("failed to update render job")
	}
}
