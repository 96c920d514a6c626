package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bobarin/showcase/internal/logging"
	"github.com/bobarin/showcase/internal/storage"
)

// PublishStage is where publishing failed.
type PublishStage string

const (
	PublishStageRead   PublishStage = "read"
	PublishStageUpload PublishStage = "upload"
)

type PublishFailure struct {
	Stage PublishStage
	Cause error
}

func (e *PublishFailure) Error() string {
	return fmt.Sprintf("publish failed during %s: %v", e.Stage, e.Cause)
}

func (e *PublishFailure) Unwrap() error {
	return e.Cause
}

// ObjectStore is the public object storage for finished videos.
type ObjectStore interface {
	Upload(ctx context.Context, objectPath string, data []byte, contentType string) error
	GetPublicURL(objectPath string) string
}

// ListingUpdater records the published video on the listing.
type ListingUpdater interface {
	UpdateListingVideoURL(ctx context.Context, id, videoURL string) error
}

// Publisher uploads rendered videos and links them to their listing.
type Publisher struct {
	store    ObjectStore
	listings ListingUpdater
	timeout  time.Duration
	now      func() time.Time
}

// NewPublisher returns a publisher whose upload, retries included, must finish
// within timeout. Zero means no overall deadline.
func NewPublisher(store ObjectStore, listings ListingUpdater, timeout time.Duration) *Publisher {
	return &Publisher{store: store, listings: listings, timeout: timeout, now: time.Now}
}

// Publish uploads the file at localPath and returns its public URL. The local
// file is removed whatever the outcome. Failing to update the listing is
// logged and does not fail the publish.
func (p *Publisher) Publish(ctx context.Context, localPath, listingID string) (string, error) {
	logger := logging.Component("publish").With().Str("listing_id", listingID).Logger()

	defer func() {
		if err := os.Remove(localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Str("path", localPath).Msg("failed to remove local video")
		}
	}()

	objectPath, err := storage.VideoObjectPath(listingID, p.now())
	if err != nil {
		return "", &PublishFailure{Stage: PublishStageUpload, Cause: err}
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", &PublishFailure{Stage: PublishStageRead, Cause: err}
	}

	if err := p.upload(ctx, objectPath, data); err != nil {
		return "", &PublishFailure{Stage: PublishStageUpload, Cause: err}
	}

	videoURL := p.store.GetPublicURL(objectPath)
	logger.Info().Str("object", objectPath).Int("bytes", len(data)).Msg("video uploaded")

	if p.listings != nil {
		if err := p.listings.UpdateListingVideoURL(ctx, listingID, videoURL); err != nil {
			logger.Warn().Err(err).Msg("failed to record video URL on listing")
		}
	}

	return videoURL, nil
}

func (p *Publisher) upload(ctx context.Context, objectPath string, data []byte) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.store.Upload(ctx, objectPath, data, "video/mp4")
}
