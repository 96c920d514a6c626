package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bobarin/showcase/internal/models"
	"github.com/lib/pq"
)

// ErrNotFound is returned when a point lookup matches no row.
var ErrNotFound = errors.New("not found")

func (db *DB) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	query := `
		SELECT
			id, title, description, images, user_id, category,
			COALESCE(status, ''), specifications, video_url, created_at, updated_at
		FROM listings
		WHERE id = $1
	`

	listing := &models.Listing{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&listing.ID, &listing.Title, &listing.Description,
		pq.Array(&listing.Images), &listing.UserID, &listing.Category,
		&listing.Status, &listing.Specifications, &listing.VideoURL,
		&listing.CreatedAt, &listing.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("listing %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing %s: %w", id, err)
	}

	return listing, nil
}

// UpdateListingVideoURL points the listing at its rendered video.
func (db *DB) UpdateListingVideoURL(ctx context.Context, id, videoURL string) error {
	query := `UPDATE listings SET video_url = $1, updated_at = NOW() WHERE id = $2`

	result, err := db.ExecContext(ctx, query, videoURL, id)
	if err != nil {
		return fmt.Errorf("failed to update listing video url: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("listing %s: %w", id, ErrNotFound)
	}

	return nil
}
