package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bobarin/showcase/internal/models"
)

// GetProfile retrieves a seller profile by user ID.
func (db *DB) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	query := `
		SELECT id, username, full_name, avatar_url, COALESCE(reputation, 0), COALESCE(is_verified, false)
		FROM profiles
		WHERE id = $1
	`

	profile := &models.Profile{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&profile.ID, &profile.Username, &profile.FullName,
		&profile.AvatarURL, &profile.Reputation, &profile.IsVerified,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return profile, nil
}
