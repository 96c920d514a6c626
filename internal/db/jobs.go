package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bobarin/showcase/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateRenderJob(ctx context.Context, job *models.RenderJob) error {
	var props interface{}
	if job.Props != nil {
		data, err := json.Marshal(job.Props)
		if err != nil {
			return fmt.Errorf("failed to marshal job props: %w", err)
		}
		props = data
	}

	query := `
		INSERT INTO render_jobs (
			id, listing_id, source, status, props, started_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		job.ID, job.ListingID, job.Source, job.Status, props, job.StartedAt,
	).Scan(&job.CreatedAt)
}

func (db *DB) GetRenderJob(ctx context.Context, id uuid.UUID) (*models.RenderJob, error) {
	query := `
		SELECT
			id, listing_id, source, status, props, video_url,
			error_message, started_at, finished_at, created_at
		FROM render_jobs
		WHERE id = $1
	`

	job := &models.RenderJob{}
	var props []byte
	err := db.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &job.ListingID, &job.Source, &job.Status, &props,
		&job.VideoURL, &job.ErrorMessage, &job.StartedAt, &job.FinishedAt,
		&job.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("render job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get render job: %w", err)
	}

	if len(props) > 0 {
		job.Props = &models.VideoProps{}
		if err := json.Unmarshal(props, job.Props); err != nil {
			return nil, fmt.Errorf("failed to parse render job props: %w", err)
		}
	}

	return job, nil
}

// FinishRenderJob records the terminal state of a synchronous render.
func (db *DB) FinishRenderJob(ctx context.Context, id uuid.UUID, status models.RenderJobStatus, videoURL, errorMessage *string) error {
	query := `
		UPDATE render_jobs
		SET status = $1, video_url = $2, error_message = $3, finished_at = $4
		WHERE id = $5
	`
	_, err := db.ExecContext(ctx, query, status, videoURL, errorMessage, time.Now(), id)
	return err
}
