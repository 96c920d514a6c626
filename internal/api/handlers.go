package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bobarin/showcase/internal/apperr"
	"github.com/bobarin/showcase/internal/db"
	"github.com/bobarin/showcase/internal/logging"
	"github.com/bobarin/showcase/internal/models"
	"github.com/bobarin/showcase/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	serviceName = "listing-showcase"

	maxBodyBytes = 1 << 20
)

// Pipeline is the part of pipeline.Service the handlers drive.
type Pipeline interface {
	ResolveListing(ctx context.Context, req models.RenderRequest) (*models.Listing, error)
	Render(ctx context.Context, listing *models.Listing) (*pipeline.Result, error)
	PrepareFromWebhook(ctx context.Context, event models.WebhookEvent) (*models.RenderJob, error)
}

type JobReader interface {
	GetRenderJob(ctx context.Context, id uuid.UUID) (*models.RenderJob, error)
}

// PreparedCounter reports the prepared-job backlog. Optional.
type PreparedCounter interface {
	PreparedCount(ctx context.Context) (int64, error)
}

type HandlerConfig struct {
	// Production hides stack traces from error responses.
	Production bool
	// Checks is the presence-only configuration summary reported by /health.
	Checks map[string]bool
}

type Handler struct {
	pipeline Pipeline
	jobs     JobReader
	prepared PreparedCounter
	cfg      HandlerConfig
}

func NewHandler(p Pipeline, jobs JobReader, prepared PreparedCounter, cfg HandlerConfig) *Handler {
	return &Handler{
		pipeline: p,
		jobs:     jobs,
		prepared: prepared,
		cfg:      cfg,
	}
}

// RenderVideo handles POST /api/render-video
func (h *Handler) RenderVideo(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req models.RenderRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.respondFailure(w, r, apperr.Client("render", "Invalid request body"), start)
		return
	}

	listing, err := h.pipeline.ResolveListing(r.Context(), req)
	if err != nil {
		h.respondFailure(w, r, err, start)
		return
	}

	result, err := h.pipeline.Render(r.Context(), listing)
	if err != nil {
		h.respondFailure(w, r, err, start)
		return
	}

	respondJSON(w, http.StatusOK, models.RenderResponse{
		Success:    true,
		VideoURL:   result.VideoURL,
		ListingID:  result.ListingID,
		RenderTime: time.Since(start).Seconds(),
	})
}

// ListingWebhook handles POST /api/webhooks/listing-created.
// It prepares the job and never renders.
func (h *Handler) ListingWebhook(w http.ResponseWriter, r *http.Request) {
	logger := logging.Component("webhook")

	var event models.WebhookEvent
	if err := decodeBody(w, r, &event); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	job, err := h.pipeline.PrepareFromWebhook(r.Context(), event)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindSkip {
			logger.Info().Str("reason", apperr.Message(err)).Msg("webhook skipped")
			respondJSON(w, http.StatusOK, models.WebhookResponse{
				Success: true,
				Message: "Webhook skipped",
				Reason:  apperr.Message(err),
			})
			return
		}

		status := apperr.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).Msg("webhook failed")
		}
		respondError(w, status, apperr.Message(err))
		return
	}

	respondJSON(w, http.StatusOK, models.WebhookResponse{
		Success: true,
		Message: "Video job prepared",
		Job:     job,
	})
}

// GetRenderJob handles GET /api/render-jobs/{id}
func (h *Handler) GetRenderJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	job, err := h.jobs.GetRenderJob(r.Context(), jobID)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Render job not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get render job")
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// Health handles GET /health. It never exposes configuration values.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{
		Status:    "ok",
		Service:   serviceName,
		Timestamp: time.Now().UTC(),
		Config:    h.cfg.Checks,
	}

	if h.prepared != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if n, err := h.prepared.PreparedCount(ctx); err == nil {
			resp.PreparedJobs = &n
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func (h *Handler) respondFailure(w http.ResponseWriter, r *http.Request, err error, start time.Time) {
	status := apperr.HTTPStatus(err)

	logger := logging.Component("api")
	event := logger.Warn()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")

	resp := models.ErrorResponse{
		Success:    false,
		Error:      apperr.Message(err),
		RenderTime: time.Since(start).Seconds(),
	}
	if !h.cfg.Production {
		resp.Stack = apperr.StackOf(err)
	}
	respondJSON(w, status, resp)
}

// decodeBody reads a JSON body. An empty body decodes to the zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{"success": false, "error": message})
}
