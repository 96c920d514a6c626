package api

import (
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds settings for the API router.
type RouterConfig struct {
	// BackendAPIKey protects the render endpoints. Empty disables the check (development).
	BackendAPIKey string

	// WebhookSecret protects the webhook endpoint. Empty disables the check.
	WebhookSecret string

	// CorsAllowedOrigins is a comma-separated list of allowed origins.
	// If empty, defaults to "*" (development mode).
	CorsAllowedOrigins string
}

func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	allowedOrigins := []string{"*"}
	if cfg.CorsAllowedOrigins != "" {
		origins := strings.Split(cfg.CorsAllowedOrigins, ",")
		trimmed := make([]string, 0, len(origins))
		for _, o := range origins {
			if s := strings.TrimSpace(o); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			allowedOrigins = trimmed
		}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Webhook-Secret"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.MethodNotAllowed(h.MethodNotAllowed)

	// Health check, public
	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		if cfg.BackendAPIKey != "" {
			r.Use(APIKeyAuth(cfg.BackendAPIKey))
		}
		r.Post("/api/render-video", h.RenderVideo)
		r.Get("/api/render-jobs/{id}", h.GetRenderJob)
	})

	r.Group(func(r chi.Router) {
		if cfg.WebhookSecret != "" {
			r.Use(WebhookSecretAuth(cfg.WebhookSecret))
		}
		r.Post("/api/webhooks/listing-created", h.ListingWebhook)
	})

	return r
}
