package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobarin/showcase/internal/api"
	"github.com/bobarin/showcase/internal/config"
	"github.com/bobarin/showcase/internal/db"
	"github.com/bobarin/showcase/internal/logging"
	"github.com/bobarin/showcase/internal/pipeline"
	"github.com/bobarin/showcase/internal/queue"
	"github.com/bobarin/showcase/internal/services"
	"github.com/bobarin/showcase/internal/storage"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logging is not configured yet; the default global logger writes JSON to stderr.
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logging.Setup(cfg.LogLevel, cfg.LogFormat, "listing-showcase", cfg.LogCaller)
	log.Info().Str("environment", cfg.Environment).Msg("starting listing showcase API")

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()
	log.Info().Msg("connected to database")

	opts := pipeline.Options{
		LogoURL: pipeline.LogoURL(cfg.AppURL),
		LockTTL: cfg.ListingLockTTL,
		Jobs:    database,
	}

	// Redis is optional: without it there is no prepared-job queue and no listing lock.
	var prepared api.PreparedCounter
	if cfg.RedisURL != "" {
		q, err := queue.New(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer q.Close()
		opts.Queue = q
		opts.Locker = q
		prepared = q
		log.Info().Msg("connected to redis queue")
	} else {
		log.Warn().Msg("REDIS_URL not set, prepared jobs are recorded in the database only and renders are not locked")
	}

	stor := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)

	// OpenAI preferred, Gemini as fallback, templates when neither is configured
	var textGen services.TextGenerator
	switch {
	case cfg.OpenAIKey != "":
		textGen = services.NewOpenAIService(cfg.OpenAIKey, cfg.OpenAIModel)
		log.Info().Str("model", cfg.OpenAIModel).Msg("text generation: openai")
	case cfg.GeminiKey != "":
		textGen = services.NewGeminiService(cfg.GeminiKey, cfg.GeminiModel)
		log.Info().Str("model", cfg.GeminiModel).Msg("text generation: gemini")
	default:
		log.Warn().Msg("no text generation key set, using template descriptions")
	}

	engine, err := services.NewRemotionEngine(cfg.RemotionRoot, cfg.RemotionEntry, cfg.RenderTempDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize remotion")
	}

	svc := pipeline.NewService(
		database,
		services.NewDescriptionGenerator(textGen, cfg.DescriptionTimeout),
		pipeline.NewOrchestrator(engine, pipeline.RenderConfig{
			CompositionID: cfg.CompositionID,
			TempDir:       cfg.RenderTempDir,
			Concurrency:   cfg.RenderConcurrency,
			Timeout:       cfg.RenderTimeout,
		}),
		pipeline.NewPublisher(stor, database, cfg.PublishTimeout),
		opts,
	)

	handler := api.NewHandler(svc, database, prepared, api.HandlerConfig{
		Production: cfg.IsProduction(),
		Checks: map[string]bool{
			"database":           cfg.DatabaseURL != "",
			"supabaseUrl":        cfg.SupabaseURL != "",
			"supabaseAnonKey":    cfg.SupabaseAnonKey != "",
			"supabaseServiceKey": cfg.SupabaseServiceKey != "",
			"openaiKey":          cfg.OpenAIKey != "",
			"geminiKey":          cfg.GeminiKey != "",
			"redis":              cfg.RedisURL != "",
		},
	})
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		WebhookSecret:      cfg.WebhookSecret,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey == "" {
		log.Warn().Msg("no BACKEND_API_KEY set, render endpoint is unprotected (dev mode)")
	}
	if cfg.WebhookSecret == "" {
		log.Warn().Msg("no WEBHOOK_SECRET set, webhook endpoint is unprotected")
	}

	// Renders run inside the request, so the write timeout must outlast every step.
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.RequestBudget(),
	}

	go func() {
		log.Info().Str("port", cfg.APIPort).Msg("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited")
}
