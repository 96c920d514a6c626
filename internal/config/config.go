package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	Environment        string // "production" hides stack traces in error responses
	BackendAPIKey      string // API key for the render endpoint (empty = no auth, dev mode)
	WebhookSecret      string // Shared secret sent by the database webhook (empty = no check)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Logging
	LogLevel  string
	LogFormat string // "json" or "console"
	LogCaller bool

	// Database
	DatabaseURL string

	// Redis (optional: prepared-job queue and per-listing render lock)
	RedisURL       string
	ListingLockTTL time.Duration

	// Supabase
	SupabaseURL           string
	SupabaseAnonKey       string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	// Text generation (both optional; neither = fallback descriptions only)
	OpenAIKey          string
	OpenAIModel        string
	GeminiKey          string
	GeminiModel        string
	DescriptionTimeout time.Duration

	// Public app URL, used for the logo shown in the video
	AppURL string

	// Remotion
	RemotionRoot      string
	RemotionEntry     string
	CompositionID     string
	RenderTempDir     string
	RenderConcurrency float64 // Fraction of available CPUs handed to the renderer
	RenderTimeout     time.Duration

	// PublishTimeout bounds the whole upload, retries included
	PublishTimeout time.Duration
}

// requestSlack covers the database reads and writes around the timed steps.
const requestSlack = time.Minute

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:               getEnv("API_PORT", "8080"),
		Environment:           getEnv("ENVIRONMENT", "development"),
		BackendAPIKey:         getEnv("BACKEND_API_KEY", ""),
		WebhookSecret:         getEnv("WEBHOOK_SECRET", ""),
		CorsAllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", ""),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
		LogCaller:             getEnvBool("LOG_CALLER", false),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", ""),
		ListingLockTTL:        getEnvDuration("LISTING_LOCK_TTL", 0),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:       getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "listing-videos"),
		OpenAIKey:             getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:           getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		GeminiKey:             getEnv("GEMINI_API_KEY", ""),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		DescriptionTimeout:    getEnvDuration("DESCRIPTION_TIMEOUT", 20*time.Second),
		AppURL:                getEnv("APP_URL", ""),
		RemotionRoot:          getEnv("REMOTION_ROOT", "./remotion"),
		RemotionEntry:         getEnv("REMOTION_ENTRY", "src/index.ts"),
		CompositionID:         getEnv("COMPOSITION_ID", "ListingShowcase"),
		RenderTempDir:         getEnv("RENDER_TEMP_DIR", "/tmp/showcase"),
		RenderConcurrency:     getEnvFloat("RENDER_CONCURRENCY", 0.5),
		RenderTimeout:         getEnvDuration("RENDER_TIMEOUT", 10*time.Minute),
		PublishTimeout:        getEnvDuration("PUBLISH_TIMEOUT", 5*time.Minute),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required")
	}

	if cfg.RenderConcurrency <= 0 || cfg.RenderConcurrency > 1 {
		return nil, fmt.Errorf("RENDER_CONCURRENCY must be in (0, 1], got %v", cfg.RenderConcurrency)
	}

	if cfg.ListingLockTTL == 0 {
		cfg.ListingLockTTL = cfg.RequestBudget()
	}
	if cfg.ListingLockTTL < cfg.RequestBudget() {
		return nil, fmt.Errorf("LISTING_LOCK_TTL (%v) must cover the render request budget (%v)", cfg.ListingLockTTL, cfg.RequestBudget())
	}

	return cfg, nil
}

// RequestBudget is the longest a synchronous render request can take: two
// description calls, the render, the upload and some slack.
func (c *Config) RequestBudget() time.Duration {
	return 2*c.DescriptionTimeout + c.RenderTimeout + c.PublishTimeout + requestSlack
}

// IsProduction reports whether error responses should omit debugging detail.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
