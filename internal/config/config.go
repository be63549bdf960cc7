package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// MinTTL is the smallest story lifetime the service accepts. The expiry
// coalescing bucket must stay strictly below it so rounding a fire instant
// up can never delete a live story early.
const MinTTL = 6 * time.Hour

// Config holds the configuration for the story service and expiry worker.
// Environment variables are parsed from the GLIMMER_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Storage
	DBDriver    string `envconfig:"DB_DRIVER" default:"sqlite"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"glimmer.db"`

	// Story lifecycle
	StoryTTL     time.Duration `envconfig:"STORY_TTL" default:"24h"`
	ExpiryBucket time.Duration `envconfig:"EXPIRY_BUCKET" default:"1h"`

	// Expiry worker
	WorkerBatchSize   int           `envconfig:"WORKER_BATCH_SIZE" default:"100"`
	WorkerInterval    time.Duration `envconfig:"WORKER_INTERVAL" default:"30s"`
	WorkerMaxAttempts int           `envconfig:"WORKER_MAX_ATTEMPTS" default:"8"`

	// External collaborators (empty URL selects the in-process default)
	BlobGatewayURL string `envconfig:"BLOB_GATEWAY_URL" default:""`
	FriendGraphURL string `envconfig:"FRIEND_GRAPH_URL" default:""`

	// Rate limiting on the public API
	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"40"`
}

// Validate checks cross-field constraints that envconfig cannot express.
func (c *Config) Validate() error {
	allowedDB := map[string]bool{"postgres": true, "sqlite": true}
	if !allowedDB[c.DBDriver] {
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.DBDriver == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("DB_DRIVER=postgres requires POSTGRES_DSN")
	}
	if c.StoryTTL < MinTTL {
		return fmt.Errorf("STORY_TTL %v below minimum %v", c.StoryTTL, MinTTL)
	}
	if c.ExpiryBucket <= 0 || c.ExpiryBucket >= MinTTL {
		return fmt.Errorf("EXPIRY_BUCKET %v must be positive and below the minimum TTL %v", c.ExpiryBucket, MinTTL)
	}
	if c.WorkerMaxAttempts <= 0 {
		return fmt.Errorf("WORKER_MAX_ATTEMPTS must be positive")
	}
	return nil
}

// New creates a Config by parsing GLIMMER_-prefixed environment variables.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("GLIMMER", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Int("port", cfg.HTTPPort).
		Dur("story_ttl", cfg.StoryTTL).
		Dur("expiry_bucket", cfg.ExpiryBucket).
		Int("worker_max_attempts", cfg.WorkerMaxAttempts).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config suitable for tests: sqlite in-memory
// storage, small worker cadence, in-process collaborators.
func NewForTesting() *Config {
	return &Config{
		Environment:       EnvTesting,
		HTTPPort:          8080,
		DBDriver:          "sqlite",
		SQLitePath:        ":memory:",
		StoryTTL:          24 * time.Hour,
		ExpiryBucket:      time.Hour,
		WorkerBatchSize:   10,
		WorkerInterval:    10 * time.Millisecond,
		WorkerMaxAttempts: 3,
		RateLimitRPS:      1000,
		RateLimitBurst:    1000,
	}
}

// IsTesting returns true if the environment is set to testing.
func (c *Config) IsTesting() bool { return c.Environment == EnvTesting }

// IsProduction returns true if the environment is set to production.
func (c *Config) IsProduction() bool { return c.Environment == EnvProduction }

// GetHTTPAddr returns the HTTP server address.
func (c *Config) GetHTTPAddr() string { return fmt.Sprintf(":%d", c.HTTPPort) }
