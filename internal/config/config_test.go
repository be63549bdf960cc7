package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.DBDriver)
	require.Equal(t, 8080, cfg.HTTPPort)
	require.Equal(t, 24*time.Hour, cfg.StoryTTL)
	require.Equal(t, time.Hour, cfg.ExpiryBucket)
	require.Equal(t, 8, cfg.WorkerMaxAttempts)
}

func TestNewReadsEnvironment(t *testing.T) {
	t.Setenv("GLIMMER_DB_DRIVER", "postgres")
	t.Setenv("GLIMMER_POSTGRES_DSN", "postgres://localhost/glimmer")
	t.Setenv("GLIMMER_STORY_TTL", "48h")

	cfg, err := New()
	require.NoError(t, err)
	require.Equal(t, "postgres", cfg.DBDriver)
	require.Equal(t, 48*time.Hour, cfg.StoryTTL)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.DBDriver = "mongo" }},
		{"postgres without dsn", func(c *Config) { c.DBDriver = "postgres"; c.PostgresDSN = "" }},
		{"ttl below minimum", func(c *Config) { c.StoryTTL = time.Hour }},
		{"bucket at ttl floor", func(c *Config) { c.ExpiryBucket = MinTTL }},
		{"zero bucket", func(c *Config) { c.ExpiryBucket = 0 }},
		{"no attempts", func(c *Config) { c.WorkerMaxAttempts = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewForTesting()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestNewForTestingIsValid(t *testing.T) {
	cfg := NewForTesting()
	require.NoError(t, cfg.Validate())
	require.True(t, cfg.IsTesting())
	require.Equal(t, ":8080", cfg.GetHTTPAddr())
}
