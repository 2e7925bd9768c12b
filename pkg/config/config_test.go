package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Covault-Labs/covault/core/pkg/config"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
// Invariant: System must boot with safe defaults in dev mode.
func TestLoad_Defaults(t *testing.T) {
	// Ensure clean env
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("PROFILES_DIR", "")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("TELEMETRY_ENABLED", "")

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "profiles", cfg.ProfilesDir)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Contains(t, cfg.DatabaseURL, "localhost") // Default is local
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 30*time.Second, cfg.LeaseTTL)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.False(t, cfg.TelemetryEnabled)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
// Invariant: Ops can control config via standard 12-factor env vars.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://production:5432/covault")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("LEASE_TTL", "90s")
	t.Setenv("TELEMETRY_ENABLED", "true")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.Equal(t, "postgres://production:5432/covault", cfg.DatabaseURL)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 90*time.Second, cfg.LeaseTTL)
	assert.True(t, cfg.TelemetryEnabled)
}

// TestLoad_BadDuration verifies malformed durations fall back rather
// than aborting startup.
func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("LEASE_TTL", "not-a-duration")

	cfg := config.Load()

	assert.Equal(t, 30*time.Second, cfg.LeaseTTL)
}
