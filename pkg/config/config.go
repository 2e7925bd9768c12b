// Package config loads server settings from the environment and named
// governance profiles from YAML files. A profile is an operator preset:
// one file carries a complete governance policy (a multisig roster or DAO
// voting rules), the intent timing defaults, and the admission rules for
// accounts bootstrapped from it.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port        string
	LogLevel    string
	ProfilesDir string

	// StoreBackend selects the substrate store: memory, sqlite, postgres.
	StoreBackend string
	DatabaseURL  string
	SQLitePath   string

	// RedisAddr enables the distributed account lease when set.
	RedisAddr     string
	RedisPassword string
	LeaseTTL      time.Duration

	// TokenTTL bounds operator bearer tokens minted at startup.
	TokenTTL time.Duration

	// ArchiveBackend selects where receipts and expiry traces go:
	// file, s3, or none.
	ArchiveBackend  string
	ArchiveDir      string
	ArchiveS3Bucket string
	ArchiveS3Region string

	RateRPS   int
	RateBurst int

	TelemetryEnabled bool
	OTLPEndpoint     string
}

// Load reads configuration from environment variables, defaulting every
// field so a bare `covault serve` runs on an in-memory store.
func Load() *Config {
	cfg := &Config{
		Port:          envOr("PORT", "8080"),
		LogLevel:      envOr("LOG_LEVEL", "INFO"),
		ProfilesDir:   envOr("PROFILES_DIR", "profiles"),
		StoreBackend:  envOr("STORE_BACKEND", "memory"),
		DatabaseURL:   envOr("DATABASE_URL", "postgres://covault@localhost:5432/covault?sslmode=disable"),
		SQLitePath:    envOr("SQLITE_PATH", "data/covault.db"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		LeaseTTL:      envDuration("LEASE_TTL", 30*time.Second),
		TokenTTL:      envDuration("TOKEN_TTL", time.Hour),

		ArchiveBackend:  envOr("ARCHIVE_BACKEND", "file"),
		ArchiveDir:      envOr("ARCHIVE_DIR", "data/archive"),
		ArchiveS3Bucket: os.Getenv("ARCHIVE_S3_BUCKET"),
		ArchiveS3Region: envOr("ARCHIVE_S3_REGION", "us-east-1"),

		RateRPS:   envInt("RATE_LIMIT_RPS", 50),
		RateBurst: envInt("RATE_LIMIT_BURST", 100),

		OTLPEndpoint: envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
	if v, err := strconv.ParseBool(envOr("TELEMETRY_ENABLED", "false")); err == nil {
		cfg.TelemetryEnabled = v
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
