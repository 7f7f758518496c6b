// Package config loads service configuration from the environment with an
// optional YAML deployment profile overlay. Validation runs once at
// startup and any violation is fatal.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Recognized environments.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// Config holds server configuration.
type Config struct {
	Environment string
	Port        string
	LogLevel    string

	// DatabaseURL selects the store: postgres://... or sqlite:....
	DatabaseURL string

	AdminKey       string
	NetworkID      string
	SignerSeed     string
	AllowedOrigins []string

	// RedisAddr enables the derived-state cache when set.
	RedisAddr string
	CacheTTL  time.Duration

	RebuildOnStart bool

	// OTLPEndpoint enables trace/metric export when set.
	OTLPEndpoint string

	// Per-source ingest rate limit.
	IngestRatePerSec float64
	IngestBurst      int
}

// Load reads configuration from environment variables, then overlays the
// profile named by PROVENANCE_PROFILE, if any.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:      envOr("PROVENANCE_ENV", EnvDevelopment),
		Port:             envOr("PORT", "8080"),
		LogLevel:         envOr("LOG_LEVEL", "INFO"),
		DatabaseURL:      envOr("DATABASE_URL", "sqlite:file:provenance.db?cache=shared"),
		AdminKey:         os.Getenv("ADMIN_KEY"),
		NetworkID:        os.Getenv("LEDGER_NETWORK_ID"),
		SignerSeed:       os.Getenv("SIGNER_SEED"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		OTLPEndpoint:     os.Getenv("OTLP_ENDPOINT"),
		CacheTTL:         30 * time.Second,
		IngestRatePerSec: 50,
		IngestBurst:      100,
	}

	if raw := os.Getenv("ALLOWED_ORIGINS"); raw != "" {
		for _, origin := range strings.Split(raw, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}
	if raw := os.Getenv("CACHE_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("config: CACHE_TTL %q: %w", raw, err)
		}
		cfg.CacheTTL = ttl
	}
	if raw := os.Getenv("INGEST_RATE_PER_SEC"); raw != "" {
		rate, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("config: INGEST_RATE_PER_SEC %q: %w", raw, err)
		}
		cfg.IngestRatePerSec = rate
	}
	if raw := os.Getenv("INGEST_BURST"); raw != "" {
		burst, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("config: INGEST_BURST %q: %w", raw, err)
		}
		cfg.IngestBurst = burst
	}
	cfg.RebuildOnStart = os.Getenv("REBUILD_ON_START") == "true"

	if path := os.Getenv("PROVENANCE_PROFILE"); path != "" {
		profile, err := LoadProfile(path)
		if err != nil {
			return nil, err
		}
		profile.Apply(cfg)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
