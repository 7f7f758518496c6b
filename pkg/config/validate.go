package config

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	minAdminKeyLen     = 32
	minAdminKeyLenProd = 64
)

// Validate enforces the startup invariants. Callers treat any error as
// fatal; a half-configured ledger must not come up.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvProduction, EnvDevelopment, EnvTest:
	default:
		return fmt.Errorf("config: unknown environment %q", c.Environment)
	}

	if err := c.validateDatabaseURL(); err != nil {
		return err
	}

	minKey := minAdminKeyLen
	if c.Environment == EnvProduction {
		minKey = minAdminKeyLenProd
	}
	if len(c.AdminKey) < minKey {
		return fmt.Errorf("config: admin key must be at least %d characters in %s", minKey, c.Environment)
	}

	if c.NetworkID == "" {
		return fmt.Errorf("config: ledger network id is required")
	}
	if c.Environment == EnvProduction {
		lowered := strings.ToLower(c.NetworkID)
		if strings.Contains(lowered, "dev") || strings.Contains(lowered, "test") {
			return fmt.Errorf("config: network id %q is not a production namespace", c.NetworkID)
		}
	}

	if c.Environment != EnvTest && c.SignerSeed == "" {
		return fmt.Errorf("config: signer seed is required outside test environments")
	}

	for _, origin := range c.AllowedOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config: allowed origin %q is not an absolute URL", origin)
		}
	}

	if c.IngestRatePerSec <= 0 || c.IngestBurst <= 0 {
		return fmt.Errorf("config: ingest rate and burst must be positive")
	}
	return nil
}

func (c *Config) validateDatabaseURL() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: database url is required")
	}
	switch {
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		if c.Environment == EnvProduction {
			u, err := url.Parse(c.DatabaseURL)
			if err != nil {
				return fmt.Errorf("config: parse database url: %w", err)
			}
			mode := u.Query().Get("sslmode")
			switch mode {
			case "require", "verify-ca", "verify-full":
			default:
				return fmt.Errorf("config: production database must require TLS (sslmode=%q)", mode)
			}
		}
		return nil
	case strings.HasPrefix(c.DatabaseURL, "sqlite:"):
		if c.Environment == EnvProduction {
			return fmt.Errorf("config: sqlite is not a production store")
		}
		return nil
	default:
		return fmt.Errorf("config: unsupported database url %q", c.DatabaseURL)
	}
}

// IsPostgres reports whether the configured store is Postgres.
func (c *Config) IsPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") ||
		strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// SQLiteDSN strips the scheme prefix for the sqlite driver.
func (c *Config) SQLiteDSN() string {
	return strings.TrimPrefix(c.DatabaseURL, "sqlite:")
}
