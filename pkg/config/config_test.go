package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig() *Config {
	return &Config{
		Environment:      EnvDevelopment,
		Port:             "8080",
		LogLevel:         "INFO",
		DatabaseURL:      "postgres://prvn@localhost:5432/prvn?sslmode=disable",
		AdminKey:         "0123456789abcdef0123456789abcdef",
		NetworkID:        "veristone-dev",
		SignerSeed:       "dev-seed",
		CacheTTL:         30 * time.Second,
		IngestRatePerSec: 50,
		IngestBurst:      100,
	}
}

func prodConfig() *Config {
	cfg := baseConfig()
	cfg.Environment = EnvProduction
	cfg.DatabaseURL = "postgres://prvn@db.internal:5432/prvn?sslmode=verify-full"
	cfg.AdminKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	cfg.NetworkID = "veristone-mainnet"
	return cfg
}

func TestValidateAcceptsDevelopmentDefaults(t *testing.T) {
	assert.NoError(t, baseConfig().Validate())
}

func TestValidateAcceptsProduction(t *testing.T) {
	assert.NoError(t, prodConfig().Validate())
}

func TestValidateProductionRequiresTLS(t *testing.T) {
	cfg := prodConfig()
	cfg.DatabaseURL = "postgres://prvn@db.internal:5432/prvn?sslmode=disable"
	assert.Error(t, cfg.Validate())

	cfg.DatabaseURL = "postgres://prvn@db.internal:5432/prvn"
	assert.Error(t, cfg.Validate())
}

func TestValidateProductionRejectsSQLite(t *testing.T) {
	cfg := prodConfig()
	cfg.DatabaseURL = "sqlite:file:prod.db"
	assert.Error(t, cfg.Validate())
}

func TestValidateAdminKeyLength(t *testing.T) {
	cfg := baseConfig()
	cfg.AdminKey = "too-short"
	assert.Error(t, cfg.Validate())

	// 32 chars is enough in development but not in production.
	cfg = prodConfig()
	cfg.AdminKey = "0123456789abcdef0123456789abcdef"
	assert.Error(t, cfg.Validate())
}

func TestValidateProductionNetworkIDNaming(t *testing.T) {
	for _, id := range []string{"veristone-dev", "testnet-1", "DEV-main"} {
		cfg := prodConfig()
		cfg.NetworkID = id
		assert.Error(t, cfg.Validate(), "network id %q", id)
	}
}

func TestValidateSignerSeedRequiredOutsideTest(t *testing.T) {
	cfg := baseConfig()
	cfg.SignerSeed = ""
	assert.Error(t, cfg.Validate())

	cfg.Environment = EnvTest
	assert.NoError(t, cfg.Validate())
}

func TestValidateAllowedOrigins(t *testing.T) {
	cfg := baseConfig()
	cfg.AllowedOrigins = []string{"https://app.veristone.io"}
	assert.NoError(t, cfg.Validate())

	cfg.AllowedOrigins = []string{"not a url"}
	assert.Error(t, cfg.Validate())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PROVENANCE_ENV", EnvTest)
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "sqlite:file:test.db")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("CACHE_TTL", "2m")
	t.Setenv("REBUILD_ON_START", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "file:test.db", cfg.SQLiteDSN())
	assert.False(t, cfg.IsPostgres())
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL)
	assert.True(t, cfg.RebuildOnStart)
}

func TestLoadAppliesProfileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile_staging.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: staging
network_id: veristone-staging
log_level: DEBUG
cache_ttl: 45s
ingest_rate_per_sec: 10
`), 0o600))

	t.Setenv("PROVENANCE_PROFILE", path)
	t.Setenv("LEDGER_NETWORK_ID", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "veristone-staging", cfg.NetworkID)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, 45*time.Second, cfg.CacheTTL)
	assert.Equal(t, 10.0, cfg.IngestRatePerSec)
	// Fields the profile omits keep their env-derived values.
	assert.Equal(t, "8080", cfg.Port)
}

func TestLoadRejectsMalformedProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile_bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o600))
	t.Setenv("PROVENANCE_PROFILE", path)

	_, err := Load()
	assert.Error(t, err)
}
