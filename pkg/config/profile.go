package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is a deployment-specific YAML overlay. Zero-valued fields leave
// the environment configuration untouched.
type Profile struct {
	Name           string   `yaml:"name"`
	NetworkID      string   `yaml:"network_id,omitempty"`
	LogLevel       string   `yaml:"log_level,omitempty"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
	RedisAddr      string   `yaml:"redis_addr,omitempty"`
	CacheTTL       string   `yaml:"cache_ttl,omitempty"`
	RebuildOnStart *bool    `yaml:"rebuild_on_start,omitempty"`

	IngestRatePerSec float64 `yaml:"ingest_rate_per_sec,omitempty"`
	IngestBurst      int     `yaml:"ingest_burst,omitempty"`
}

// LoadProfile reads and parses a profile YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load profile %q: %w", path, err)
	}
	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("config: parse profile %q: %w", path, err)
	}
	return &profile, nil
}

// Apply overlays the profile onto an environment-derived config.
func (p *Profile) Apply(cfg *Config) {
	if p.NetworkID != "" {
		cfg.NetworkID = p.NetworkID
	}
	if p.LogLevel != "" {
		cfg.LogLevel = p.LogLevel
	}
	if len(p.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = append([]string(nil), p.AllowedOrigins...)
	}
	if p.RedisAddr != "" {
		cfg.RedisAddr = p.RedisAddr
	}
	if p.CacheTTL != "" {
		if ttl, err := time.ParseDuration(p.CacheTTL); err == nil {
			cfg.CacheTTL = ttl
		}
	}
	if p.RebuildOnStart != nil {
		cfg.RebuildOnStart = *p.RebuildOnStart
	}
	if p.IngestRatePerSec > 0 {
		cfg.IngestRatePerSec = p.IngestRatePerSec
	}
	if p.IngestBurst > 0 {
		cfg.IngestBurst = p.IngestBurst
	}
}
