// Package config handles configuration loading from TOML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/corewright/agentcore/internal/indexer"
)

// Config is the root configuration structure.
type Config struct {
	DefaultProvider string                    `toml:"default_provider"`
	Providers       map[string]ProviderConfig `toml:"providers"`
	MCP             MCPConfig                 `toml:"mcp"`
	Cache           CacheConfig               `toml:"cache"`
	Indexer         IndexerConfig             `toml:"indexer"`
}

// IndexerConfig holds the [indexer] table (spec §4.8-§4.13, realized as
// SPEC_FULL.md §6's [indexer]/[indexer.scoring]/[indexer.limits]/
// [indexer.languages] tables).
type IndexerConfig struct {
	Enabled             bool                    `toml:"enabled"`
	DebounceMs          int                     `toml:"debounce_ms"`
	PersistIntervalSecs int                     `toml:"persist_interval_secs"`
	BatchSize           int                     `toml:"batch_size"`
	IgnorePatterns      []string                `toml:"ignore_patterns"`
	Extensions          []string                `toml:"extensions"`
	Scoring             indexer.ScoringConfig   `toml:"scoring"`
	Limits              IndexerLimitsConfig     `toml:"limits"`
	Languages           map[string]bool         `toml:"languages"`
}

// IndexerLimitsConfig holds the [indexer.limits] table.
type IndexerLimitsConfig struct {
	MaxFiles            int     `toml:"max_files"`
	MaxBytes            int64   `toml:"max_bytes"`
	DecayHalfLifeHours  float64 `toml:"decay_half_life_hours"`
	MaxFileSize         int64   `toml:"max_file_size"`
	MaxIndexedFiles     int     `toml:"max_indexed_files"`
}

// DefaultIndexerConfig mirrors SPEC_FULL.md §6's [indexer] defaults.
func DefaultIndexerConfig() IndexerConfig {
	return IndexerConfig{
		Enabled:             true,
		DebounceMs:          500,
		PersistIntervalSecs: 60,
		BatchSize:           100,
		Scoring:             indexer.DefaultScoringConfig(),
		Limits: IndexerLimitsConfig{
			MaxFiles:           50000,
			MaxBytes:           536870912,
			DecayHalfLifeHours: 24.0,
			MaxFileSize:        1048576,
			MaxIndexedFiles:    50000,
		},
		Languages: map[string]bool{"go": true},
	}
}

// CacheConfig holds web cache settings.
type CacheConfig struct {
	TTLHours int `toml:"ttl_hours"`
}

// CacheTTLOrDefault returns the configured TTL or 24 hours if unset.
func (c CacheConfig) CacheTTLOrDefault() int {
	if c.TTLHours <= 0 {
		return 24
	}
	return c.TTLHours
}

// ProviderConfig holds LLM provider settings.
type ProviderConfig struct {
	Endpoint    string  `toml:"endpoint"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
}

// MCPConfig holds MCP proxy settings.
type MCPConfig struct {
	Upstream string `toml:"upstream"`
}

// Load reads configuration from a TOML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Providers: make(map[string]ProviderConfig),
	}

	// Config file is required
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	// File must exist
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Load from file
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("providers: at least one provider must be configured"))
	} else {
		for name, providerCfg := range c.Providers {
			errs = append(errs, validateProviderConfig(name, providerCfg)...)
		}
	}

	// Validate default provider if specified
	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("default_provider=%q does not exist in providers", c.DefaultProvider))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func validateProviderConfig(name string, cfg ProviderConfig) []error {
	var errs []error
	if cfg.Endpoint == "" {
		errs = append(errs, fmt.Errorf("providers.%s.endpoint is required", name))
	} else if err := validateEndpoint(cfg.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("providers.%s.endpoint=%q is invalid: %v", name, cfg.Endpoint, err))
	}

	if cfg.Model == "" {
		errs = append(errs, fmt.Errorf("providers.%s.model is required", name))
	}

	if cfg.Temperature < 0.0 || cfg.Temperature > 2.0 {
		errs = append(errs, fmt.Errorf("providers.%s.temperature=%v must be between 0.0 and 2.0", name, cfg.Temperature))
	}

	return errs
}

func validateEndpoint(value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("missing scheme or host")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	for _, setter := range []struct {
		env   string
		apply func(string)
	}{
		{"AGENTCORE_MCP_ENDPOINT", func(v string) {
			if v != "" {
				cfg.MCP.Upstream = v
			}
		}},
	} {
		setter.apply(os.Getenv(setter.env))
	}
}

// IndexerOrDefault returns c.Indexer, falling back to
// DefaultIndexerConfig when the config file carries no [indexer] table
// at all.
func (c Config) IndexerOrDefault() IndexerConfig {
	if c.Indexer.DebounceMs == 0 && c.Indexer.BatchSize == 0 {
		return DefaultIndexerConfig()
	}
	return c.Indexer
}

// DataDir returns the path to the agentcore data directory (~/.config/agentcore).
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "agentcore"), nil
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}
	return dir, nil
}
