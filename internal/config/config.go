// Package config loads the service's on-disk TOML configuration, mirroring
// the teacher's internal/config package shape: grouped sub-structs, a pure
// DefaultConfig, and a Validate pass before anything is wired up.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level service configuration.
type Config struct {
	Catalog CatalogConfig `toml:"catalog"`
	Cache   CacheConfig   `toml:"cache"`
	Vector  VectorConfig  `toml:"vector"`
	LLM     LLMConfig     `toml:"llm"`
	Server  ServerConfig  `toml:"server"`
}

// CatalogConfig configures the SQLite-backed card catalog (spec.md §4.1),
// lifted from the teacher's storage.Config fields of the same names.
type CatalogConfig struct {
	Path            string `toml:"path"`
	BusyTimeout     string `toml:"busy_timeout"`
	JournalMode     string `toml:"journal_mode"`
	Synchronous     string `toml:"synchronous"`
	MaxOpenConns    int    `toml:"max_open_conns"`
	MaxIdleConns    int    `toml:"max_idle_conns"`
	ConnMaxLifetime string `toml:"conn_max_lifetime"`
	AutoMigrate     bool   `toml:"auto_migrate"`
}

// CacheConfig configures the three-tier L1/L2/L3 cache (spec.md §4.2).
type CacheConfig struct {
	HotCapacity        int `toml:"hot_capacity"`
	WarmCapacity       int `toml:"warm_capacity"`
	ColdCapacity       int `toml:"cold_capacity"`
	PromotionThreshold int `toml:"promotion_threshold"`
}

// VectorConfig configures the embedding index (spec.md §4.3). ProviderURL
// is reserved for a future pluggable embedding provider; the built-in
// generator is deterministic and local, and ignores it today. Dimension is
// validated but not read by the index, whose width is fixed by
// vectorindex.Dimensions.
type VectorConfig struct {
	Dimension   int    `toml:"dimension"`
	ProviderURL string `toml:"provider_url"`
}

// LLMConfig configures the Ollama-style structured-output provider
// (spec.md §4.8-§4.9, §4.11).
type LLMConfig struct {
	Provider          string  `toml:"provider"` // "ollama" is the only built-in today
	Model             string  `toml:"model"`
	BaseURL           string  `toml:"base_url"`
	RequestTimeout    string  `toml:"request_timeout"`
	InferenceTimeout  string  `toml:"inference_timeout"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	MaxInFlight       int     `toml:"max_in_flight"`
	APIKeyEnv         string  `toml:"api_key_env"` // name of the env var holding the API key, if any
}

// ServerConfig configures the HTTP surface (spec.md §6). OpenBrowser is
// retained from the teacher's desktop-launch convenience flag though this
// service is headless; nothing in this repository reads it.
type ServerConfig struct {
	Port        int  `toml:"port"`
	OpenBrowser bool `toml:"open_browser"`
}

// DefaultConfig returns the default configuration, a pure function with no
// I/O, matching the teacher's config.DefaultConfig.
func DefaultConfig() *Config {
	return &Config{
		Catalog: CatalogConfig{
			Path:            "deckforge.db",
			BusyTimeout:     "5s",
			JournalMode:     "WAL",
			Synchronous:     "NORMAL",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: "5m",
			AutoMigrate:     true,
		},
		Cache: CacheConfig{
			HotCapacity:        200,
			WarmCapacity:       1000,
			ColdCapacity:       10000,
			PromotionThreshold: 5,
		},
		Vector: VectorConfig{
			Dimension:   64,
			ProviderURL: "",
		},
		LLM: LLMConfig{
			Provider:          "ollama",
			Model:             "qwen3:8b",
			BaseURL:           "http://localhost:11434",
			RequestTimeout:    "10s",
			InferenceTimeout:  "60s",
			RequestsPerSecond: 5,
			MaxInFlight:       4,
			APIKeyEnv:         "LLM_API_KEY",
		},
		Server: ServerConfig{
			Port:        8080,
			OpenBrowser: false,
		},
	}
}

// configPath returns the default on-disk config file location, mirroring
// the teacher's $HOME/.<app>/config.toml convention.
func configPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".deckforge")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}

	return filepath.Join(configDir, "config.toml"), nil
}

// Load reads the configuration from disk, returning defaults if no file
// exists yet.
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the configuration from an explicit path, returning
// defaults if the file does not exist.
func LoadFrom(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return config, nil
}

// Save writes the configuration to the default on-disk location.
func (c *Config) Save() error {
	path, err := configPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the configuration to an explicit path.
func (c *Config) SaveTo(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks that every duration-like field parses and that numeric
// fields fall within sane bounds.
func (c *Config) Validate() error {
	durations := map[string]string{
		"catalog.busy_timeout":      c.Catalog.BusyTimeout,
		"catalog.conn_max_lifetime": c.Catalog.ConnMaxLifetime,
		"llm.request_timeout":       c.LLM.RequestTimeout,
		"llm.inference_timeout":     c.LLM.InferenceTimeout,
	}
	for field, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", field, value, err)
		}
	}

	if c.Cache.HotCapacity < 0 || c.Cache.WarmCapacity < 0 || c.Cache.ColdCapacity < 0 {
		return fmt.Errorf("cache capacities cannot be negative")
	}
	if c.Cache.PromotionThreshold < 0 {
		return fmt.Errorf("cache promotion threshold cannot be negative")
	}
	if c.Vector.Dimension <= 0 {
		return fmt.Errorf("vector dimension must be positive, got %d", c.Vector.Dimension)
	}
	if c.LLM.MaxInFlight < 0 {
		return fmt.Errorf("llm max in flight cannot be negative")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	return nil
}

// CatalogBusyTimeout returns the catalog busy timeout as a duration.
func (c *Config) CatalogBusyTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Catalog.BusyTimeout)
}

// CatalogConnMaxLifetime returns the catalog connection max lifetime as a duration.
func (c *Config) CatalogConnMaxLifetime() (time.Duration, error) {
	return time.ParseDuration(c.Catalog.ConnMaxLifetime)
}

// LLMRequestTimeout returns the LLM HTTP request timeout as a duration.
func (c *Config) LLMRequestTimeout() (time.Duration, error) {
	return time.ParseDuration(c.LLM.RequestTimeout)
}

// LLMInferenceTimeout returns the LLM inference timeout as a duration.
func (c *Config) LLMInferenceTimeout() (time.Duration, error) {
	return time.ParseDuration(c.LLM.InferenceTimeout)
}

// LLMAPIKey reads the API key from the environment variable named by
// APIKeyEnv, matching spec.md §6's "Environment" contract. Returns "" if
// APIKeyEnv is unset or the variable is not present — the caller decides
// whether an empty key is fatal (e.g. a local Ollama provider needs none).
func (c *Config) LLMAPIKey() string {
	if c.LLM.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.LLM.APIKeyEnv)
}
