// Package daemon manages the reelq daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tutu-network/reelq/internal/domain"
)

// Config holds all daemon configuration.
type Config struct {
	API         APIConfig         `toml:"api"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	Job         JobConfig         `toml:"job"`
	Provider    ProviderConfig    `toml:"provider"`
	Storage     StorageConfig     `toml:"storage"`
	Credentials CredentialsConfig `toml:"credentials"`
	Logging     LoggingConfig     `toml:"logging"`
	Telemetry   TelemetryConfig   `toml:"telemetry"`
	Workers     []WorkerConfig    `toml:"workers"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	RequireAuth bool     `toml:"require_auth"`
}

// SchedulerConfig controls the admission tick.
type SchedulerConfig struct {
	TickInterval     string `toml:"tick_interval"`
	ConcurrencyLimit int    `toml:"concurrency_limit"`
	MaxRetries       int    `toml:"max_retries"`
}

// JobConfig controls provider polling.
type JobConfig struct {
	PollInterval    string `toml:"poll_interval"`
	MaxPollAttempts int    `toml:"max_poll_attempts"`
}

// ProviderConfig selects the provider adapter.
type ProviderConfig struct {
	Kind            string `toml:"kind"` // "kie" or "mock"
	BaseURL         string `toml:"base_url"`
	Timeout         string `toml:"timeout"`
	DownloadTimeout string `toml:"download_timeout"`
}

// StorageConfig controls where results are written.
type StorageConfig struct {
	ArtifactsDir string `toml:"artifacts_dir"`
}

// CredentialsConfig points at an optional YAML credentials file.
type CredentialsConfig struct {
	File string `toml:"file"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json"
}

// TelemetryConfig controls metrics exposure.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// WorkerConfig declares one credential inline.
type WorkerConfig struct {
	ID     string `toml:"id"`
	Secret string `toml:"secret"`
	Label  string `toml:"label"`
}

// Provider kinds.
const (
	ProviderKie  = "kie"
	ProviderMock = "mock"
)

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	homeDir := reelqHome()
	return Config{
		API: APIConfig{
			Host:        "127.0.0.1",
			Port:        8787,
			CORSOrigins: []string{"*"},
			RequireAuth: true,
		},
		Scheduler: SchedulerConfig{
			TickInterval:     "1s",
			ConcurrencyLimit: domain.DefaultConcurrencyLimit,
			MaxRetries:       domain.MaxRetries,
		},
		Job: JobConfig{
			PollInterval:    "5s",
			MaxPollAttempts: 240,
		},
		Provider: ProviderConfig{
			Kind:            ProviderKie,
			BaseURL:         "https://api.kie.ai/api/v1",
			Timeout:         "60s",
			DownloadTimeout: "30m",
		},
		Storage: StorageConfig{
			ArtifactsDir: filepath.Join(homeDir, "artifacts"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	switch c.Provider.Kind {
	case ProviderKie, ProviderMock:
	default:
		return fmt.Errorf("provider.kind must be %q or %q, got %q", ProviderKie, ProviderMock, c.Provider.Kind)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}
	if c.Scheduler.ConcurrencyLimit <= 0 {
		return fmt.Errorf("scheduler.concurrency_limit must be positive")
	}
	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("scheduler.max_retries must not be negative")
	}
	seen := make(map[string]bool, len(c.Workers))
	for _, w := range c.Workers {
		id := strings.TrimSpace(w.ID)
		if id == "" {
			return fmt.Errorf("workers: id is required")
		}
		if seen[id] {
			return fmt.Errorf("workers: duplicate id %q", id)
		}
		seen[id] = true
	}
	return nil
}

// ConfigPath returns the location of config.toml.
func ConfigPath() string {
	return filepath.Join(reelqHome(), "config.toml")
}

// LoadConfig reads config from ~/.reelq/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	return loadConfigFile(ConfigPath())
}

func loadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet, use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to ~/.reelq/config.toml.
func SaveConfig(cfg Config) error {
	return saveConfigFile(ConfigPath(), cfg)
}

func saveConfigFile(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// reelqHome returns the reelq data directory.
func reelqHome() string {
	if env := os.Getenv("REELQ_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".reelq")
}

// ReelqHome is exported for use by other packages.
func ReelqHome() string {
	return reelqHome()
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
