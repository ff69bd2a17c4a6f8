// Package config loads and validates the HealthBridge daemon configuration
// from YAML, with sane defaults for every omitted field.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/healthbridge/types"
)

// Config is the complete daemon configuration.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	NATS      NATSConfig      `yaml:"nats"`
	Cache     CacheConfig     `yaml:"cache"`
	Manager   ManagerConfig   `yaml:"manager"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Sync      SyncConfig      `yaml:"sync"`
	Providers ProvidersConfig `yaml:"providers"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// NATSConfig controls the optional NATS connection. When disabled, the
// durable cache tier, escalation events, and sync uploads fall back to
// in-process implementations.
type NATSConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Bucket        string        `yaml:"bucket"` // JetStream KV bucket for the durable tier
}

// CacheConfig controls the two-tier data cache.
type CacheConfig struct {
	MaxEntries      int           `yaml:"max_entries"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// ManagerConfig controls the provider orchestrator.
type ManagerConfig struct {
	ResponseTTL   time.Duration `yaml:"response_ttl"`   // 0 = device-tier default
	PermissionTTL time.Duration `yaml:"permission_ttl"`
	StaleMaxAge   time.Duration `yaml:"stale_max_age"`
}

// MonitorConfig controls the real-time monitor.
type MonitorConfig struct {
	PollInterval time.Duration     `yaml:"poll_interval"`
	BufferCap    int               `yaml:"buffer_cap"`
	HistoryCap   int               `yaml:"history_cap"`
	Thresholds   []types.Threshold `yaml:"thresholds"` // empty = built-in defaults
}

// SyncConfig controls the background sync scheduler.
type SyncConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BaseInterval time.Duration `yaml:"base_interval"`
	MinInterval  time.Duration `yaml:"min_interval"`
	MaxInterval  time.Duration `yaml:"max_interval"`
}

// ProvidersConfig selects which platform providers are registered.
type ProvidersConfig struct {
	HealthKit     bool `yaml:"healthkit"`
	HealthConnect bool `yaml:"healthconnect"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://localhost:4222",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Bucket:        "healthbridge-cache",
		},
		Cache: CacheConfig{
			MaxEntries:      200,
			CleanupInterval: 5 * time.Minute,
		},
		Manager: ManagerConfig{
			PermissionTTL: 15 * time.Minute,
			StaleMaxAge:   time.Hour,
		},
		Monitor: MonitorConfig{
			PollInterval: 30 * time.Second,
			BufferCap:    1000,
			HistoryCap:   100,
		},
		Sync: SyncConfig{
			Enabled:      true,
			BaseInterval: 15 * time.Minute,
			MinInterval:  5 * time.Minute,
			MaxInterval:  2 * time.Hour,
		},
		Providers: ProvidersConfig{
			HealthKit:     true,
			HealthConnect: true,
		},
	}
}

// Load reads path, overlays it on the defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown logging format %q", c.Logging.Format)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("config: nats enabled without a url")
	}
	if c.NATS.Enabled && c.NATS.Bucket == "" {
		return fmt.Errorf("config: nats enabled without a kv bucket")
	}

	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("config: cache max_entries must be positive")
	}
	if c.Cache.CleanupInterval <= 0 {
		return fmt.Errorf("config: cache cleanup_interval must be positive")
	}

	if c.Manager.PermissionTTL <= 0 {
		return fmt.Errorf("config: manager permission_ttl must be positive")
	}
	if c.Manager.StaleMaxAge <= 0 {
		return fmt.Errorf("config: manager stale_max_age must be positive")
	}

	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("config: monitor poll_interval must be positive")
	}
	for _, th := range c.Monitor.Thresholds {
		if !th.Type.Valid() {
			return fmt.Errorf("config: unknown threshold data type %q", th.Type)
		}
		if th.Min != nil && th.Max != nil && *th.Min >= *th.Max {
			return fmt.Errorf("config: threshold %s min %.1f >= max %.1f", th.Type, *th.Min, *th.Max)
		}
	}

	if c.Sync.Enabled {
		if c.Sync.MinInterval <= 0 || c.Sync.BaseInterval <= 0 || c.Sync.MaxInterval <= 0 {
			return fmt.Errorf("config: sync intervals must be positive")
		}
		if c.Sync.MinInterval > c.Sync.MaxInterval {
			return fmt.Errorf("config: sync min_interval exceeds max_interval")
		}
	}

	if !c.Providers.HealthKit && !c.Providers.HealthConnect {
		return fmt.Errorf("config: at least one provider must be enabled")
	}
	return nil
}
