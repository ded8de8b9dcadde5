// Package daemon manages the FocusQuest daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/focusquest/focusquest/internal/app/events"
	"github.com/focusquest/focusquest/internal/app/reward"
	"github.com/focusquest/focusquest/internal/domain"
	"github.com/focusquest/focusquest/internal/infra/scheduler"
)

// Config holds all daemon configuration.
type Config struct {
	API           APIConfig                 `toml:"api"`
	Storage       StorageConfig             `toml:"storage"`
	Engine        EngineConfig              `toml:"engine"`
	Events        EventsConfig              `toml:"events"`
	Notifications domain.NotificationPolicy `toml:"notifications"`
	Catalog       CatalogConfig             `toml:"catalog"`
	Health        HealthConfig              `toml:"health"`
	Logging       LoggingConfig             `toml:"logging"`
	Telemetry     TelemetryConfig           `toml:"telemetry"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	Feed bool   `toml:"feed"` // WebSocket live notifications
}

// StorageConfig controls the SQLite store.
type StorageConfig struct {
	Dir          string `toml:"dir"`
	StoreTimeout string `toml:"store_timeout"`
	CacheSize    int    `toml:"cache_size"`
}

// EngineConfig tunes the tick pipeline.
type EngineConfig struct {
	XPPerTick       int64  `toml:"xp_per_tick"`
	EventCheckEvery int    `toml:"event_check_every"`
	FlushInterval   string `toml:"flush_interval"`
	RetryBase       string `toml:"retry_base"`
	RetryMax        string `toml:"retry_max"`
}

// EventsConfig controls contextual event generation.
type EventsConfig struct {
	Interval   string  `toml:"interval"`
	Cooldown   string  `toml:"cooldown"`
	Chance     float64 `toml:"chance"`
	EpicChance float64 `toml:"epic_chance"`
	Seed       uint64  `toml:"seed"` // 0 seeds from the clock
}

// CatalogConfig points at a custom reward catalog. Empty uses the built-in one.
type CatalogConfig struct {
	Path string `toml:"path"`
}

// HealthConfig controls the periodic health checks.
type HealthConfig struct {
	Interval         string `toml:"interval"`
	MaxPendingWrites int    `toml:"max_pending_writes"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
	File   string `toml:"file"`   // empty logs to stderr
}

// TelemetryConfig controls metrics exposure.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	homeDir := focusQuestHome()
	ev := events.DefaultConfig()
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 7717,
			Feed: true,
		},
		Storage: StorageConfig{
			Dir:          homeDir,
			StoreTimeout: "250ms",
			CacheSize:    1024,
		},
		Engine: EngineConfig{
			XPPerTick:       1,
			EventCheckEvery: 10,
			FlushInterval:   "5s",
			RetryBase:       "1s",
			RetryMax:        "1m",
		},
		Events: EventsConfig{
			Interval:   ev.Interval.String(),
			Cooldown:   ev.Cooldown.String(),
			Chance:     ev.Chance,
			EpicChance: ev.EpicChance,
		},
		Notifications: domain.DefaultNotificationPolicy(),
		Health: HealthConfig{
			Interval:         "1m",
			MaxPendingWrites: 100,
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

// LoadConfig reads config from $FOCUSQUEST_HOME/config.toml, falling back
// to defaults.
func LoadConfig() (Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile reads config from path over the defaults. A missing file
// yields the defaults.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet, use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to path.
func SaveConfig(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// EngineOptions converts the config into reward engine options.
func (c Config) EngineOptions() reward.Options {
	def := reward.DefaultOptions()
	return reward.Options{
		XPPerTick:       c.Engine.XPPerTick,
		EventCheckEvery: c.Engine.EventCheckEvery,
		FlushInterval:   parseDuration(c.Engine.FlushInterval, def.FlushInterval),
		StoreTimeout:    parseDuration(c.Storage.StoreTimeout, def.StoreTimeout),
		CacheSize:       c.Storage.CacheSize,
		Retry: scheduler.RetryConfig{
			BaseDelay: parseDuration(c.Engine.RetryBase, def.Retry.BaseDelay),
			MaxDelay:  parseDuration(c.Engine.RetryMax, def.Retry.MaxDelay),
		},
		Events: events.Config{
			Interval:   parseDuration(c.Events.Interval, def.Events.Interval),
			Cooldown:   parseDuration(c.Events.Cooldown, def.Events.Cooldown),
			Chance:     c.Events.Chance,
			EpicChance: c.Events.EpicChance,
			Seed:       c.Events.Seed,
		},
	}
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	return filepath.Join(focusQuestHome(), "config.toml")
}

// focusQuestHome returns the FocusQuest data directory.
func focusQuestHome() string {
	if env := os.Getenv("FOCUSQUEST_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".focusquest")
}

// Home is exported for use by other packages.
func Home() string {
	return focusQuestHome()
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
