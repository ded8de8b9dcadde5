package cli

import (
	"github.com/focusquest/focusquest/internal/daemon"
)

// loadConfig reads --config, or the default config file.
func loadConfig() (daemon.Config, error) {
	if configPath != "" {
		return daemon.LoadConfigFile(configPath)
	}
	return daemon.LoadConfig()
}

// openLocal wires a daemon for one-shot commands. Only warnings reach the
// terminal so command output stays readable.
func openLocal() (*daemon.Daemon, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.Logging.Level = "warn"
	cfg.API.Feed = false
	return daemon.NewWithConfig(cfg)
}
