package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General GeneralConfig `toml:"general"`
	Web     WebConfig     `toml:"web"`
	Events  EventsConfig  `toml:"events"`
	Sweep   SweepConfig   `toml:"sweep"`
	Bus     BusConfig     `toml:"bus"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	Projects     []string `toml:"projects"`
	DatabasePath string   `toml:"database_path"`
}

// WebConfig holds web server settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// EventsConfig holds event store settings
type EventsConfig struct {
	MaxIndexEntries int    `toml:"max_index_entries"`
	CacheTTL        string `toml:"cache_ttl"`
}

// SweepConfig holds scheduled recovery sweep settings
type SweepConfig struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"`
}

// BusConfig holds event fan-out settings
type BusConfig struct {
	Batch           bool `toml:"batch"`
	FlushIntervalMS int  `toml:"flush_interval_ms"`
	MaxQueue        int  `toml:"max_queue"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DatabasePath: filepath.Join(home, ".automaker", "reports.db"),
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Events: EventsConfig{
			MaxIndexEntries: 1000,
			CacheTTL:        "2s",
		},
		Sweep: SweepConfig{
			Enabled: false,
			Cron:    "0 * * * *",
		},
		Bus: BusConfig{
			Batch:           false,
			FlushIntervalMS: 100,
			MaxQueue:        256,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	for i, project := range cfg.General.Projects {
		cfg.General.Projects[i] = ExpandPath(project)
	}

	return cfg, nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "automaker", "config.toml")
}
