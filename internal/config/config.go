package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the portal client configuration, ~/.lingora/config.toml.
type Config struct {
	ViewerID   string   `toml:"viewer_id"`
	ViewerName string   `toml:"viewer_name"`
	Database   Database `toml:"database"`
	Feed       Feed     `toml:"feed"`
	Views      Views    `toml:"views"`
}

// Database configures the backing-store connection.
type Database struct {
	Path string `toml:"path"`
}

// Feed configures the change-notification transport.
type Feed struct {
	URL                     string `toml:"url"`
	HandshakeTimeoutSeconds int    `toml:"handshake_timeout_seconds"`
}

// Views lists the views the daemon keeps live: one message stream per
// cohort, plus the viewer's conversation list.
type Views struct {
	Cohorts       []string `toml:"cohorts"`
	Conversations bool     `toml:"conversations"`
	PageSize      int      `toml:"page_size"`
}

// Load reads config from the given path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = DBPath()
	}
	if cfg.Views.PageSize <= 0 {
		cfg.Views.PageSize = 50
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// BaseDir returns ~/.lingora.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".lingora")
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// DBPath returns the default backing-store database path.
func DBPath() string {
	return filepath.Join(BaseDir(), "portal.db")
}

// LogPath returns the daemon log file path.
func LogPath() string {
	return filepath.Join(BaseDir(), "logs", "portald.log")
}

// EnsureDirs creates the data directory tree with proper permissions.
func EnsureDirs() error {
	for _, d := range []string{BaseDir(), filepath.Join(BaseDir(), "logs")} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
