// Package config loads and saves the sfplayer settings file
package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/james-see/sfplayer/pkg/output"
)

const appName = "sfplayer"

// OutputConfig selects the MIDI output backend
type OutputConfig struct {
	Backend string `json:"backend,omitempty"`
}

// Config is the main configuration structure
type Config struct {
	SoundFontPaths []string     `json:"soundFontPaths"`
	Output         OutputConfig `json:"output,omitempty"`
	HoldMillis     int          `json:"hold,omitempty"`
	LogLevel       string       `json:"logLevel,omitempty"`

	path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		SoundFontPaths: []string{},
		Output:         OutputConfig{Backend: output.BackendSynth},
		HoldMillis:     1000,
		LogLevel:       "info",
	}
}

// Dir returns the config directory path
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName), nil
}

// DefaultPath returns the full path to config.json
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config at path, or returns defaults if not found.
// An empty path means DefaultPath.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return DefaultConfig(), nil
		}
		path = p
	}

	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.SoundFontPaths == nil {
		cfg.SoundFontPaths = []string{}
	}
	return cfg, nil
}

// Path returns where the config is saved
func (c *Config) Path() string {
	return c.path
}

// Save writes the config to disk
func (c *Config) Save() error {
	if c.path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		c.path = p
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(c.path, data, 0644)
}

// Hold returns the note hold time
func (c *Config) Hold() time.Duration {
	if c.HoldMillis < 0 {
		return 0
	}
	return time.Duration(c.HoldMillis) * time.Millisecond
}
