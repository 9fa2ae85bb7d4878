// Package config loads and persists the weft configuration. The file lives
// at ~/.weft/config.toml by default; every value can be overridden through
// WEFT_* environment variables.
package config

import (
	"os"
	"path/filepath"
)

// Config represents the core weft configuration.
type Config struct {
	Space  SpaceConfig  `mapstructure:"space" toml:"space"`
	Server ServerConfig `mapstructure:"server" toml:"server"`
	Sync   SyncConfig   `mapstructure:"sync" toml:"sync"`
	Log    LogConfig    `mapstructure:"log" toml:"log"`
}

// SpaceConfig points at the local space and identifies this peer.
type SpaceConfig struct {
	// Path is the space directory. Empty means no default space.
	Path string `mapstructure:"path" toml:"path"`

	// Peer is this installation's stable peer id. Generated once and
	// persisted; every op this instance writes is attributed to it.
	Peer string `mapstructure:"peer" toml:"peer"`
}

// ServerConfig configures the sync hub.
type ServerConfig struct {
	Port           int      `mapstructure:"port" toml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" toml:"allowed_origins"`
}

// SyncConfig configures outbound connections to remote hubs.
type SyncConfig struct {
	// Name is advertised to peers in logs and diagnostics (e.g. "laptop").
	Name string `mapstructure:"name" toml:"name"`

	// Hubs maps a label to a websocket URL (e.g. home = "ws://host:8470/ws").
	Hubs map[string]string `mapstructure:"hubs" toml:"hubs"`
}

// LogConfig configures log output.
type LogConfig struct {
	// JSON switches to structured machine-readable output.
	JSON bool `mapstructure:"json" toml:"json"`
}

// DefaultServerPort is the sync hub's default listen port.
const DefaultServerPort = 8470

// Dir returns the weft configuration directory, honoring WEFT_CONFIG_DIR
// for tests and unusual setups.
func Dir() (string, error) {
	if dir := os.Getenv("WEFT_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".weft"), nil
}

// FilePath returns the path of the config file.
func FilePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}
