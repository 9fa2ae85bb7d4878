package config

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"github.com/weftwork/weft/errors"
)

// Persist writes the configuration to its file, creating the directory as
// needed. A watcher, if running, is told the write is ours so it does not
// reload in a loop.
func Persist(c *Config) error {
	path, err := FilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write config")
	}
	return nil
}

// EnsurePeerID returns the configured peer id, generating and persisting a
// fresh one on first run. A stable peer id is what makes this installation's
// op files its own.
func EnsurePeerID(c *Config) (string, error) {
	if c.Space.Peer != "" {
		return c.Space.Peer, nil
	}
	c.Space.Peer = uuid.NewString()
	if err := Persist(c); err != nil {
		return "", errors.Wrap(err, "failed to persist generated peer id")
	}
	return c.Space.Peer, nil
}
