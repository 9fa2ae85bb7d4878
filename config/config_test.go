package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[space]
path = "/data/my-space"
peer = "peer-123"

[server]
port = 9000

[sync]
name = "laptop"

[sync.hubs]
home = "ws://home.local:8470/ws"

[log]
json = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/my-space", c.Space.Path)
	assert.Equal(t, "peer-123", c.Space.Peer)
	assert.Equal(t, 9000, c.Server.Port)
	assert.Equal(t, "laptop", c.Sync.Name)
	assert.Equal(t, "ws://home.local:8470/ws", c.Sync.Hubs["home"])
	assert.True(t, c.Log.JSON)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("WEFT_CONFIG_DIR", t.TempDir())
	Reset()
	t.Cleanup(Reset)

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultServerPort, c.Server.Port)
	assert.Empty(t, c.Space.Path)
	assert.False(t, c.Log.JSON)
}

func TestPersistRoundTrip(t *testing.T) {
	t.Setenv("WEFT_CONFIG_DIR", t.TempDir())
	Reset()
	t.Cleanup(Reset)

	c := &Config{}
	c.Space.Path = "/spaces/main"
	c.Server.Port = 8888
	require.NoError(t, Persist(c))

	path, err := FilePath()
	require.NoError(t, err)
	got, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/spaces/main", got.Space.Path)
	assert.Equal(t, 8888, got.Server.Port)
}

func TestEnsurePeerIDGeneratesOnce(t *testing.T) {
	t.Setenv("WEFT_CONFIG_DIR", t.TempDir())
	Reset()
	t.Cleanup(Reset)

	c := &Config{}
	peer, err := EnsurePeerID(c)
	require.NoError(t, err)
	require.NotEmpty(t, peer)

	again, err := EnsurePeerID(c)
	require.NoError(t, err)
	assert.Equal(t, peer, again)

	// The generated id survived in the persisted file.
	path, err := FilePath()
	require.NoError(t, err)
	got, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, peer, got.Space.Peer)
}
