package idempotency

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type response struct {
	Artifact string `json:"artifact"`
	Version  int    `json:"version"`
}

func openInMemory(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPutGet(t *testing.T) {
	c := openInMemory(t)

	var got response
	found, err := c.Get("p1", "req-1", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Put("p1", "req-1", response{Artifact: "SRS.md", Version: 3}))

	found, err = c.Get("p1", "req-1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, response{Artifact: "SRS.md", Version: 3}, got)
}

func TestScopesAreIsolated(t *testing.T) {
	c := openInMemory(t)
	require.NoError(t, c.Put("p1", "req-1", response{Version: 1}))

	var got response
	found, err := c.Get("p2", "req-1", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDelete(t *testing.T) {
	c := openInMemory(t)
	require.NoError(t, c.Put("p1", "req-1", response{Version: 1}))
	require.NoError(t, c.Delete("p1", "req-1"))

	var got response
	found, err := c.Get("p1", "req-1", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPersistentReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	cfg := DefaultConfig(dir)
	cfg.GCInterval = 0

	c, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Put("p1", "req-9", response{Artifact: "SDD.md", Version: 2}))
	require.NoError(t, c.Close())

	c, err = Open(cfg)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	var got response
	found, err := c.Get("p1", "req-9", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, got.Version)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
