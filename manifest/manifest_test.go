package manifest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fnharness/devbridge/manifest"
)

func TestEmitterClearsDirOnlyOnFirstWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "manifests")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	stale := filepath.Join(dir, "stale.json")
	require.NoError(t, os.WriteFile(stale, []byte("{}"), 0o644))

	e := manifest.NewEmitter(dir)
	require.NoError(t, e.Write(true, "echo", manifest.Config{}))

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "first write must clear stale manifests (spec.md P6)")

	require.NoError(t, e.Write(false, "double", manifest.Config{}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		names = append(names, ent.Name())
	}
	assert.ElementsMatch(t, []string{"echo.json", "double.json"}, names)
}

func TestStoreLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	e := manifest.NewEmitter(dir)
	require.NoError(t, e.Write(true, "echo", manifest.Config{
		SessionConfig: map[string]any{"region": "local"},
	}))
	require.NoError(t, e.Write(false, "double", manifest.Config{}))

	s := manifest.NewStore(dir)
	require.NoError(t, s.Load())
	assert.Equal(t, 2, s.Size())

	pm, ok := s.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", pm.Name)
	assert.Equal(t, "local", pm.Config.SessionConfig["region"])

	_, ok = s.Get("ghost")
	assert.False(t, ok)
}

func TestStoreLoadMissingDirIsNotAnError(t *testing.T) {
	s := manifest.NewStore(filepath.Join(t.TempDir(), "never-created"))
	require.NoError(t, s.Load())
	assert.Equal(t, 0, s.Size())
}

func TestStoreLoadReplacesPreviousContents(t *testing.T) {
	dir := t.TempDir()
	e := manifest.NewEmitter(dir)
	require.NoError(t, e.Write(true, "echo", manifest.Config{}))

	s := manifest.NewStore(dir)
	require.NoError(t, s.Load())
	require.Equal(t, 1, s.Size())

	// A second process run clears and rewrites with a different function set.
	e2 := manifest.NewEmitter(dir)
	require.NoError(t, e2.Write(true, "double", manifest.Config{}))

	require.NoError(t, s.Load())
	assert.Equal(t, 1, s.Size())
	_, ok := s.Get("echo")
	assert.False(t, ok, "reload must replace, not merge with, previous contents")
	_, ok = s.Get("double")
	assert.True(t, ok)
}
