package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omni-platform/cladc/pkg/models"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	in := []models.LearningEvent{
		{ID: "e1", Angel: "traffic-angel", Domain: "traffic", Timestamp: now},
		{ID: "e2", Angel: "energy-angel", Domain: "energy", Timestamp: now.Add(time.Second)},
	}
	require.NoError(t, store.Save(FileEvents, in))

	var out []models.LearningEvent
	require.True(t, store.Load(FileEvents, &out))
	require.Len(t, out, 2)
	assert.Equal(t, "e1", out[0].ID)
	assert.Equal(t, "traffic-angel", out[0].Angel)
	assert.True(t, out[1].Timestamp.Equal(now.Add(time.Second)))
}

func TestLoadMissingSnapshotReturnsFalse(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	var out map[string]models.Model
	assert.False(t, store.Load(FileRegistry, &out))
	assert.Nil(t, out)
}

func TestLoadCorruptSnapshotFallsBackToEmpty(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileAlerts), []byte("{not json"), 0o644))

	var out map[string]models.Alert
	assert.False(t, store.Load(FileAlerts, &out))
}

func TestSaveReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(FileRegistry, map[string]int{"a": 1}))
	require.NoError(t, store.Save(FileRegistry, map[string]int{"a": 2}))

	var out map[string]int
	require.True(t, store.Load(FileRegistry, &out))
	assert.Equal(t, 2, out["a"])

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, FileRegistry, entries[0].Name())
}

func TestNewStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	_, err := NewStore(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
