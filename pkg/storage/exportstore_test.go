package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportStoreSaveAndOpen(t *testing.T) {
	store, err := NewExportStore(t.TempDir())
	require.NoError(t, err)

	name, err := store.Save("tt-1", "abc12345", "csv", []byte("Day,Start\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("timetables", "tt-1-abc12345.csv"), name)

	file, err := store.Open(name)
	require.NoError(t, err)
	defer file.Close() //nolint:errcheck

	stat, err := file.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(len("Day,Start\n")), stat.Size())
}

func TestExportStoreSanitizesIDs(t *testing.T) {
	store, err := NewExportStore(t.TempDir())
	require.NoError(t, err)

	name, err := store.Save("../../etc", "id", "csv", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("timetables", "______etc-id.csv"), name)
}

func TestExportStoreOpenRefusesEscapingName(t *testing.T) {
	store, err := NewExportStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Open("../outside.txt")
	assert.Error(t, err)
	_, err = store.Open("/etc/passwd")
	assert.Error(t, err)
}

func TestExportStorePruneOlderThan(t *testing.T) {
	dir := t.TempDir()
	store, err := NewExportStore(dir)
	require.NoError(t, err)

	stale, err := store.Save("tt-1", "old", "csv", []byte("x"))
	require.NoError(t, err)
	fresh, err := store.Save("tt-1", "new", "csv", []byte("y"))
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, stale), past, past))

	pruned, err := store.PruneOlderThan(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{stale}, pruned)

	_, err = store.Open(fresh)
	assert.NoError(t, err)
	_, err = store.Open(stale)
	assert.Error(t, err)
}
