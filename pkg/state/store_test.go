package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hutchlabs/hutch/pkg/types"
)

// TestOpenMissingFile tests that a fresh path yields an empty table
func TestOpenMissingFile(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	assert.Empty(t, store.List())
}

// TestGetMissingID tests that an unrecorded id reports unknown state
func TestGetMissingID(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	rec := store.Get("nope")
	assert.Equal(t, "nope", rec.VolumeID)
	assert.Equal(t, types.StateUnknown, rec.State)
	assert.Empty(t, rec.ContainerID)
}

// TestSetPersistsAcrossReopen tests the round trip through the file
func TestSetPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Set("w1", types.StateReady, "w1-abc"))
	require.NoError(t, store.Set("w2", types.StateFailed, ""))

	reopened, err := Open(path)
	require.NoError(t, err)

	rec := reopened.Get("w1")
	assert.Equal(t, types.StateReady, rec.State)
	assert.Equal(t, "w1-abc", rec.ContainerID)

	rec = reopened.Get("w2")
	assert.Equal(t, types.StateFailed, rec.State)
	assert.Empty(t, rec.ContainerID)
}

// TestDeleteIsIdempotent tests that deleting twice never errors
func TestDeleteIsIdempotent(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	require.NoError(t, store.Set("w1", types.StateReady, "w1-abc"))
	require.NoError(t, store.Delete("w1"))
	require.NoError(t, store.Delete("w1"))
	assert.Equal(t, types.StateUnknown, store.Get("w1").State)
}

// TestCorruptFileYieldsEmptyTable tests crash-recovery tolerance at open
func TestCorruptFileYieldsEmptyTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, store.List())
}

// TestFileIsAlwaysParseable tests that every mutation leaves valid JSON on
// disk: the write goes to a temp file and renames into place, so a reader
// never sees a torn table.
func TestFileIsAlwaysParseable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := Open(path)
	require.NoError(t, err)

	for i, st := range []types.WorkloadState{types.StateInstalling, types.StateReady, types.StateFailed} {
		require.NoError(t, store.Set("w1", st, ""))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &raw), "iteration %d", i)
	}

	// No temp file left behind after a successful write.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

// TestStaleTempFileIsIgnored tests that a temp file abandoned by a crash
// does not shadow the real table
func TestStaleTempFileIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Set("w1", types.StateReady, "w1-abc"))

	// Simulate a crash that left a partial temp file behind.
	require.NoError(t, os.WriteFile(path+".tmp", []byte(`{"w1":{"state":"fail`), 0o600))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, types.StateReady, reopened.Get("w1").State)
}
