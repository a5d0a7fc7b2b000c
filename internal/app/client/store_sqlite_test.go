package client

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "clinisync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_QueueAndPending(t *testing.T) {
	store := newTestStore(t)

	first := PendingOp{
		LocalID:   "p-1",
		Entity:    "patient",
		Action:    "create",
		Data:      json.RawMessage(`{"first_name":"Ana"}`),
		Timestamp: time.Now().Add(-2 * time.Minute),
	}
	second := PendingOp{
		LocalID:   "a-1",
		Entity:    "appointment",
		Action:    "create",
		Data:      json.RawMessage(`{"patient_id":"p-1"}`),
		Timestamp: time.Now().Add(-time.Minute),
	}

	require.NoError(t, store.Queue(first))
	require.NoError(t, store.Queue(second))

	ops, err := store.Pending(10)
	require.NoError(t, err)
	require.Len(t, ops, 2)

	// Recording order is preserved.
	assert.Equal(t, "p-1", ops[0].LocalID)
	assert.Equal(t, "a-1", ops[1].LocalID)
	assert.JSONEq(t, `{"first_name":"Ana"}`, string(ops[0].Data))
}

func TestSQLiteStore_MarkSynced(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"p-1", "p-2", "p-3"} {
		require.NoError(t, store.Queue(PendingOp{
			LocalID:   id,
			Entity:    "patient",
			Action:    "create",
			Data:      json.RawMessage(`{}`),
			Timestamp: time.Now(),
		}))
	}

	require.NoError(t, store.MarkSynced([]string{"p-1", "p-3"}))

	ops, err := store.Pending(10)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "p-2", ops[0].LocalID)

	count, err := store.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLiteStore_Mappings(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveMapping("patient", "p-1", "server-uuid-1"))

	serverID, err := store.Mapping("patient", "p-1")
	require.NoError(t, err)
	assert.Equal(t, "server-uuid-1", serverID)

	serverID, err = store.Mapping("patient", "p-unknown")
	require.NoError(t, err)
	assert.Empty(t, serverID)
}

func TestSQLiteStore_LastSync(t *testing.T) {
	store := newTestStore(t)

	last, err := store.LastSync()
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	checkpoint := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.SetLastSync(checkpoint))

	last, err = store.LastSync()
	require.NoError(t, err)
	assert.True(t, checkpoint.Equal(last))
}

func TestSQLiteStore_DeviceID_Persistent(t *testing.T) {
	store := newTestStore(t)

	id, err := store.DeviceID()
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	again, err := store.DeviceID()
	require.NoError(t, err)
	assert.Equal(t, id, again)
}
