package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/crewrun/pkg/core"
)

func newTestStore(t *testing.T) (*FileStore, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	return NewFileStore(t.TempDir(), WithLogger(logger)), &logs
}

func TestFileStore_SaveLoad(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	cp := &core.Checkpoint{
		JobID:          "job-1",
		CompletedTasks: []string{"A", "B"},
		TaskOutputs:    map[string]string{"A": "out-a", "B": "out-b"},
	}
	require.NoError(t, store.Save(ctx, cp))

	got, found, err := store.Load(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"A", "B"}, got.CompletedTasks)
	assert.Equal(t, "out-b", got.TaskOutputs["B"])
	assert.False(t, got.SavedAt.IsZero())
}

func TestFileStore_PersistedLayout(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &core.Checkpoint{JobID: "job-1", CompletedTasks: []string{"A"}, TaskOutputs: map[string]string{"A": "x"}}))

	data, err := os.ReadFile(filepath.Join(store.Dir("job-1"), "checkpoint.json"))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, []any{"A"}, doc["completed_tasks"])
	assert.Equal(t, map[string]any{"A": "x"}, doc["task_outputs"])
}

func TestFileStore_KeepsOneBackup(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, done := range [][]string{{"A"}, {"A", "B"}, {"A", "B", "C"}} {
		require.NoError(t, store.Save(ctx, &core.Checkpoint{JobID: "job-1", CompletedTasks: done}))
	}

	backup, err := readCheckpoint(filepath.Join(store.Dir("job-1"), "checkpoint.json.bak"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, backup.CompletedTasks)

	entries, err := os.ReadDir(store.Dir("job-1"))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files should be left behind")
}

func TestFileStore_LoadMissing(t *testing.T) {
	store, _ := newTestStore(t)

	cp, found, err := store.Load(context.Background(), "nope")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, cp)
}

func TestFileStore_LoadCorruptDegradesToNotFound(t *testing.T) {
	store, logs := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(store.Dir("job-1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir("job-1"), "checkpoint.json"), []byte("{not json"), 0o644))

	cp, found, err := store.Load(ctx, "job-1")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, cp)
	assert.Contains(t, logs.String(), "checkpoint unreadable")
}

func TestFileStore_LoadFallsBackToBackup(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &core.Checkpoint{JobID: "job-1", CompletedTasks: []string{"A"}}))
	require.NoError(t, store.Save(ctx, &core.Checkpoint{JobID: "job-1", CompletedTasks: []string{"A", "B"}}))

	// Simulate a crash between rotating the backup and committing the new file.
	require.NoError(t, os.Remove(filepath.Join(store.Dir("job-1"), "checkpoint.json")))

	cp, found, err := store.Load(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"A"}, cp.CompletedTasks)
}

func TestFileStore_LoadRejectsForeignCheckpoint(t *testing.T) {
	store, logs := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &core.Checkpoint{JobID: "job-2", CompletedTasks: []string{"A"}}))
	require.NoError(t, os.Rename(store.Dir("job-2"), store.Dir("job-1")))

	_, found, err := store.Load(ctx, "job-1")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Contains(t, logs.String(), "another job")
}

func TestFileStore_Clear(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &core.Checkpoint{JobID: "job-1", CompletedTasks: []string{"A"}}))
	require.NoError(t, store.Save(ctx, &core.Checkpoint{JobID: "job-1", CompletedTasks: []string{"A", "B"}}))
	require.NoError(t, store.Clear(ctx, "job-1"))

	_, found, err := store.Load(ctx, "job-1")
	assert.NoError(t, err)
	assert.False(t, found)

	// Clearing twice is fine.
	assert.NoError(t, store.Clear(ctx, "job-1"))
}

func TestFileStore_RejectsUnsafeJobID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	err := store.Save(ctx, &core.Checkpoint{JobID: "../escape"})
	assert.ErrorIs(t, err, core.ErrInvalidJobID)

	_, _, err = store.Load(ctx, "../escape")
	assert.ErrorIs(t, err, core.ErrInvalidJobID)
}

func TestFileStore_SaveHonoursCancelledContext(t *testing.T) {
	store, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Save(ctx, &core.Checkpoint{JobID: "job-1"})
	assert.ErrorIs(t, err, context.Canceled)
}
