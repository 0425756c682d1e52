package unwind

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, sampleSnapshot("txn-1")))

	snap, err := store.Load(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, "txn-1", snap.ID)
	assert.Equal(t, StateExecuting, snap.State)
	assert.Equal(t, []string{"A", "B"}, snap.ExecutedSteps)
	assert.JSONEq(t, `{"order_id":"order-123"}`, string(snap.Context))
}

func TestFileStoreLoadMissing(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSagaNotFound)
}

func TestFileStoreListIgnoresForeignFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, sampleSnapshot("txn-b")))
	require.NoError(t, store.Save(ctx, sampleSnapshot("txn-a")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0644))

	snaps, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "txn-a", snaps[0].ID)
	assert.Equal(t, "txn-b", snaps[1].ID)
}

func TestFileStoreSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	snap := sampleSnapshot("txn-1")
	require.NoError(t, store.Save(ctx, snap))
	snap.State = StateCompensated
	require.NoError(t, store.Save(ctx, snap))

	loaded, err := store.Load(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, StateCompensated, loaded.State)
}

func TestFileStoreDeleteTolerant(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, sampleSnapshot("txn-1")))
	require.NoError(t, store.Delete(ctx, "txn-1"))
	_, err = store.Load(ctx, "txn-1")
	assert.ErrorIs(t, err, ErrSagaNotFound)

	// Deleting a snapshot that is already gone is not an error.
	assert.NoError(t, store.Delete(ctx, "txn-1"))
}

func TestFileStoreSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, sampleSnapshot("txn-1")))

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	snap, err := reopened.Load(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, "txn-1", snap.ID)
}
