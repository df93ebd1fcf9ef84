package job

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileStore(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "root")

	store, err := NewFileStore(root)
	require.NoError(t, err)
	assert.Equal(t, root, store.Root())

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = NewFileStore("")
	assert.Error(t, err)
}

func TestFileStore_CreateWritesDocument(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	key := Key{ModuleID: "extract-frames", JobID: "job1"}

	_, err = store.Create(ctx, key, map[string]any{"input_filename": "clip.mp4"})
	require.NoError(t, err)

	path := store.Path(key)
	assert.Equal(t, filepath.Join(store.Root(), "extract-frames", "job1", "meta.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "job1", doc["job_id"])
	assert.Equal(t, "extract-frames", doc["module_id"])
	assert.Equal(t, "pending", doc["status"])
	assert.Equal(t, 0.0, doc["progress"])
	assert.NotEmpty(t, doc["created_at"])
	assert.NotContains(t, doc, "result")
	assert.NotContains(t, doc, "error")
}

func TestFileStore_GetNotFound(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), Key{ModuleID: "extract-frames", JobID: "nope"})
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestFileStore_GetRejectsUnsafeKey(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), Key{ModuleID: "..", JobID: "meta"})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestFileStore_UpdateLifecycle(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	key := Key{ModuleID: "mp4-to-gif", JobID: "job2"}

	created, err := store.Create(ctx, key, nil)
	require.NoError(t, err)

	_, err = store.Update(ctx, key, ProgressPatch(30, "sampling"))
	require.NoError(t, err)

	rec, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Equal(t, 30.0, rec.Progress)
	assert.Equal(t, "sampling", rec.ProgressMessage)
	assert.True(t, created.CreatedAt.Equal(rec.CreatedAt), "created_at must not change")

	_, err = store.Update(ctx, key, SuccessPatch("done", map[string]any{"total_files": 1}))
	require.NoError(t, err)

	rec, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rec.Status)
	assert.Equal(t, 100.0, rec.Progress)
	assert.Equal(t, 1.0, rec.Result["total_files"])

	_, err = store.Update(ctx, key, ProgressPatch(50, "late"))
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestFileStore_CreateDuplicate(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	key := Key{ModuleID: "extract-frames", JobID: "dup"}

	_, err = store.Create(ctx, key, nil)
	require.NoError(t, err)
	_, err = store.Create(ctx, key, nil)
	assert.True(t, errors.Is(err, ErrJobExists))
}

func TestFileStore_ConcurrentReadersSeeWholeDocuments(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	key := Key{ModuleID: "extract-frames", JobID: "busy"}
	_, err = store.Create(ctx, key, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 50; i++ {
			_, _ = store.Update(ctx, key, ProgressPatch(float64(i), "step"))
		}
	}()

	for i := 0; i < 50; i++ {
		rec, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "busy", rec.JobID)
	}
	wg.Wait()
}
