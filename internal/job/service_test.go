package job

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// tempDirs allocates job directories under a test root.
type tempDirs struct {
	root string
}

func (d tempDirs) JobDir(moduleID, jobID string) (string, error) {
	dir := filepath.Join(d.root, moduleID, jobID)
	return dir, os.MkdirAll(dir, 0750)
}

// recordingStore wraps a Store and remembers every progress value written.
type recordingStore struct {
	Store

	mu       sync.Mutex
	progress []float64
	statuses []Status
}

func (s *recordingStore) Update(ctx context.Context, key Key, p Patch) (*Record, error) {
	rec, err := s.Store.Update(ctx, key, p)
	if err == nil {
		s.mu.Lock()
		s.progress = append(s.progress, rec.Progress)
		s.statuses = append(s.statuses, rec.Status)
		s.mu.Unlock()
	}
	return rec, err
}

type mockObserver struct {
	mock.Mock
}

func (m *mockObserver) JobStarted(moduleID string) {
	m.Called(moduleID)
}

func (m *mockObserver) JobFinished(moduleID string, status Status, elapsed time.Duration) {
	m.Called(moduleID, status, elapsed)
}

func newTestOrchestrator(t *testing.T, ops map[string]Operation, opts ...OrchestratorOption) (*Orchestrator, *recordingStore) {
	t.Helper()
	reg := NewRegistry()
	for name, op := range ops {
		require.NoError(t, reg.Register(name, op))
	}
	store := &recordingStore{Store: NewMemoryStore()}
	return NewOrchestrator(store, tempDirs{root: t.TempDir()}, reg, nil, opts...), store
}

func TestOrchestrator_Create(t *testing.T) {
	orc, _ := newTestOrchestrator(t, map[string]Operation{"extract-frames": noopOperation()})
	ctx := context.Background()

	ticket, err := orc.Create(ctx, "extract-frames", map[string]any{"input_filename": "clip.mp4"})
	require.NoError(t, err)
	assert.Equal(t, "extract-frames", ticket.Key.ModuleID)
	assert.Len(t, ticket.Key.JobID, 32)
	assert.DirExists(t, ticket.Dir)

	rec, err := orc.Get(ctx, ticket.Key)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, 0.0, rec.Progress)
	assert.Equal(t, "job created", rec.ProgressMessage)
}

func TestOrchestrator_Create_UnknownModule(t *testing.T) {
	orc, _ := newTestOrchestrator(t, nil)

	_, err := orc.Create(context.Background(), "qr-code", nil)
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

func TestOrchestrator_Execute_Success(t *testing.T) {
	op := OperationFunc(func(_ context.Context, task Task, rep Reporter) (map[string]any, error) {
		rep.Report(5, "setup")
		rep.Report(50, "halfway")
		rep.Report(30, "stale")
		rep.Report(90, "packing")
		return map[string]any{"dir": task.Dir, "params": task.Params}, nil
	})

	obs := &mockObserver{}
	obs.On("JobStarted", "extract-frames").Once()
	obs.On("JobFinished", "extract-frames", StatusSuccess, mock.AnythingOfType("time.Duration")).Once()

	orc, store := newTestOrchestrator(t, map[string]Operation{"extract-frames": op}, WithObserver(obs))
	ctx := context.Background()

	ticket, err := orc.Create(ctx, "extract-frames", nil)
	require.NoError(t, err)

	out := orc.Execute(ctx, ticket, "request")
	require.True(t, out.Succeeded())
	assert.Equal(t, "request", out.Payload["params"])

	rec, err := orc.Get(ctx, ticket.Key)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rec.Status)
	assert.Equal(t, 100.0, rec.Progress)
	assert.Equal(t, ticket.Dir, rec.Result["dir"])

	assert.IsNonDecreasing(t, store.progress)
	assert.Equal(t, 100.0, store.progress[len(store.progress)-1])
	assert.Equal(t, StatusSuccess, store.statuses[len(store.statuses)-1])
	obs.AssertExpectations(t)
}

func TestOrchestrator_Execute_Failure(t *testing.T) {
	op := OperationFunc(func(_ context.Context, _ Task, rep Reporter) (map[string]any, error) {
		rep.Report(40, "working")
		return nil, errors.New("decoder exploded")
	})
	orc, _ := newTestOrchestrator(t, map[string]Operation{"mp4-to-gif": op})
	ctx := context.Background()

	ticket, err := orc.Create(ctx, "mp4-to-gif", nil)
	require.NoError(t, err)

	out := orc.Execute(ctx, ticket, nil)
	assert.False(t, out.Succeeded())

	rec, err := orc.Get(ctx, ticket.Key)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "decoder exploded", rec.Error)
	assert.Equal(t, 40.0, rec.Progress)
	assert.Nil(t, rec.Result)
}

func TestOrchestrator_Execute_PanicBecomesFailure(t *testing.T) {
	op := OperationFunc(func(context.Context, Task, Reporter) (map[string]any, error) {
		panic("nil frame")
	})
	orc, _ := newTestOrchestrator(t, map[string]Operation{"extract-frames": op})
	ctx := context.Background()

	ticket, err := orc.Create(ctx, "extract-frames", nil)
	require.NoError(t, err)

	out := orc.Execute(ctx, ticket, nil)
	assert.ErrorIs(t, out.Err, ErrPanic)

	rec, err := orc.Get(ctx, ticket.Key)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "nil frame")
}

func TestOrchestrator_DispatchAndWait(t *testing.T) {
	release := make(chan struct{})
	op := OperationFunc(func(context.Context, Task, Reporter) (map[string]any, error) {
		<-release
		return map[string]any{"total_files": 1}, nil
	})
	orc, _ := newTestOrchestrator(t, map[string]Operation{"extract-frames": op})
	ctx := context.Background()

	ticket, err := orc.Create(ctx, "extract-frames", nil)
	require.NoError(t, err)

	orc.Dispatch(ticket, nil)

	rec, err := orc.Get(ctx, ticket.Key)
	require.NoError(t, err)
	assert.False(t, rec.IsTerminal())

	close(release)
	orc.Wait()

	rec, err = orc.Get(ctx, ticket.Key)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rec.Status)
}

func TestOrchestrator_Fail(t *testing.T) {
	orc, _ := newTestOrchestrator(t, map[string]Operation{"extract-frames": noopOperation()})
	ctx := context.Background()

	ticket, err := orc.Create(ctx, "extract-frames", nil)
	require.NoError(t, err)

	require.NoError(t, orc.Fail(ctx, ticket, errors.New("upload truncated")))

	rec, err := orc.Get(ctx, ticket.Key)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "upload truncated", rec.Error)

	assert.ErrorIs(t, orc.Fail(ctx, ticket, errors.New("again")), ErrTerminal)
}
