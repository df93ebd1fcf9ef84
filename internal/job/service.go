package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/maauso/framekit-api/internal/job/id"
)

// ErrPanic wraps a panic recovered from an operation.
var ErrPanic = errors.New("operation panicked")

// DirAllocator produces a fresh working directory for a job.
type DirAllocator interface {
	JobDir(moduleID, jobID string) (string, error)
}

// Observer is notified about job lifecycle events, typically for metrics.
type Observer interface {
	JobStarted(moduleID string)
	JobFinished(moduleID string, status Status, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) JobStarted(string)                         {}
func (nopObserver) JobFinished(string, Status, time.Duration) {}

// Ticket is returned by Create and identifies a job that is ready to be dispatched.
type Ticket struct {
	Key Key
	Dir string
}

// Outcome is the explicit result of one run: a success payload or an error.
type Outcome struct {
	Payload map[string]any
	Err     error
}

// Succeeded returns true if the run produced a payload without error.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Orchestrator creates job records, runs registered operations in the
// background and finalizes each record exactly once.
type Orchestrator struct {
	store    Store
	dirs     DirAllocator
	registry *Registry
	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer

	wg sync.WaitGroup
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithObserver sets the lifecycle observer.
func WithObserver(o Observer) OrchestratorOption {
	return func(orc *Orchestrator) {
		if o != nil {
			orc.observer = o
		}
	}
}

// WithTracer sets the tracer used for per-job spans.
func WithTracer(t trace.Tracer) OrchestratorOption {
	return func(orc *Orchestrator) {
		if t != nil {
			orc.tracer = t
		}
	}
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(store Store, dirs DirAllocator, registry *Registry, logger *slog.Logger, opts ...OrchestratorOption) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		store:    store,
		dirs:     dirs,
		registry: registry,
		logger:   logger,
		observer: nopObserver{},
		tracer:   otel.Tracer("github.com/maauso/framekit-api/internal/job"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Create allocates a job directory and writes the pending record.
// The job does not run until Dispatch is called with the returned ticket.
func (o *Orchestrator) Create(ctx context.Context, moduleID string, input map[string]any) (Ticket, error) {
	if _, err := o.registry.Lookup(moduleID); err != nil {
		return Ticket{}, err
	}

	key := Key{ModuleID: moduleID, JobID: id.Generate()}
	dir, err := o.dirs.JobDir(key.ModuleID, key.JobID)
	if err != nil {
		return Ticket{}, fmt.Errorf("allocate job directory: %w", err)
	}

	if _, err := o.store.Create(ctx, key, input); err != nil {
		o.logger.Error("failed to create job record",
			slog.String("module_id", key.ModuleID),
			slog.String("job_id", key.JobID),
			slog.String("error", err.Error()),
		)
		return Ticket{}, fmt.Errorf("create job record: %w", err)
	}

	o.logger.Info("job created",
		slog.String("module_id", key.ModuleID),
		slog.String("job_id", key.JobID),
	)
	return Ticket{Key: key, Dir: dir}, nil
}

// Dispatch runs the ticket's operation in a background goroutine.
// The caller observes the outcome only through the job record.
func (o *Orchestrator) Dispatch(t Ticket, params any) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.Execute(context.Background(), t, params)
	}()
}

// Wait blocks until every dispatched job has reached a terminal state.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Execute runs the operation synchronously and writes the terminal record.
func (o *Orchestrator) Execute(ctx context.Context, t Ticket, params any) Outcome {
	key := t.Key
	ctx, span := o.tracer.Start(ctx, "job.run", trace.WithAttributes(
		attribute.String("job.id", key.JobID),
		attribute.String("job.module", key.ModuleID),
	))
	defer span.End()

	log := o.logger.With(
		slog.String("module_id", key.ModuleID),
		slog.String("job_id", key.JobID),
	)
	start := time.Now()
	o.observer.JobStarted(key.ModuleID)

	out := o.invoke(ctx, t, params, log)

	status := StatusSuccess
	if out.Succeeded() {
		o.finalize(ctx, key, SuccessPatch("done", out.Payload), log)
		log.Info("job finished", slog.Duration("elapsed", time.Since(start)))
	} else {
		status = StatusFailed
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
		o.finalize(ctx, key, FailurePatch(out.Err), log)
		log.Error("job failed",
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", out.Err.Error()),
		)
	}
	o.observer.JobFinished(key.ModuleID, status, time.Since(start))
	return out
}

// Fail finalizes a job that could not be dispatched, e.g. because its input
// could not be stored.
func (o *Orchestrator) Fail(ctx context.Context, t Ticket, cause error) error {
	if _, err := o.store.Update(ctx, t.Key, FailurePatch(cause)); err != nil {
		return fmt.Errorf("finalize job %s: %w", t.Key, err)
	}
	return nil
}

// Get returns the current record for a job.
func (o *Orchestrator) Get(ctx context.Context, key Key) (*Record, error) {
	return o.store.Get(ctx, key)
}

// invoke looks up and runs the operation, converting panics into errors.
func (o *Orchestrator) invoke(ctx context.Context, t Ticket, params any, log *slog.Logger) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic recovered",
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
			out = Outcome{Err: fmt.Errorf("%w: %v", ErrPanic, r)}
		}
	}()

	op, err := o.registry.Lookup(t.Key.ModuleID)
	if err != nil {
		return Outcome{Err: err}
	}

	rep := &progressReporter{ctx: ctx, store: o.store, key: t.Key, logger: log}
	rep.Report(0, "processing")

	payload, err := op.Run(ctx, Task{Key: t.Key, Dir: t.Dir, Params: params}, rep)
	if err != nil {
		return Outcome{Err: err}
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return Outcome{Payload: payload}
}

func (o *Orchestrator) finalize(ctx context.Context, key Key, p Patch, log *slog.Logger) {
	if _, err := o.store.Update(ctx, key, p); err != nil {
		log.Error("failed to finalize job record", slog.String("error", err.Error()))
	}
}

// progressReporter writes running progress to the store and never lets the
// written value go down.
type progressReporter struct {
	ctx    context.Context
	store  Store
	key    Key
	logger *slog.Logger

	mu   sync.Mutex
	last float64
}

func (r *progressReporter) Report(progress float64, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	progress = clampProgress(progress)
	if progress < r.last {
		progress = r.last
	}
	if _, err := r.store.Update(r.ctx, r.key, ProgressPatch(progress, message)); err != nil {
		r.logger.Warn("failed to write progress",
			slog.Float64("progress", progress),
			slog.String("error", err.Error()),
		)
		return
	}
	r.last = progress
}
