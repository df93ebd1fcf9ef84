package job

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnknownOperation is returned when no operation is registered for a module ID.
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrDuplicateOperation is returned when a module ID is registered twice.
	ErrDuplicateOperation = errors.New("operation already registered")
)

// Task is the unit of work handed to an Operation.
type Task struct {
	// Key identifies the job record owned by this task.
	Key Key
	// Dir is the job's private working directory.
	Dir string
	// Params carries the operation-specific request.
	Params any
}

// Reporter receives progress updates from a running operation.
// Values lower than the last reported one are raised to it.
type Reporter interface {
	Report(progress float64, message string)
}

// Operation runs one kind of job and returns its success payload.
type Operation interface {
	Run(ctx context.Context, task Task, reporter Reporter) (map[string]any, error)
}

// OperationFunc adapts a function to the Operation interface.
type OperationFunc func(ctx context.Context, task Task, reporter Reporter) (map[string]any, error)

// Run calls f.
func (f OperationFunc) Run(ctx context.Context, task Task, reporter Reporter) (map[string]any, error) {
	return f(ctx, task, reporter)
}

// Registry maps module IDs to operations. It is filled at start-up and
// read-only afterwards.
type Registry struct {
	ops map[string]Operation
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]Operation)}
}

// Register adds op under moduleID.
func (r *Registry) Register(moduleID string, op Operation) error {
	if err := (Key{ModuleID: moduleID, JobID: "x"}).Validate(); err != nil {
		return fmt.Errorf("register %q: %w", moduleID, err)
	}
	if _, ok := r.ops[moduleID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateOperation, moduleID)
	}
	r.ops[moduleID] = op
	return nil
}

// Lookup returns the operation registered for moduleID.
func (r *Registry) Lookup(moduleID string) (Operation, error) {
	op, ok := r.ops[moduleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, moduleID)
	}
	return op, nil
}

// Modules returns the registered module IDs in sorted order.
func (r *Registry) Modules() []string {
	out := make([]string, 0, len(r.ops))
	for m := range r.ops {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
