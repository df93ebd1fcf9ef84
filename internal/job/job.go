// Package job provides the job record for tracking asynchronous media operations.
// It includes the Record entity with its status transitions, the partial-update
// Patch applied by running jobs, the Store port with file-backed and in-memory
// implementations, and the Orchestrator that runs registered operations.
package job

import (
	"errors"
	"maps"
	"regexp"
	"time"
)

// Status represents the current state of a job record.
type Status string

const (
	// StatusPending indicates the job was created and has not started yet.
	StatusPending Status = "pending"
	// StatusRunning indicates the job is being processed.
	StatusRunning Status = "running"
	// StatusSuccess indicates the job finished and produced a result.
	StatusSuccess Status = "success"
	// StatusFailed indicates the job stopped with an error.
	StatusFailed Status = "failed"
)

// IsTerminal returns true if no further writes are allowed in this status.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// IsValid returns true if the status is one of the known states.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSuccess, StatusFailed:
		return true
	default:
		return false
	}
}

var (
	// ErrInvalidTransition is returned when an invalid status transition is attempted.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrTerminal is returned when a record in a terminal state is written again.
	ErrTerminal = errors.New("job record is already terminal")
	// ErrInvalidKey is returned when a module or job ID is not a safe path token.
	ErrInvalidKey = errors.New("invalid job key")
)

// validTransitions defines which status changes are allowed.
// A non-terminal status may also be re-written with itself.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusSuccess, StatusFailed},
	StatusRunning: {StatusSuccess, StatusFailed},
	StatusSuccess: {},
	StatusFailed:  {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	if from == to {
		return !from.IsTerminal()
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var keyToken = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Key identifies one job record. ModuleID names the operation type
// (e.g. "extract-frames") and JobID is the opaque token generated at creation.
type Key struct {
	ModuleID string
	JobID    string
}

// Validate returns ErrInvalidKey unless both parts are safe path tokens.
func (k Key) Validate() error {
	if !keyToken.MatchString(k.ModuleID) || !keyToken.MatchString(k.JobID) {
		return ErrInvalidKey
	}
	return nil
}

func (k Key) String() string {
	return k.ModuleID + "/" + k.JobID
}

// Record describes the state of one job. It is persisted as a whole document
// and rewritten in full on every update.
type Record struct {
	JobID           string         `json:"job_id"`
	ModuleID        string         `json:"module_id"`
	Status          Status         `json:"status"`
	Progress        float64        `json:"progress"`
	ProgressMessage string         `json:"progress_message,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Input           map[string]any `json:"input,omitempty"`
	Result          map[string]any `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// Patch is a partial update of a Record. Nil fields are left unchanged;
// a non-nil Result replaces the stored one. CreatedAt is never patched.
type Patch struct {
	Progress *float64
	Message  *string
	Status   *Status
	Result   map[string]any
	Error    *string
}

// ProgressPatch builds a running-status patch with the given progress and message.
func ProgressPatch(progress float64, message string) Patch {
	status := StatusRunning
	return Patch{Progress: &progress, Message: &message, Status: &status}
}

// SuccessPatch builds the terminal success patch: progress 100 and the result payload.
func SuccessPatch(message string, result map[string]any) Patch {
	progress := 100.0
	status := StatusSuccess
	return Patch{Progress: &progress, Message: &message, Status: &status, Result: result}
}

// FailurePatch builds the terminal failure patch. Progress is left where it was.
func FailurePatch(err error) Patch {
	status := StatusFailed
	msg := err.Error()
	message := "failed: " + msg
	return Patch{Message: &message, Status: &status, Error: &msg}
}

// newRecord creates the initial pending record for key.
func newRecord(key Key, now time.Time) *Record {
	return &Record{
		JobID:           key.JobID,
		ModuleID:        key.ModuleID,
		Status:          StatusPending,
		ProgressMessage: "job created",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Apply merges p into the record. It returns ErrTerminal if the record is
// already terminal and ErrInvalidTransition for a disallowed status change.
// Missing required fields are filled from key and now.
func (r *Record) Apply(key Key, p Patch, now time.Time) error {
	if r.Status.IsTerminal() {
		return ErrTerminal
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	if p.Status != nil {
		if !p.Status.IsValid() || !canTransition(r.Status, *p.Status) {
			return ErrInvalidTransition
		}
		r.Status = *p.Status
	}
	if p.Progress != nil {
		r.Progress = clampProgress(*p.Progress)
	}
	if p.Message != nil {
		r.ProgressMessage = *p.Message
	}
	if p.Result != nil {
		r.Result = maps.Clone(p.Result)
	}
	if p.Error != nil {
		r.Error = *p.Error
	}

	if r.JobID == "" {
		r.JobID = key.JobID
	}
	if r.ModuleID == "" {
		r.ModuleID = key.ModuleID
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	return nil
}

// IsTerminal returns true if the record is in a terminal state.
func (r *Record) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// Clone creates a copy of the record for safe reads.
func (r *Record) Clone() *Record {
	c := *r
	c.Input = maps.Clone(r.Input)
	c.Result = maps.Clone(r.Result)
	return &c
}

// clampProgress bounds progress to [0, 100].
func clampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
