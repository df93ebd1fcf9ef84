package job

import (
	"context"
	"errors"
)

var (
	// ErrJobNotFound is returned when no record exists for a key.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned when Create is called for a key that already has a record.
	ErrJobExists = errors.New("job already exists")
)

// Store defines the interface for job record persistence.
// It acts as a port in the hexagonal architecture pattern.
type Store interface {
	// Create writes the initial pending record for key with progress 0.
	// Returns ErrJobExists if a record is already present.
	Create(ctx context.Context, key Key, input map[string]any) (*Record, error)

	// Update loads the current record (or starts from an empty one), merges p
	// over it and writes the whole record back atomically.
	// Returns ErrTerminal if the stored record is already terminal.
	Update(ctx context.Context, key Key, p Patch) (*Record, error)

	// Get reads the record for key.
	// Returns ErrJobNotFound if the job never existed.
	Get(ctx context.Context, key Key) (*Record, error)
}
