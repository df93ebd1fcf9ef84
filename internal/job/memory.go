package job

import (
	"context"
	"maps"
	"sync"
	"time"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of Store.
// It uses a map with RWMutex for thread-safe access.
// Suitable for development and testing; records are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Key]*Record
	now     func() time.Time
}

// NewMemoryStore creates a new in-memory job record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[Key]*Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new pending record.
func (s *MemoryStore) Create(_ context.Context, key Key, input map[string]any) (*Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		return nil, ErrJobExists
	}
	rec := newRecord(key, s.now())
	rec.Input = maps.Clone(input)
	s.records[key] = rec
	return rec.Clone(), nil
}

// Update merges p into the stored record.
// Stores a clone to avoid external mutations.
func (s *MemoryStore) Update(_ context.Context, key Key, p Patch) (*Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &Record{}
	if existing, ok := s.records[key]; ok {
		rec = existing.Clone()
	}
	if err := rec.Apply(key, p, s.now()); err != nil {
		return nil, err
	}
	s.records[key] = rec
	return rec.Clone(), nil
}

// Get retrieves a record by key.
// Returns a clone to prevent external mutations.
func (s *MemoryStore) Get(_ context.Context, key Key) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, ErrJobNotFound
	}
	return rec.Clone(), nil
}
