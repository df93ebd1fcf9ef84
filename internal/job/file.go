package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// MetaFileName is the name of the record document inside a job directory.
const MetaFileName = "meta.json"

// Compile-time check that FileStore implements Store.
var _ Store = (*FileStore)(nil)

// FileStore persists each record as <root>/<module_id>/<job_id>/meta.json.
// Writes go through a temporary file and a rename, so a concurrent reader
// sees either the previous or the next full document.
type FileStore struct {
	root string
	// mu serializes read-modify-write cycles within this process.
	mu  sync.Mutex
	now func() time.Time
}

// NewFileStore creates a FileStore rooted at root, creating the directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("job store: root directory is required")
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &FileStore{
		root: root,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Root returns the storage root directory.
func (s *FileStore) Root() string {
	return s.root
}

// Path returns the meta.json path for key.
func (s *FileStore) Path(key Key) string {
	return filepath.Join(s.root, key.ModuleID, key.JobID, MetaFileName)
}

// Create writes the initial pending record.
func (s *FileStore) Create(ctx context.Context, key Key, input map[string]any) (*Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.read(key); err == nil {
		return nil, ErrJobExists
	} else if !errors.Is(err, ErrJobNotFound) {
		return nil, err
	}

	rec := newRecord(key, s.now())
	rec.Input = maps.Clone(input)
	if err := s.write(key, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update loads the record (or an empty one), applies p and rewrites the document.
func (s *FileStore) Update(ctx context.Context, key Key, p Patch) (*Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(key)
	if errors.Is(err, ErrJobNotFound) {
		rec = &Record{}
	} else if err != nil {
		return nil, err
	}

	if err := rec.Apply(key, p, s.now()); err != nil {
		return nil, err
	}
	if err := s.write(key, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get reads the record for key.
func (s *FileStore) Get(ctx context.Context, key Key) (*Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.read(key)
}

func (s *FileStore) read(key Key) (*Record, error) {
	data, err := os.ReadFile(s.Path(key)) // #nosec G304 - key is validated to a safe token
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("read job record %s: %w", key, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode job record %s: %w", key, err)
	}
	return &rec, nil
}

func (s *FileStore) write(key Key, rec *Record) error {
	path := s.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create job directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job record %s: %w", key, err)
	}
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write job record %s: %w", key, err)
	}
	return nil
}
