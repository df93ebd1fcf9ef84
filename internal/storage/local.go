package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FilesPrefix is the URL prefix under which the storage root is served.
const FilesPrefix = "/files/"

// Compile-time check that LocalStorage implements Storage.
var _ Storage = (*LocalStorage)(nil)

// LocalStorage implements Storage on local disk under a single root.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a new LocalStorage instance.
// If root is empty, <os.TempDir()>/framekit is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "framekit")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}

	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	return &LocalStorage{root: abs}, nil
}

// Root returns the storage root directory.
func (s *LocalStorage) Root() string {
	return s.root
}

// JobDir creates <root>/<moduleID>/<jobID>. It fails if the directory already
// exists, so two jobs never share a working directory.
func (s *LocalStorage) JobDir(moduleID, jobID string) (string, error) {
	for _, part := range []string{moduleID, jobID} {
		if err := checkName(part); err != nil {
			return "", err
		}
	}

	parent := filepath.Join(s.root, moduleID)
	if err := os.MkdirAll(parent, 0750); err != nil {
		return "", fmt.Errorf("create module directory: %w", err)
	}

	dir := filepath.Join(parent, jobID)
	if err := os.Mkdir(dir, 0750); err != nil {
		return "", fmt.Errorf("create job directory: %w", err)
	}
	return dir, nil
}

// SaveUpload streams data to dir/name. A partially written file is removed.
func (s *LocalStorage) SaveUpload(ctx context.Context, dir, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if err := checkName(name); err != nil {
		return "", err
	}
	if _, err := s.rel(dir); err != nil {
		return "", err
	}

	dst := filepath.Join(dir, name)
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640) // #nosec G304 - dst is confined to the storage root
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}

	if _, err := io.Copy(f, &ctxReader{ctx: ctx, r: data}); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("write upload file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("close upload file: %w", err)
	}

	return dst, nil
}

// URL returns the /files/ reference for p.
func (s *LocalStorage) URL(p string) (string, error) {
	return FileURL(s.root, p)
}

// Resolve maps a /files/ URL back to a path under the root.
func (s *LocalStorage) Resolve(url string) (string, error) {
	rel, ok := strings.CutPrefix(url, FilesPrefix)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, url)
	}
	clean := path.Clean("/" + rel)
	p := filepath.Join(s.root, filepath.FromSlash(clean))
	if _, err := s.rel(p); err != nil {
		return "", err
	}
	return p, nil
}

func (s *LocalStorage) rel(p string) (string, error) {
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	return rel, nil
}

// FileURL returns "/files/<path relative to root>" with forward slashes.
func FileURL(root, p string) (string, error) {
	rel, err := (&LocalStorage{root: root}).rel(p)
	if err != nil {
		return "", err
	}
	return FilesPrefix + filepath.ToSlash(rel), nil
}

// SanitizeName reduces a client-supplied file name to its base name.
// It returns fallback when nothing usable is left.
func SanitizeName(name, fallback string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = path.Base(name)
	if checkName(name) != nil {
		return fallback
	}
	return name
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// ctxReader stops a copy once the context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
