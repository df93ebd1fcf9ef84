package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("creates directory if not exists", func(t *testing.T) {
		root := filepath.Join(os.TempDir(), "framekit_test_"+randomSuffix())
		defer func() { _ = os.RemoveAll(root) }()

		storage, err := NewLocalStorage(root)
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}

		if storage.Root() != root {
			t.Errorf("Root() = %v, want %v", storage.Root(), root)
		}

		info, err := os.Stat(root)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected directory, got file")
		}
	})

	t.Run("uses default directory when empty", func(t *testing.T) {
		storage, err := NewLocalStorage("")
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}

		expected, _ := filepath.Abs(filepath.Join(os.TempDir(), "framekit"))
		if storage.Root() != expected {
			t.Errorf("Root() = %v, want %v", storage.Root(), expected)
		}
	})
}

func TestLocalStorage_JobDir(t *testing.T) {
	storage := setupTestStorage(t)

	dir, err := storage.JobDir("extract-frames", "abc123")
	if err != nil {
		t.Fatalf("JobDir() error = %v", err)
	}
	if dir != filepath.Join(storage.Root(), "extract-frames", "abc123") {
		t.Errorf("unexpected dir %s", dir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("job directory not created: %v", err)
	}

	t.Run("collision fails", func(t *testing.T) {
		if _, err := storage.JobDir("extract-frames", "abc123"); err == nil {
			t.Error("expected error for existing job directory")
		}
	})

	t.Run("rejects traversal", func(t *testing.T) {
		_, err := storage.JobDir("..", "abc")
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("expected ErrInvalidName, got %v", err)
		}
		_, err = storage.JobDir("extract-frames", "a/b")
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("expected ErrInvalidName, got %v", err)
		}
	})
}

func TestLocalStorage_SaveUpload(t *testing.T) {
	storage := setupTestStorage(t)
	dir, err := storage.JobDir("mp4-to-gif", "job1")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("streams data to destination", func(t *testing.T) {
		path, err := storage.SaveUpload(context.Background(), dir, "clip.mp4", strings.NewReader("video bytes"))
		if err != nil {
			t.Fatalf("SaveUpload() error = %v", err)
		}
		if path != filepath.Join(dir, "clip.mp4") {
			t.Errorf("unexpected path %s", path)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read file: %v", err)
		}
		if string(content) != "video bytes" {
			t.Errorf("content = %q, want %q", string(content), "video bytes")
		}
	})

	t.Run("does not overwrite", func(t *testing.T) {
		_, err := storage.SaveUpload(context.Background(), dir, "clip.mp4", strings.NewReader("other"))
		if err == nil {
			t.Error("expected error for existing file")
		}
	})

	t.Run("rejects names with separators", func(t *testing.T) {
		_, err := storage.SaveUpload(context.Background(), dir, "../escape.mp4", strings.NewReader("x"))
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("expected ErrInvalidName, got %v", err)
		}
	})

	t.Run("rejects directories outside root", func(t *testing.T) {
		_, err := storage.SaveUpload(context.Background(), t.TempDir(), "clip.mp4", strings.NewReader("x"))
		if !errors.Is(err, ErrOutsideRoot) {
			t.Errorf("expected ErrOutsideRoot, got %v", err)
		}
	})

	t.Run("removes partial file on read error", func(t *testing.T) {
		_, err := storage.SaveUpload(context.Background(), dir, "broken.mp4", &failingReader{})
		if err == nil {
			t.Fatal("expected error")
		}
		if _, statErr := os.Stat(filepath.Join(dir, "broken.mp4")); !os.IsNotExist(statErr) {
			t.Error("partial upload was not removed")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := storage.SaveUpload(ctx, dir, "late.mp4", strings.NewReader("x"))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestLocalStorage_URLAndResolve(t *testing.T) {
	storage := setupTestStorage(t)
	p := filepath.Join(storage.Root(), "extract-frames", "job1", "frames", "a_frame_0.00s.jpg")

	url, err := storage.URL(p)
	if err != nil {
		t.Fatalf("URL() error = %v", err)
	}
	if url != "/files/extract-frames/job1/frames/a_frame_0.00s.jpg" {
		t.Errorf("URL() = %s", url)
	}

	back, err := storage.Resolve(url)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if back != p {
		t.Errorf("Resolve() = %s, want %s", back, p)
	}

	if _, err := storage.URL("/etc/passwd"); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("expected ErrOutsideRoot, got %v", err)
	}
	if _, err := storage.Resolve("/etc/passwd"); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("expected ErrOutsideRoot, got %v", err)
	}

	// Dot segments are cleaned before joining, so they cannot climb out.
	escaped, err := storage.Resolve("/files/../../etc/passwd")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !strings.HasPrefix(escaped, storage.Root()) {
		t.Errorf("Resolve() escaped root: %s", escaped)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"clip.mp4":             "clip.mp4",
		"  clip.mp4 ":          "clip.mp4",
		"dir/clip.mp4":         "clip.mp4",
		`C:\Users\me\clip.mp4`: "clip.mp4",
		"":                     "video",
		"..":                   "video",
		"/":                    "video",
	}
	for in, want := range tests {
		if got := SanitizeName(in, "video"); got != want {
			t.Errorf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNopPublisher(t *testing.T) {
	_, err := NopPublisher{}.Publish(context.Background(), "key", "/tmp/x.zip")
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

type failingReader struct {
	n int
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.n > 0 {
		return 0, errors.New("connection reset")
	}
	r.n++
	copy(p, "partial")
	return len("partial"), nil
}

func setupTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	root := filepath.Join(os.TempDir(), "framekit_test_"+randomSuffix())
	t.Cleanup(func() { _ = os.RemoveAll(root) })

	storage, err := NewLocalStorage(root)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return storage
}

func randomSuffix() string {
	return time.Now().Format("20060102150405.000000000")
}
