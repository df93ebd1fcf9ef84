// Package archive packs a job's output directory into a single zip file.
package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/renameio/v2"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// Zipper creates deflate-compressed zip archives.
type Zipper struct {
	level int
}

// NewZipper creates a Zipper using the default compression level.
func NewZipper() *Zipper {
	return &Zipper{level: flate.DefaultCompression}
}

// WithLevel returns a copy of z using the given flate level.
func (z *Zipper) WithLevel(level int) *Zipper {
	return &Zipper{level: level}
}

// ZipDir writes every regular file under dir to zipPath, named relative to
// dir with forward slashes and in sorted order. zipPath itself is skipped if
// it lies inside dir. It returns the number of entries written.
func (z *Zipper) ZipDir(ctx context.Context, dir, zipPath string) (int, error) {
	files, err := ListFiles(dir)
	if err != nil {
		return 0, err
	}

	absZip, _ := filepath.Abs(zipPath)
	if err := os.MkdirAll(filepath.Dir(zipPath), 0750); err != nil {
		return 0, fmt.Errorf("create archive directory: %w", err)
	}

	pf, err := renameio.NewPendingFile(zipPath, renameio.WithPermissions(0644))
	if err != nil {
		return 0, fmt.Errorf("create zip file: %w", err)
	}
	defer func() { _ = pf.Cleanup() }()

	zw := zip.NewWriter(pf)
	level := z.level
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})

	count := 0
	for _, fp := range files {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		if abs, _ := filepath.Abs(fp); abs == absZip {
			continue
		}
		rel, err := filepath.Rel(dir, fp)
		if err != nil {
			return 0, fmt.Errorf("relative path for %s: %w", fp, err)
		}
		if err := addFileToZip(zw, fp, filepath.ToSlash(rel)); err != nil {
			return 0, fmt.Errorf("add %s to zip: %w", rel, err)
		}
		count++
	}

	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("finish zip: %w", err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return 0, fmt.Errorf("write zip: %w", err)
	}
	return count, nil
}

func addFileToZip(zw *zip.Writer, filename, name string) error {
	file, err := os.Open(filename) // #nosec G304 - filename comes from walking the job directory
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}

	header.Name = name
	header.Method = zip.Deflate

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}

	_, err = io.Copy(writer, file)
	return err
}

// ListFiles returns every regular file under dir, recursively, sorted by path.
func ListFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}
