// Package storage owns the on-disk layout under the storage root and the
// optional publishing of job artifacts to object storage.
//
// LocalStorage allocates per-job working directories, receives uploads and
// maps files to their /files/ URLs. Publisher implementations copy a finished
// artifact to S3 or MinIO.
package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotConfigured is returned when publishing is attempted without a backend.
	ErrNotConfigured = errors.New("object storage is not configured")
	// ErrOutsideRoot is returned when a path does not live under the storage root.
	ErrOutsideRoot = errors.New("path is outside the storage root")
	// ErrInvalidName is returned for upload names that are not plain file names.
	ErrInvalidName = errors.New("invalid file name")
)

// Storage is the local file layout used by jobs.
type Storage interface {
	// JobDir creates and returns a fresh directory <root>/<moduleID>/<jobID>.
	JobDir(moduleID, jobID string) (string, error)

	// SaveUpload streams data into dir/name and returns the written path.
	SaveUpload(ctx context.Context, dir, name string, data io.Reader) (path string, err error)

	// URL returns the /files/ reference for a path under the root.
	URL(path string) (string, error)
}

// Publisher copies a local file to object storage and returns its URL.
type Publisher interface {
	Publish(ctx context.Context, key, path string) (url string, err error)
}

// NopPublisher is used when no object storage is configured.
type NopPublisher struct{}

// Publish always returns ErrNotConfigured.
func (NopPublisher) Publish(context.Context, string, string) (string, error) {
	return "", ErrNotConfigured
}
