// Package id provides unique identifier generation for jobs.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// Generate creates a new unique job ID.
// Format: 32 lowercase hex characters (a random UUID without dashes).
// Example: 3f2a9c0e8b7d4e6fa1b2c3d4e5f60718
func Generate() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Valid reports whether s looks like an identifier produced by Generate.
// It is used to reject path-like job IDs before they reach the filesystem.
func Valid(s string) bool {
	if len(s) != 32 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
