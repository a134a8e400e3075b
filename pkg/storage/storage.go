// Package storage archives finished call transcripts as files, on local disk
// or in an S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"strings"
)

// ErrNotExist is returned by Get for a missing file.
var ErrNotExist = errors.New("storage: file does not exist")

// FileStore holds whole files addressed by forward-slash paths relative to
// the store root. Implementations are safe for concurrent use.
type FileStore interface {
	// Put creates or replaces the file at path.
	Put(ctx context.Context, path string, data []byte, contentType string) error
	// Get returns ErrNotExist for a missing file.
	Get(ctx context.Context, path string) ([]byte, error)
}

func cleanPath(path string) (string, error) {
	p := strings.Trim(path, "/")
	if p == "" {
		return "", errors.New("storage: empty path")
	}
	for seg := range strings.SplitSeq(p, "/") {
		if seg == ".." || seg == "." || seg == "" {
			return "", errors.New("storage: invalid path " + path)
		}
	}
	return p, nil
}
