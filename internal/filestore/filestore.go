package filestore

import (
	"io"
)

// FileStore stores uploaded blobs addressed by the SHA-256 of their content.
type FileStore interface {
	// Save writes the content and returns its hash and size.
	// Saving the same content twice keeps a single copy.
	Save(r io.Reader) (hash string, size int64, err error)

	// Get opens the content stored under hash.
	Get(hash string) (io.ReadCloser, error)
}
