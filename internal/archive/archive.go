// Package archive defines the Store interface and common types for the export
// archive backends. The archive keeps an immutable snapshot of every invoice
// export (the submitted payload plus the provider response) and of every
// reconciliation failure, so a bookkeeping question months later can be
// answered from what was actually sent, not from reconstructed state.
//
// New backends are added by implementing the Store interface and registering
// with the factory via an init() function in the backend's own package:
//
//	func init() {
//	    archive.Register("mybackend", func(cfg *config.Config) (Store, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger init().
// Adding a new backend requires no changes to the factory itself, only a
// blank import in cmd/server/main.go.
package archive

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned (wrapped) by Download and GetMetadata when no
// document exists at the requested path. Exists and Delete never return it;
// absence is an ordinary answer for those.
var ErrNotFound = errors.New("archived document not found")

// Store is the contract every archive backend satisfies. Paths are
// forward-slash relative keys; backends map them onto their own namespace.
type Store interface {
	// Upload stores a document and reports where it landed, how big it was,
	// and the SHA-256 digest of what was written.
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download streams a stored document back. The caller closes the reader.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes a document. Deleting a path that holds nothing is not
	// an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether a document is stored at path.
	Exists(ctx context.Context, path string) (bool, error)

	// GetMetadata returns size, digest, and modification time without
	// transferring the document body when the backend can avoid it.
	GetMetadata(ctx context.Context, path string) (*FileMetadata, error)
}

// UploadResult describes a freshly archived document.
type UploadResult struct {
	Path     string // key the document was stored under
	Size     int64  // bytes written
	Checksum string // SHA-256 of the stored bytes, lowercase hex
}

// FileMetadata describes a stored document without its body.
type FileMetadata struct {
	Path         string
	Size         int64
	Checksum     string
	LastModified time.Time
}
