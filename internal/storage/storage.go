// Package storage provides the object-store gateway used by the ingestion
// pipeline. Payloads and generated artifacts are opaque byte blobs keyed by
// deterministic paths derived from the session correlation id, so a key never
// needs to be looked up — it is always re-derivable.
//
// Two implementations exist: a Google Cloud Storage client for production and
// a local-filesystem store for development and tests. Both are selected by
// configuration at process start.
//
// A key existing in a Session row is not proof the bytes landed: uploads are
// recorded optimistically, so callers must use Exists to verify presence
// rather than trusting the stored path.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Read and SignedURL when no object exists at the
// given key.
var ErrNotFound = errors.New("object not found")

// Store is the gateway contract. Implementations must be safe for concurrent
// use and must honor the provided context for cancellation and timeouts.
type Store interface {
	// Upload writes the full content of r to key, overwriting any existing
	// object. The write is atomic: a failed upload leaves no partial object.
	Upload(ctx context.Context, key string, r io.Reader) error

	// Exists reports whether an object is present at key.
	Exists(ctx context.Context, key string) (bool, error)

	// Read opens the object at key for reading. The caller must close the
	// returned reader. Returns ErrNotFound if no object exists.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Copy duplicates the object at src to dst within the store.
	Copy(ctx context.Context, src, dst string) error

	// Delete removes the object at key. Deleting a missing object is a no-op.
	Delete(ctx context.Context, key string) error

	// SignedURL returns a time-limited URL for direct download of key.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
