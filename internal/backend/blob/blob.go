// Package blob defines the large-object storage primitive used for
// agent transcripts, node execution result bodies, and workspace
// artifacts that are too large or too unstructured for the keyed
// record store.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("blob: not found")

// Store is a namespaced object store, keyed by an
// opaque string path (e.g. "tenant/run/node-exec-id/stdout.log").
type Store interface {
	// Put writes the full contents of r under key, overwriting any
	// existing object.
	Put(ctx context.Context, key string, r io.Reader) error

	// Get opens key for reading. The caller must close the returned
	// reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key has a stored object.
	Exists(ctx context.Context, key string) (bool, error)
}
