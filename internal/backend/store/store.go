// Package store defines the keyed-record persistence primitive shared
// by the job store, trail ledger, and conductor run records. It is
// deliberately narrow: a namespaced key/value document store with a
// compare-and-swap update, not a general SQL layer, so a backend can be
// swapped (sqlite for embedded single-node, postgres for multi-process)
// without leaking query shape into callers.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
// CompareAndSwap reports an absent key with a nonzero expectedVersion
// as ErrConflict instead.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned by CompareAndSwap when the stored version
// does not match expectedVersion.
var ErrConflict = errors.New("store: version conflict")

// Record is one stored document plus its optimistic-concurrency version.
type Record struct {
	Key     string
	Value   []byte
	Version int64
}

// ListOptions narrows a List call to one collection, optionally
// filtered by a prefix within it and paged with a cursor.
type ListOptions struct {
	Collection string
	KeyPrefix  string
	Limit      int
	Cursor     string
}

// ListResult carries a page of records plus the cursor to resume from.
type ListResult struct {
	Records    []Record
	NextCursor string
}

// Store is a namespaced keyed-record document store. Collection groups
// keys the way a table would (e.g. "jobs", "trails", "runs"); Key is
// unique within a collection.
type Store interface {
	// Put unconditionally writes value under key, returning the new
	// version. Callers that must not clobber a concurrent writer use
	// CompareAndSwap instead.
	Put(ctx context.Context, collection, key string, value []byte) (version int64, err error)

	// Get returns the current record, or ErrNotFound.
	Get(ctx context.Context, collection, key string) (Record, error)

	// CompareAndSwap writes value only if the stored version currently
	// equals expectedVersion (0 means "must not exist yet"). This is
	// the primitive the job store's state-transition CAS uses to avoid
	// a lost update.
	CompareAndSwap(ctx context.Context, collection, key string, expectedVersion int64, value []byte) (newVersion int64, err error)

	// Delete removes a record. Deleting an absent key is not an error.
	Delete(ctx context.Context, collection, key string) error

	// List returns records in a collection, optionally filtered by
	// KeyPrefix, ordered by key.
	List(ctx context.Context, opts ListOptions) (ListResult, error)

	// Close releases any underlying connection or file handle.
	Close() error
}
