// Package kv defines the transactional key/value contract the DAG store is
// built on. A Store hands out snapshot-isolated Read views and exclusive
// Write transactions; backend implementations live in subpackages
// (memstore, boltstore).
//
// Keys are strings, values are opaque byte slices. A Write observes its own
// uncommitted mutations through its read methods. At most one Write is
// active per Store at a time; backends serialize writers.
package kv

import "context"

// Read is a point-in-time view of the store.
type Read interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Has reports whether key is present.
	Has(ctx context.Context, key string) (bool, error)
}

// ReadCloser is a Read that holds backend resources (a snapshot or a read
// transaction) and must be released when done.
type ReadCloser interface {
	Read

	// Release frees the snapshot. Idempotent.
	Release()
}

// Write is an exclusive read-write transaction. Mutations are buffered until
// Commit and discarded by Rollback. The read methods observe buffered
// mutations.
//
// A Write is not safe for concurrent use unless the backend documents
// otherwise; both bundled backends guard each operation internally so that
// callers may fan out independent operations.
type Write interface {
	Read

	// Put upserts key to value.
	Put(ctx context.Context, key string, value []byte) error

	// Del removes key. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error

	// Commit atomically persists all buffered mutations and ends the
	// transaction. The Write must not be used afterwards.
	Commit(ctx context.Context) error

	// Rollback discards all buffered mutations and ends the transaction.
	// The Write must not be used afterwards.
	Rollback(ctx context.Context) error
}

// Store is a transactional key/value database.
type Store interface {
	// Read opens a snapshot view.
	Read(ctx context.Context) (ReadCloser, error)

	// Write opens an exclusive write transaction, blocking until any
	// current writer finishes.
	Write(ctx context.Context) (Write, error)

	// Close releases the store. Outstanding transactions are invalidated.
	Close() error
}
