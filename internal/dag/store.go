package dag

import (
	"context"
	"log/slog"

	"dagstore/internal/kv"
	"dagstore/internal/logging"
)

// Store ties a kv.Store to the DAG layer. It hands out read views and write
// transactions; it does not own the KV store's lifecycle beyond Close.
type Store struct {
	kv     kv.Store
	logger *slog.Logger
}

// NewStore wraps a KV store. logger may be nil.
func NewStore(kvs kv.Store, logger *slog.Logger) *Store {
	return &Store{kv: kvs, logger: logging.Default(logger)}
}

// Write opens a DAG write transaction over a fresh KV write transaction.
func (s *Store) Write(ctx context.Context) (*Write, error) {
	kvw, err := s.kv.Write(ctx)
	if err != nil {
		return nil, err
	}
	return NewWrite(kvw, s.logger), nil
}

// View runs f with a read view over a KV snapshot, releasing the snapshot
// when f returns.
func (s *Store) View(ctx context.Context, f func(Read) error) error {
	kvr, err := s.kv.Read(ctx)
	if err != nil {
		return err
	}
	defer kvr.Release()
	return f(NewRead(kvr))
}

// Update runs f inside a write transaction. The transaction is committed
// when f returns nil and rolled back otherwise.
func (s *Store) Update(ctx context.Context, f func(*Write) error) error {
	w, err := s.Write(ctx)
	if err != nil {
		return err
	}
	if err := f(w); err != nil {
		_ = w.Rollback(ctx)
		return err
	}
	return w.Commit(ctx)
}

// Close closes the underlying KV store.
func (s *Store) Close() error {
	return s.kv.Close()
}
