// Package boltstore implements kv.Store on top of a bbolt database file.
//
// All keys live in a single bucket. Values may optionally be compressed with
// zstd; each stored value carries a one-byte frame tag so compressed and raw
// values coexist and compression can be toggled between runs.
package boltstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"

	"dagstore/internal/kv"
	"dagstore/internal/logging"
)

var (
	ErrTxFinished   = errors.New("boltstore transaction already finished")
	ErrCorruptValue = errors.New("boltstore: corrupt value framing")
)

var bucketName = []byte("kv")

// Value frame tags. The first byte of every stored value.
const (
	frameRaw  = 0x00
	frameZstd = 0x01
)

// compressMin is the smallest value worth handing to the compressor.
// Below this the frame overhead and zstd headers outweigh any gain.
const compressMin = 256

// zstdDec is a package-level decoder, concurrent-safe, always available for
// reads regardless of whether compression is enabled for writes.
var zstdDec *zstd.Decoder

func init() {
	var err error
	zstdDec, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic("boltstore: init zstd decoder: " + err.Error())
	}
}

// Options configures a Store.
type Options struct {
	// Compress enables transparent zstd compression of stored values.
	Compress bool

	// Logger receives store-level logs; nil discards.
	Logger *slog.Logger
}

var _ kv.Store = (*Store)(nil)

// Store is a bbolt-backed transactional key/value store.
type Store struct {
	db     *bolt.DB
	enc    *zstd.Encoder // nil when compression disabled
	logger *slog.Logger
}

// Open opens (creating if necessary) the database file at path.
func Open(path string, opts Options) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: create bucket: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logging.Default(opts.Logger).With("component", "boltstore"),
	}
	if opts.Compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("boltstore: init zstd encoder: %w", err)
		}
		s.enc = enc
	}
	return s, nil
}

// Read opens a read-only bolt transaction as a snapshot view.
func (s *Store) Read(ctx context.Context) (kv.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("boltstore: begin read: %w", err)
	}
	return &readTx{tx: tx}, nil
}

// Write opens the exclusive bolt write transaction. bbolt allows a single
// writer; this blocks until the current one finishes.
func (s *Store) Write(ctx context.Context) (kv.Write, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := s.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("boltstore: begin write: %w", err)
	}
	return &writeTx{store: s, tx: tx}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	if s.enc != nil {
		s.enc.Close()
	}
	return s.db.Close()
}

// frame encodes value for storage, compressing when it pays off.
func (s *Store) frame(value []byte) []byte {
	if s.enc != nil && len(value) >= compressMin {
		compressed := s.enc.EncodeAll(value, make([]byte, 1, len(value)/2+1))
		compressed[0] = frameZstd
		if len(compressed) < len(value)+1 {
			return compressed
		}
	}
	out := make([]byte, len(value)+1)
	out[0] = frameRaw
	copy(out[1:], value)
	return out
}

// unframe decodes a stored value.
func unframe(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, ErrCorruptValue
	}
	switch stored[0] {
	case frameRaw:
		out := make([]byte, len(stored)-1)
		copy(out, stored[1:])
		return out, nil
	case frameZstd:
		out, err := zstdDec.DecodeAll(stored[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptValue, err)
		}
		return out, nil
	default:
		return nil, ErrCorruptValue
	}
}

type readTx struct {
	mu   sync.Mutex
	tx   *bolt.Tx
	done bool
}

func (r *readTx) Get(_ context.Context, key string) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return nil, false, ErrTxFinished
	}
	stored := r.tx.Bucket(bucketName).Get([]byte(key))
	if stored == nil {
		return nil, false, nil
	}
	v, err := unframe(stored)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *readTx) Has(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return false, ErrTxFinished
	}
	return r.tx.Bucket(bucketName).Get([]byte(key)) != nil, nil
}

func (r *readTx) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	// Read-only transactions are ended with Rollback.
	_ = r.tx.Rollback()
}

// writeTx serializes access to the underlying bolt.Tx, which is not safe for
// concurrent use; the DAG layer's garbage collector fans out over it.
type writeTx struct {
	store *Store

	mu   sync.Mutex
	tx   *bolt.Tx
	done bool
}

func (w *writeTx) Get(_ context.Context, key string) ([]byte, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil, false, ErrTxFinished
	}
	stored := w.tx.Bucket(bucketName).Get([]byte(key))
	if stored == nil {
		return nil, false, nil
	}
	v, err := unframe(stored)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (w *writeTx) Has(_ context.Context, key string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return false, ErrTxFinished
	}
	return w.tx.Bucket(bucketName).Get([]byte(key)) != nil, nil
}

func (w *writeTx) Put(_ context.Context, key string, value []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrTxFinished
	}
	return w.tx.Bucket(bucketName).Put([]byte(key), w.store.frame(value))
}

func (w *writeTx) Del(_ context.Context, key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrTxFinished
	}
	return w.tx.Bucket(bucketName).Delete([]byte(key))
}

func (w *writeTx) Commit(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrTxFinished
	}
	w.done = true
	return w.tx.Commit()
}

func (w *writeTx) Rollback(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrTxFinished
	}
	w.done = true
	return w.tx.Rollback()
}
