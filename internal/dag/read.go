package dag

import (
	"context"
	"fmt"

	"dagstore/internal/kv"
)

// Read resolves heads and chunks against a KV view. When constructed from a
// Write it observes the transaction's uncommitted mutations.
type Read struct {
	kvr kv.Read
}

// NewRead wraps a KV view.
func NewRead(kvr kv.Read) Read {
	return Read{kvr: kvr}
}

// HasChunk reports whether a chunk's data is present.
func (r Read) HasChunk(ctx context.Context, hash string) (bool, error) {
	return r.kvr.Has(ctx, chunkDataKey(hash))
}

// GetChunk reconstructs a chunk from its persisted data and metadata. The
// refs come from the metadata record; a chunk without one has no refs.
// ok is false when no chunk data is stored under hash.
func (r Read) GetChunk(ctx context.Context, hash string) (Chunk, bool, error) {
	data, ok, err := r.kvr.Get(ctx, chunkDataKey(hash))
	if err != nil || !ok {
		return Chunk{}, false, err
	}

	var refs []string
	buf, ok, err := r.kvr.Get(ctx, chunkMetaKey(hash))
	if err != nil {
		return Chunk{}, false, err
	}
	if ok {
		m, err := DecodeMeta(buf)
		if err != nil {
			return Chunk{}, false, fmt.Errorf("chunk %s: %w", hash, err)
		}
		refs = m.refSlice()
	}
	return chunkFromStore(hash, data, refs), true, nil
}

// GetHead returns the hash a named head points at. ok is false when the
// head is not set; note the empty hash is a legal value distinct from an
// unset head.
func (r Read) GetHead(ctx context.Context, name string) (string, bool, error) {
	v, ok, err := r.kvr.Get(ctx, headKey(name))
	if err != nil || !ok {
		return "", false, err
	}
	return string(v), true, nil
}
