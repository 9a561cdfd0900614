package prolly

import (
	"bytes"
	"context"
	"iter"
	"log/slog"
	"slices"

	"dagstore/internal/dag"
	"dagstore/internal/logging"
)

// mutation is one pending change: an inserted value or a tombstone.
type mutation struct {
	val []byte
	del bool
}

// Map is an ordered byte-string map: an optional base leaf plus a pending
// mutation set. Reads merge both sides; Flush persists the merged state as
// a new base leaf through a DAG write transaction.
//
// Map is not safe for concurrent use.
type Map struct {
	base    *Leaf
	pending map[string]mutation
	logger  *slog.Logger
}

// NewMap returns an empty map with no base. logger may be nil.
func NewMap(logger *slog.Logger) *Map {
	return &Map{
		pending: make(map[string]mutation),
		logger:  logging.Default(logger),
	}
}

// LoadMap returns a map whose base is the leaf encoded by chunk.
func LoadMap(c dag.Chunk, logger *slog.Logger) *Map {
	m := NewMap(logger)
	leaf := LeafFromChunk(c, m.logger)
	m.base = &leaf
	return m
}

// Put stages an insertion or overwrite. The key and value are copied.
func (m *Map) Put(key, val []byte) {
	m.pending[string(key)] = mutation{val: bytes.Clone(val)}
}

// Del stages a deletion. Deleting a key absent from both the base and the
// pending set is harmless: the tombstone suppresses nothing.
func (m *Map) Del(key []byte) {
	m.pending[string(key)] = mutation{del: true}
}

// Has reports whether key has a live entry.
func (m *Map) Has(key []byte) bool {
	_, ok := m.Get(key)
	return ok
}

// Get returns the live entry for key.
func (m *Map) Get(key []byte) (Entry, bool) {
	for e := range m.Iter() {
		switch bytes.Compare(e.Key, key) {
		case 0:
			return e, true
		case 1:
			return Entry{}, false
		}
	}
	return Entry{}, false
}

// Iter merges the base leaf and the pending set into one ordered sequence
// of live entries. A pending entry for a key supersedes the base entry;
// tombstones yield nothing. Neither side is materialized beyond the sorted
// pending key list.
func (m *Map) Iter() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		keys := make([]string, 0, len(m.pending))
		for k := range m.pending {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		next, stop := iter.Pull(m.base.Entries())
		defer stop()

		be, bok := next()
		pi := 0
		for {
			pok := pi < len(keys)
			if !pok && !bok {
				return
			}

			// Yield from the pending side when the base is exhausted
			// or the pending key sorts first; on equal keys the
			// pending entry supersedes the base entry.
			if pok && (!bok || keys[pi] <= string(be.Key)) {
				if bok && keys[pi] == string(be.Key) {
					be, bok = next()
				}
				mut := m.pending[keys[pi]]
				key := keys[pi]
				pi++
				if mut.del {
					continue
				}
				if !yield(Entry{Key: []byte(key), Val: mut.val}) {
					return
				}
				continue
			}

			e := be
			be, bok = next()
			if !yield(e) {
				return
			}
		}
	}
}

// Flush builds a new leaf from the merged iteration, writes it as a chunk
// through w, makes it the new base, clears the pending set, and returns the
// chunk's hash.
func (m *Map) Flush(ctx context.Context, w *dag.Write) (string, error) {
	leaf := NewLeaf(m.Iter(), m.logger)
	if err := w.PutChunk(ctx, leaf.Chunk()); err != nil {
		return "", err
	}
	m.base = &leaf
	clear(m.pending)
	return leaf.Chunk().Hash(), nil
}
