package dag

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"dagstore/internal/kv"
	"dagstore/internal/logging"
)

// headChange records one SetHead/DeleteHead call: the value the head was
// given and the value it had at that moment. nil means absent; the empty
// string is a real (if dangling) hash.
type headChange struct {
	new *string
	old *string
}

// Write is an exclusive read-write transaction over the DAG. It journals
// every head change and remembers every chunk written; Commit replays the
// journal through the reference-count garbage collector before handing the
// transaction to the KV backend.
//
// A committed or rolled-back Write must not be used again.
type Write struct {
	kvw    kv.Write
	logger *slog.Logger

	// mu guards changedHeads and mutated. The mutating methods run with
	// the caller's exclusive access; the collector's concurrent orphan
	// sweep reads under RLock and suppresses set mutation.
	mu           sync.RWMutex
	changedHeads []headChange
	mutated      map[string]struct{}
}

// NewWrite takes exclusive ownership of the KV transaction. logger may be
// nil.
func NewWrite(kvw kv.Write, logger *slog.Logger) *Write {
	return &Write{
		kvw:     kvw,
		logger:  logging.Default(logger).With("component", "dag"),
		mutated: make(map[string]struct{}),
	}
}

// Read returns a transaction-local read view observing uncommitted writes.
func (w *Write) Read() Read {
	return NewRead(w.kvw)
}

// PutChunk writes a chunk's data and, when it has refs, its metadata
// record. Writing a chunk never changes its live reference count: if a
// record with a nonzero count already exists, the new refs are re-encoded
// against that count.
func (w *Write) PutChunk(ctx context.Context, c Chunk) error {
	if err := w.kvw.Put(ctx, chunkDataKey(c.Hash()), c.Data()); err != nil {
		return err
	}

	if buf := c.Meta(); buf != nil {
		oldCount, err := w.getRefCount(ctx, c.Hash())
		if err != nil {
			return err
		}
		if oldCount != 0 {
			buf = CreateMeta(c.Refs(), oldCount)
		}
		if err := w.kvw.Put(ctx, chunkMetaKey(c.Hash()), buf); err != nil {
			return err
		}
	}

	w.mu.Lock()
	w.mutated[c.Hash()] = struct{}{}
	w.mu.Unlock()
	return nil
}

// SetHead points the named head at hash. The hash is not validated against
// stored chunks; dangling heads are legal.
func (w *Write) SetHead(ctx context.Context, name, hash string) error {
	return w.setHead(ctx, name, &hash)
}

// DeleteHead removes the named head.
func (w *Write) DeleteHead(ctx context.Context, name string) error {
	return w.setHead(ctx, name, nil)
}

func (w *Write) setHead(ctx context.Context, name string, hash *string) error {
	var old *string
	if v, ok, err := w.Read().GetHead(ctx, name); err != nil {
		return err
	} else if ok {
		old = &v
	}

	key := headKey(name)
	if hash == nil {
		if err := w.kvw.Del(ctx, key); err != nil {
			return err
		}
	} else {
		if err := w.kvw.Put(ctx, key, []byte(*hash)); err != nil {
			return err
		}
	}

	w.mu.Lock()
	w.changedHeads = append(w.changedHeads, headChange{new: hash, old: old})
	w.mu.Unlock()
	return nil
}

// Commit runs garbage collection over the journaled head changes and the
// mutated chunks, then commits the KV transaction.
func (w *Write) Commit(ctx context.Context) error {
	if err := w.collectGarbage(ctx); err != nil {
		return err
	}
	return w.kvw.Commit(ctx)
}

// Rollback discards the transaction.
func (w *Write) Rollback(ctx context.Context) error {
	return w.kvw.Rollback(ctx)
}

func (w *Write) collectGarbage(ctx context.Context) error {
	// Increments run strictly before decrements so a chunk whose count
	// transitions 1 -> 0 -> 1 across different heads is not removed.
	w.mu.RLock()
	changed := make([]headChange, len(w.changedHeads))
	copy(changed, w.changedHeads)
	w.mu.RUnlock()

	for _, hc := range changed {
		if hc.new != nil {
			if err := w.changeRefCount(ctx, *hc.new, 1); err != nil {
				return err
			}
		}
	}
	for _, hc := range changed {
		if hc.old != nil {
			if err := w.changeRefCount(ctx, *hc.old, -1); err != nil {
				return err
			}
		}
	}

	// Sweep chunks that were written this transaction but never became
	// reachable. Removals here must not mutate the set being swept.
	w.mu.RLock()
	mutated := make([]string, 0, len(w.mutated))
	for h := range w.mutated {
		mutated = append(mutated, h)
	}
	w.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, hash := range mutated {
		g.Go(func() error {
			count, err := w.getRefCount(gctx, hash)
			if err != nil {
				return err
			}
			if count == 0 {
				return w.removeAllRelatedKeys(gctx, hash, false)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	w.logger.Debug("garbage collected", "head_changes", len(changed), "mutated_chunks", len(mutated))
	return nil
}

// changeRefCount applies delta (+1 or -1) to a chunk's reference count,
// cascading into its refs exactly when the chunk crosses the 0<->1
// reachability boundary. Intermediate transitions leave children untouched.
// Traversal uses an explicit stack; depth is bounded by the DAG, not the
// call stack.
func (w *Write) changeRefCount(ctx context.Context, hash string, delta int) error {
	stack := []string{hash}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		oldCount, err := w.getRefCount(ctx, h)
		if err != nil {
			return err
		}
		newCount := int(oldCount) + delta

		if (oldCount == 0 && delta == 1) || (oldCount == 1 && delta == -1) {
			buf, ok, err := w.kvw.Get(ctx, chunkMetaKey(h))
			if err != nil {
				return err
			}
			if ok {
				m, err := DecodeMeta(buf)
				if err != nil {
					return err
				}
				for r := range m.Refs() {
					stack = append(stack, r)
				}
			}
		}

		// Counts never drop below zero; a decrement of an uncounted
		// chunk removes it rather than wrapping the u16.
		if newCount <= 0 {
			if err := w.removeAllRelatedKeys(ctx, h, true); err != nil {
				return err
			}
		} else {
			if err := w.setRefCount(ctx, h, uint16(newCount)); err != nil {
				return err
			}
		}
	}
	return nil
}

// setRefCount rewrites a chunk's metadata record with the given count,
// preserving its refs exactly. When the codec signals absence (no refs,
// count zero) the record is deleted instead.
func (w *Write) setRefCount(ctx context.Context, hash string, count uint16) error {
	key := chunkMetaKey(hash)
	buf, ok, err := w.kvw.Get(ctx, key)
	if err != nil {
		return err
	}

	var refs []string
	if ok {
		m, err := DecodeMeta(buf)
		if err != nil {
			return err
		}
		refs = m.refSlice()
	}

	enc := CreateMeta(refs, count)
	switch {
	case enc == nil && ok:
		return w.kvw.Del(ctx, key)
	case enc == nil:
		return nil
	default:
		return w.kvw.Put(ctx, key, enc)
	}
}

func (w *Write) getRefCount(ctx context.Context, hash string) (uint16, error) {
	buf, ok, err := w.kvw.Get(ctx, chunkMetaKey(hash))
	if err != nil || !ok {
		return 0, err
	}
	m, err := DecodeMeta(buf)
	if err != nil {
		return 0, err
	}
	return m.Count(), nil
}

// removeAllRelatedKeys deletes a chunk's data and metadata.
// updateMutated removes the hash from the mutated set so the commit sweep
// does not revisit an already-deleted chunk; the sweep itself passes false
// because it iterates a snapshot of that set.
func (w *Write) removeAllRelatedKeys(ctx context.Context, hash string, updateMutated bool) error {
	if err := w.kvw.Del(ctx, chunkDataKey(hash)); err != nil {
		return err
	}
	if err := w.kvw.Del(ctx, chunkMetaKey(hash)); err != nil {
		return err
	}
	if updateMutated {
		w.mu.Lock()
		delete(w.mutated, hash)
		w.mu.Unlock()
	}
	return nil
}
