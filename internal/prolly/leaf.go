// Package prolly implements an ordered key/value map layered over the DAG
// store. The persisted base is a single immutable leaf chunk; in-memory
// mutations (insertions and tombstones) overlay it and are merged into a
// single sorted iteration.
package prolly

import (
	"bytes"
	"encoding/binary"
	"iter"
	"log/slog"

	"dagstore/internal/dag"
	"dagstore/internal/logging"
)

// Entry is one key/value pair. Entries yielded from a leaf alias the leaf
// chunk's buffer; callers must not modify them.
type Entry struct {
	Key []byte
	Val []byte
}

// Leaf entry encoding, repeated over the chunk data:
//
//	[flags u8][klen u16 BE][key][vlen u32 BE][val]
//
// The flag bits mark key and value presence. The writer always sets both; a
// clear bit in stored data marks a damaged entry, which iteration skips.
const (
	entryHasKey = 0x01
	entryHasVal = 0x02
)

// Leaf is an immutable ordered sequence of entries encoded as one chunk.
// Its chunk has no refs.
type Leaf struct {
	chunk  dag.Chunk
	logger *slog.Logger
}

// NewLeaf encodes the entries, in input order, into a single chunk. Callers
// provide entries already sorted; NewLeaf does not sort.
func NewLeaf(entries iter.Seq[Entry], logger *slog.Logger) Leaf {
	var buf bytes.Buffer
	var scratch [4]byte
	for e := range entries {
		buf.WriteByte(entryHasKey | entryHasVal)
		binary.BigEndian.PutUint16(scratch[:2], uint16(len(e.Key)))
		buf.Write(scratch[:2])
		buf.Write(e.Key)
		binary.BigEndian.PutUint32(scratch[:4], uint32(len(e.Val)))
		buf.Write(scratch[:4])
		buf.Write(e.Val)
	}
	return Leaf{
		chunk:  dag.NewChunk(buf.Bytes(), nil),
		logger: logging.Default(logger).With("component", "prolly"),
	}
}

// LeafFromChunk wraps a chunk read back from the store.
func LeafFromChunk(c dag.Chunk, logger *slog.Logger) Leaf {
	return Leaf{chunk: c, logger: logging.Default(logger).With("component", "prolly")}
}

// Chunk returns the chunk encoding this leaf.
func (l *Leaf) Chunk() dag.Chunk {
	return l.chunk
}

// Entries yields the leaf's entries in stored order. Damaged entries (a
// missing key or value, or a truncated record) are skipped with a warning;
// truncation ends the iteration. A nil leaf yields nothing.
func (l *Leaf) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		if l == nil {
			return
		}
		data := l.chunk.Data()
		off := 0
		for off < len(data) {
			flags := data[off]
			off++

			var key, val []byte
			var ok bool
			key, off, ok = readField(data, off, 2)
			if !ok {
				l.logger.Warn("truncated leaf entry, stopping iteration", "chunk", l.chunk.Hash(), "offset", off)
				return
			}
			val, off, ok = readField(data, off, 4)
			if !ok {
				l.logger.Warn("truncated leaf entry, stopping iteration", "chunk", l.chunk.Hash(), "offset", off)
				return
			}

			if flags&entryHasKey == 0 || flags&entryHasVal == 0 {
				l.logger.Warn("skipping leaf entry with missing field", "chunk", l.chunk.Hash(), "flags", flags)
				continue
			}
			if !yield(Entry{Key: key, Val: val}) {
				return
			}
		}
	}
}

// readField reads one length-prefixed field (widthBytes-wide length) from
// data at off, returning the field, the new offset, and whether the read
// stayed in bounds.
func readField(data []byte, off, widthBytes int) ([]byte, int, bool) {
	if off+widthBytes > len(data) {
		return nil, off, false
	}
	var n int
	if widthBytes == 2 {
		n = int(binary.BigEndian.Uint16(data[off : off+2]))
	} else {
		n = int(binary.BigEndian.Uint32(data[off : off+4]))
	}
	off += widthBytes
	if off+n > len(data) {
		return nil, off, false
	}
	return data[off : off+n], off + n, true
}
