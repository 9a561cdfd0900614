// Package dag implements a transactional, content-addressed DAG store over a
// kv.Store. Chunks are immutable blobs that reference each other by content
// hash; named heads pin DAG roots. Commit-time garbage collection keeps a
// chunk persisted exactly while it is reachable from some head, tracked by
// per-chunk reference counts.
package dag

import (
	"crypto/sha512"
	"encoding/base32"
	"encoding/binary"
)

// hashEncoding renders hashes as lowercase base32hex, no padding.
var hashEncoding = base32.NewEncoding("0123456789abcdefghijklmnopqrstuv").WithPadding(base32.NoPadding)

// Chunk is the immutable unit of storage: opaque data plus an ordered list
// of hashes of the chunks it references. The hash is a stable function of
// (data, refs); two chunks are equal iff their hashes match.
type Chunk struct {
	hash string
	data []byte
	refs []string
}

// NewChunk builds a chunk from data and refs, computing its content hash.
// The caller must not modify data or refs afterwards.
func NewChunk(data []byte, refs []string) Chunk {
	return Chunk{hash: hashOf(data, refs), data: data, refs: refs}
}

// chunkFromStore rebuilds a chunk read back from the store under its
// persisted hash. No hash recomputation: heads may pin hashes that were
// never produced by NewChunk.
func chunkFromStore(hash string, data []byte, refs []string) Chunk {
	return Chunk{hash: hash, data: data, refs: refs}
}

// Hash returns the chunk's content hash.
func (c Chunk) Hash() string { return c.hash }

// Data returns the chunk's data bytes. Callers must not modify them.
func (c Chunk) Data() []byte { return c.data }

// Refs returns the hashes of the chunks this chunk references, in order.
// May contain duplicates. Callers must not modify the slice.
func (c Chunk) Refs() []string { return c.refs }

// Meta returns the encoded metadata record for a freshly written chunk
// (refs, count=0), or nil when the chunk has no refs and therefore needs no
// record.
func (c Chunk) Meta() []byte {
	return CreateMeta(c.refs, 0)
}

// hashOf computes the content hash over the refs and data, length-framing
// each ref so distinct (data, refs) pairs cannot collide by concatenation.
func hashOf(data []byte, refs []string) string {
	h := sha512.New512_256()
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(refs)))
	h.Write(n[:])
	for _, r := range refs {
		binary.BigEndian.PutUint32(n[:], uint32(len(r)))
		h.Write(n[:])
		h.Write([]byte(r))
	}
	h.Write(data)
	return hashEncoding.EncodeToString(h.Sum(nil))
}
