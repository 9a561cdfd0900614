package dag

import (
	"encoding/binary"
	"errors"
	"iter"
)

// ErrCorruptMeta reports a chunk metadata record that does not decode.
// Callers abort the transaction; the record is never partially applied.
var ErrCorruptMeta = errors.New("dag: corrupt chunk metadata")

// The metadata record is a self-describing binary encoding of
// (refs, refcount):
//
//	[count u16 BE][nrefs u32 BE]([len u16 BE][ref bytes])...
//
// Length prefixes let refs be walked in place without materializing the
// whole list. A record is absent (nil) exactly when refs is empty and the
// count is zero.

// CreateMeta encodes a metadata record. Returns nil when refs is empty and
// count is zero, signalling that the record should be deleted rather than
// written.
func CreateMeta(refs []string, count uint16) []byte {
	if len(refs) == 0 && count == 0 {
		return nil
	}
	size := 2 + 4
	for _, r := range refs {
		size += 2 + len(r)
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint16(buf[0:2], count)
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(refs)))
	off := 6
	for _, r := range refs {
		binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(r)))
		off += 2
		copy(buf[off:], r)
		off += len(r)
	}
	return buf
}

// Meta is a decoded view over an encoded metadata record. It keeps the
// underlying buffer and walks refs lazily.
type Meta struct {
	buf []byte
}

// DecodeMeta validates buf and returns a view over it. The buffer must not
// be modified while the Meta is in use.
func DecodeMeta(buf []byte) (Meta, error) {
	if len(buf) < 6 {
		return Meta{}, ErrCorruptMeta
	}
	nrefs := binary.BigEndian.Uint32(buf[2:6])
	off := 6
	for range nrefs {
		if off+2 > len(buf) {
			return Meta{}, ErrCorruptMeta
		}
		l := int(binary.BigEndian.Uint16(buf[off : off+2]))
		off += 2
		if off+l > len(buf) {
			return Meta{}, ErrCorruptMeta
		}
		off += l
	}
	if off != len(buf) {
		return Meta{}, ErrCorruptMeta
	}
	return Meta{buf: buf}, nil
}

// Count returns the stored reference count.
func (m Meta) Count() uint16 {
	return binary.BigEndian.Uint16(m.buf[0:2])
}

// NumRefs returns the number of refs in the record.
func (m Meta) NumRefs() int {
	return int(binary.BigEndian.Uint32(m.buf[2:6]))
}

// Refs yields the record's refs in order, decoding each from the buffer as
// it is visited.
func (m Meta) Refs() iter.Seq[string] {
	return func(yield func(string) bool) {
		off := 6
		for range m.NumRefs() {
			l := int(binary.BigEndian.Uint16(m.buf[off : off+2]))
			off += 2
			if !yield(string(m.buf[off : off+l])) {
				return
			}
			off += l
		}
	}
}

// refSlice materializes the refs. Used where the list is re-encoded.
func (m Meta) refSlice() []string {
	refs := make([]string, 0, m.NumRefs())
	for r := range m.Refs() {
		refs = append(refs, r)
	}
	return refs
}
