package prolly

import (
	"bytes"
	"encoding/binary"
	"slices"
	"testing"

	"dagstore/internal/dag"
)

func collect(l *Leaf) []Entry {
	return slices.Collect(l.Entries())
}

func TestLeafRoundTrip(t *testing.T) {
	in := []Entry{
		{Key: []byte("a"), Val: []byte("1")},
		{Key: []byte("b"), Val: nil},
		{Key: []byte("cc"), Val: []byte("long value here")},
	}
	l := NewLeaf(slices.Values(in), nil)

	got := collect(&l)
	if len(got) != len(in) {
		t.Fatalf("expected %d entries, got %d", len(in), len(got))
	}
	for i := range in {
		if !bytes.Equal(got[i].Key, in[i].Key) || !bytes.Equal(got[i].Val, in[i].Val) {
			t.Fatalf("entry %d: got (%q,%q), want (%q,%q)", i, got[i].Key, got[i].Val, in[i].Key, in[i].Val)
		}
	}
	if len(l.Chunk().Refs()) != 0 {
		t.Fatal("leaf chunk must have no refs")
	}
}

func TestLeafEmpty(t *testing.T) {
	l := NewLeaf(slices.Values[[]Entry](nil), nil)
	if got := collect(&l); len(got) != 0 {
		t.Fatalf("expected no entries, got %d", len(got))
	}
}

func TestLeafNilYieldsNothing(t *testing.T) {
	var l *Leaf
	if got := slices.Collect(l.Entries()); len(got) != 0 {
		t.Fatalf("nil leaf yielded %d entries", len(got))
	}
}

func TestLeafPreservesInputOrder(t *testing.T) {
	// NewLeaf must not sort; it encodes what it is given.
	in := []Entry{
		{Key: []byte("z"), Val: []byte("1")},
		{Key: []byte("a"), Val: []byte("2")},
	}
	l := NewLeaf(slices.Values(in), nil)
	got := collect(&l)
	if len(got) != 2 || !bytes.Equal(got[0].Key, []byte("z")) {
		t.Fatalf("input order not preserved: %v", got)
	}
}

// encodeEntry builds one raw leaf entry with explicit flags.
func encodeEntry(flags byte, key, val []byte) []byte {
	var buf bytes.Buffer
	var scratch [4]byte
	buf.WriteByte(flags)
	binary.BigEndian.PutUint16(scratch[:2], uint16(len(key)))
	buf.Write(scratch[:2])
	buf.Write(key)
	binary.BigEndian.PutUint32(scratch[:4], uint32(len(val)))
	buf.Write(scratch[:4])
	buf.Write(val)
	return buf.Bytes()
}

func TestLeafSkipsEntriesWithMissingFields(t *testing.T) {
	var data []byte
	data = append(data, encodeEntry(entryHasKey|entryHasVal, []byte("a"), []byte("1"))...)
	data = append(data, encodeEntry(entryHasVal, []byte("damaged"), []byte("x"))...)
	data = append(data, encodeEntry(entryHasKey, []byte("alsodamaged"), nil)...)
	data = append(data, encodeEntry(entryHasKey|entryHasVal, []byte("b"), []byte("2"))...)

	l := LeafFromChunk(dag.NewChunk(data, nil), nil)
	got := collect(&l)
	if len(got) != 2 {
		t.Fatalf("expected 2 live entries, got %d", len(got))
	}
	if !bytes.Equal(got[0].Key, []byte("a")) || !bytes.Equal(got[1].Key, []byte("b")) {
		t.Fatalf("wrong entries survived: %v", got)
	}
}

func TestLeafStopsOnTruncation(t *testing.T) {
	var data []byte
	data = append(data, encodeEntry(entryHasKey|entryHasVal, []byte("a"), []byte("1"))...)
	whole := encodeEntry(entryHasKey|entryHasVal, []byte("b"), []byte("2"))
	data = append(data, whole[:len(whole)-1]...)

	l := LeafFromChunk(dag.NewChunk(data, nil), nil)
	got := collect(&l)
	if len(got) != 1 || !bytes.Equal(got[0].Key, []byte("a")) {
		t.Fatalf("expected only the intact entry, got %v", got)
	}
}

func TestLeafDeterministicChunk(t *testing.T) {
	in := []Entry{{Key: []byte("k"), Val: []byte("v")}}
	a := NewLeaf(slices.Values(in), nil)
	b := NewLeaf(slices.Values(in), nil)
	if a.Chunk().Hash() != b.Chunk().Hash() {
		t.Fatal("same entries must encode to the same chunk")
	}
}
