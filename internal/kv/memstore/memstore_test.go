package memstore

import (
	"bytes"
	"testing"
)

func TestPutGetCommit(t *testing.T) {
	ctx := t.Context()
	s := New()

	w, err := s.Write(ctx)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Uncommitted writes are visible inside the transaction.
	v, ok, err := w.Get(ctx, "k")
	if err != nil || !ok || !bytes.Equal(v, []byte("v")) {
		t.Fatalf("get in tx: %q %v %v", v, ok, err)
	}

	// But not outside it.
	r, err := s.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if _, ok, _ := r.Get(ctx, "k"); ok {
		t.Fatal("uncommitted write visible in snapshot")
	}
	r.Release()

	if err := w.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	r, err = s.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	defer r.Release()
	v, ok, err = r.Get(ctx, "k")
	if err != nil || !ok || !bytes.Equal(v, []byte("v")) {
		t.Fatalf("get after commit: %q %v %v", v, ok, err)
	}
}

func TestRollbackDiscards(t *testing.T) {
	ctx := t.Context()
	s := New()

	w, _ := s.Write(ctx)
	if err := w.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := w.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	r, _ := s.Read(ctx)
	defer r.Release()
	if ok, _ := r.Has(ctx, "k"); ok {
		t.Fatal("rolled-back write persisted")
	}
}

func TestDelOverlay(t *testing.T) {
	ctx := t.Context()
	s := New()

	w, _ := s.Write(ctx)
	w.Put(ctx, "k", []byte("v"))
	if err := w.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	w, _ = s.Write(ctx)
	if err := w.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if ok, _ := w.Has(ctx, "k"); ok {
		t.Fatal("deleted key visible inside tx")
	}
	// Deleting an absent key is fine.
	if err := w.Del(ctx, "missing"); err != nil {
		t.Fatalf("del missing: %v", err)
	}
	if err := w.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	r, _ := s.Read(ctx)
	defer r.Release()
	if ok, _ := r.Has(ctx, "k"); ok {
		t.Fatal("delete did not commit")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	ctx := t.Context()
	s := New()

	w, _ := s.Write(ctx)
	w.Put(ctx, "k", []byte("old"))
	w.Commit(ctx)

	r, _ := s.Read(ctx)
	defer r.Release()

	w, _ = s.Write(ctx)
	w.Put(ctx, "k", []byte("new"))
	w.Commit(ctx)

	v, ok, _ := r.Get(ctx, "k")
	if !ok || !bytes.Equal(v, []byte("old")) {
		t.Fatalf("snapshot moved: %q %v", v, ok)
	}
}

func TestSingleWriter(t *testing.T) {
	ctx := t.Context()
	s := New()

	w1, err := s.Write(ctx)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	started := make(chan struct{})
	acquired := make(chan struct{})
	go func() {
		close(started)
		w2, err := s.Write(ctx)
		if err != nil {
			panic(err)
		}
		close(acquired)
		w2.Rollback(ctx)
	}()

	<-started
	select {
	case <-acquired:
		t.Fatal("second writer acquired while first active")
	default:
	}

	w1.Rollback(ctx)
	<-acquired
}

func TestFinishedTx(t *testing.T) {
	ctx := t.Context()
	s := New()

	w, _ := s.Write(ctx)
	w.Commit(ctx)

	if err := w.Put(ctx, "k", nil); err != ErrTxFinished {
		t.Fatalf("expected ErrTxFinished, got %v", err)
	}
	if err := w.Commit(ctx); err != ErrTxFinished {
		t.Fatalf("expected ErrTxFinished, got %v", err)
	}
}

func TestClosed(t *testing.T) {
	ctx := t.Context()
	s := New()
	s.Close()

	if _, err := s.Read(ctx); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := s.Write(ctx); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
