package store

import (
	"os"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "annoyforest-store-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBeginReadOnUncommittedTagReturnsNotFound(t *testing.T) {
	s := openTestStore(t)

	rtx, err := s.BeginRead(1)
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer rtx.Close()

	if _, err := rtx.Get(0); err != ErrNotFound {
		t.Fatalf("Get on empty tag: got %v, want ErrNotFound", err)
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	wtx, err := s.BeginWrite(1)
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}

	if err := wtx.Put(0, []byte("item-0")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := wtx.Put(1, []byte("item-1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := wtx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rtx, err := s.BeginRead(1)
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer rtx.Close()

	got, err := rtx.Get(0)
	if err != nil {
		t.Fatalf("Get(0): %v", err)
	}
	if string(got) != "item-0" {
		t.Fatalf("Get(0) = %q, want item-0", got)
	}

	got, err = rtx.Get(1)
	if err != nil {
		t.Fatalf("Get(1): %v", err)
	}
	if string(got) != "item-1" {
		t.Fatalf("Get(1) = %q, want item-1", got)
	}
}

func TestSecondWriterBlockedUntilFirstFinishes(t *testing.T) {
	s := openTestStore(t)

	wtx, err := s.BeginWrite(1)
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}

	if _, err := s.BeginWrite(1); err != ErrWriterBusy {
		t.Fatalf("second BeginWrite: got %v, want ErrWriterBusy", err)
	}

	if err := wtx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	wtx2, err := s.BeginWrite(1)
	if err != nil {
		t.Fatalf("BeginWrite after commit: %v", err)
	}
	if err := wtx2.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
}

func TestReaderSnapshotSurvivesConcurrentRebuild(t *testing.T) {
	s := openTestStore(t)

	wtx, _ := s.BeginWrite(1)
	wtx.Put(0, []byte("v1"))
	if err := wtx.Commit(); err != nil {
		t.Fatalf("Commit 1: %v", err)
	}

	rtxOld, err := s.BeginRead(1)
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}

	wtx2, _ := s.BeginWrite(1)
	wtx2.Put(0, []byte("v2"))
	if err := wtx2.Commit(); err != nil {
		t.Fatalf("Commit 2: %v", err)
	}

	got, err := rtxOld.Get(0)
	if err != nil {
		t.Fatalf("Get on pinned snapshot: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("pinned snapshot = %q, want v1 (should be unaffected by the later commit)", got)
	}

	rtxNew, err := s.BeginRead(1)
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer rtxNew.Close()

	got, err = rtxNew.Get(0)
	if err != nil {
		t.Fatalf("Get on fresh snapshot: %v", err)
	}
	if string(got) != "v2" {
		t.Fatalf("fresh snapshot = %q, want v2", got)
	}

	if err := rtxOld.Close(); err != nil {
		t.Fatalf("Close pinned snapshot: %v", err)
	}
}

func TestDeleteRemovesNodeFromNextGeneration(t *testing.T) {
	s := openTestStore(t)

	wtx, _ := s.BeginWrite(1)
	wtx.Put(0, []byte("keep"))
	wtx.Put(1, []byte("drop"))
	if err := wtx.Commit(); err != nil {
		t.Fatalf("Commit 1: %v", err)
	}

	wtx2, _ := s.BeginWrite(1)
	if err := wtx2.Delete(1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := wtx2.Commit(); err != nil {
		t.Fatalf("Commit 2: %v", err)
	}

	rtx, err := s.BeginRead(1)
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer rtx.Close()

	if _, err := rtx.Get(1); err != ErrNotFound {
		t.Fatalf("Get(1) after delete: got %v, want ErrNotFound", err)
	}
	if got, err := rtx.Get(0); err != nil || string(got) != "keep" {
		t.Fatalf("Get(0) after unrelated delete: got (%q, %v), want (keep, nil)", got, err)
	}
}

func TestScanInternalSkipsItemsAndMetadata(t *testing.T) {
	s := openTestStore(t)

	const itemID = 0
	const internalID = 0x80000001
	const metadataID = 0xFFFFFFFF

	wtx, _ := s.BeginWrite(1)
	wtx.Put(itemID, []byte("item"))
	wtx.Put(internalID, []byte("split"))
	wtx.Put(metadataID, []byte("meta"))
	if err := wtx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rtx, err := s.BeginRead(1)
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer rtx.Close()

	seen := map[uint32][]byte{}
	rtx.ScanInternal(func(id uint32, raw []byte) bool {
		seen[id] = append([]byte(nil), raw...)
		return true
	})

	if len(seen) != 1 {
		t.Fatalf("ScanInternal visited %d nodes, want 1", len(seen))
	}
	if string(seen[internalID]) != "split" {
		t.Fatalf("ScanInternal missed the internal node")
	}
}

func TestReopenRecoversLatestGeneration(t *testing.T) {
	dir, err := os.MkdirTemp("", "annoyforest-store-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	wtx, _ := s1.BeginWrite(1)
	wtx.Put(0, []byte("persisted"))
	if err := wtx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	rtx, err := s2.BeginRead(1)
	if err != nil {
		t.Fatalf("BeginRead after reopen: %v", err)
	}
	defer rtx.Close()

	got, err := rtx.Get(0)
	if err != nil || string(got) != "persisted" {
		t.Fatalf("Get(0) after reopen: got (%q, %v), want (persisted, nil)", got, err)
	}
}

func TestRollbackDiscardsStagedOps(t *testing.T) {
	s := openTestStore(t)

	wtx, err := s.BeginWrite(1)
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := wtx.Put(0, []byte("never-committed")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := wtx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	wtx2, err := s.BeginWrite(1)
	if err != nil {
		t.Fatalf("BeginWrite after rollback: %v", err)
	}
	if err := wtx2.Put(1, []byte("committed")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := wtx2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rtx, err := s.BeginRead(1)
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer rtx.Close()

	if _, err := rtx.Get(0); err != ErrNotFound {
		t.Fatalf("Get(0) after rollback: got %v, want ErrNotFound (rollback must not leak into a later commit)", err)
	}
	if got, err := rtx.Get(1); err != nil || string(got) != "committed" {
		t.Fatalf("Get(1): got (%q, %v), want (committed, nil)", got, err)
	}
}
