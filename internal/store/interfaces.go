// Package store implements the embedded, memory-mapped key-value engine
// the forest builder, writer, and reader are built on: an ordered store
// over (tag, node_id) keys, single-writer/multi-reader MVCC transactions,
// range scans restricted to internal nodes, a reserved metadata key per
// tag, and whole-segment atomic replacement instead of per-key
// compaction.
package store

import (
	"fmt"

	"github.com/vecforge/annoyforest/internal/codec"
)

// ErrNotFound is returned by ReadTxn.Get when no node exists at the given
// id in that transaction's snapshot.
var ErrNotFound = fmt.Errorf("store: node not found")

// ErrWriterBusy is returned by BeginWrite when a tag already has an open
// write transaction (spec §4.3: "a write transaction (single-writer,
// serializable)").
var ErrWriterBusy = fmt.Errorf("store: tag already has an open write transaction")

// ReadTxn is a snapshot-isolated read transaction over one tag. Multiple
// ReadTxns, including ones opened before and after a concurrent commit,
// may be open at once (spec §5).
type ReadTxn struct {
	store *Store
	tag   Tag
	seg   *segment // nil if the tag has never been committed
}

// Get returns the raw bytes for nodeID as of this transaction's snapshot.
func (t *ReadTxn) Get(nodeID uint32) ([]byte, error) {
	if t.seg == nil {
		return nil, ErrNotFound
	}
	raw, ok := t.seg.get(nodeID)
	if !ok {
		return nil, ErrNotFound
	}
	return raw, nil
}

// Metadata returns the tag's metadata record, or ErrNotFound if the tag
// has not been built yet.
func (t *ReadTxn) Metadata() ([]byte, error) {
	return t.Get(codec.MetadataNodeID)
}

// ScanInternal iterates every split/descendants node in the snapshot,
// stopping early if fn returns false (spec §4.3 "range iteration over all
// internal nodes of a tag").
func (t *ReadTxn) ScanInternal(fn func(nodeID uint32, raw []byte) bool) {
	if t.seg == nil {
		return
	}
	t.seg.scanInternal(fn)
}

// ScanItems iterates every item node in the snapshot, stopping early if
// fn returns false. Used by the reader façade to enumerate ids and by
// diagnostic validation.
func (t *ReadTxn) ScanItems(fn func(nodeID uint32, raw []byte) bool) {
	if t.seg == nil {
		return
	}
	t.seg.scanAllItems(fn)
}

// Close releases this transaction's hold on its segment snapshot. Once
// every ReadTxn referencing a superseded segment has closed, the store
// reclaims that segment's file (spec §3, "garbage-reclaimed in bulk").
func (t *ReadTxn) Close() error {
	if t.seg == nil {
		return nil
	}
	t.store.releaseSegment(t.tag, t.seg)
	return nil
}

// writeOp is one staged mutation within an open WriteTxn, replayed in
// order against the prior segment's item nodes at Commit time.
type writeOp struct {
	del    bool
	nodeID uint32
	raw    []byte
}

// WriteTxn is the single long-lived write transaction a Writer holds
// across an entire build (spec §4.3, §4.5, §5): item puts/deletes during
// ingest, then the builder's batched split/descendants puts, then the
// metadata put, then Commit.
type WriteTxn struct {
	store *Store
	tag   Tag
	ops   []writeOp
}

// Put stages a node write. Callers (the writer for item nodes, the
// builder's batch accumulator for split/descendants nodes) must call
// Commit before the bytes become visible to any reader.
func (t *WriteTxn) Put(nodeID uint32, raw []byte) error {
	if err := t.store.appendWAL(t.tag, nodeID, raw, false); err != nil {
		return err
	}
	t.ops = append(t.ops, writeOp{nodeID: nodeID, raw: raw})
	return nil
}

// Delete stages removal of nodeID, whether it currently lives in the prior
// committed segment or only in this transaction's own staged puts.
func (t *WriteTxn) Delete(nodeID uint32) error {
	if err := t.store.appendWAL(t.tag, nodeID, nil, true); err != nil {
		return err
	}
	t.ops = append(t.ops, writeOp{del: true, nodeID: nodeID})
	return nil
}

// Clear discards every op staged so far in this transaction, including
// ones recovered from the WAL after a crash (Writer.Clear, spec §4.5).
func (t *WriteTxn) Clear() error {
	if err := t.store.appendClearWAL(t.tag); err != nil {
		return err
	}
	t.ops = nil
	return nil
}

// Commit materializes a fresh segment from the prior segment's item nodes
// (if any) with this transaction's ops replayed on top, publishes it
// atomically, and truncates the WAL now that everything is durable inside
// the segment file (spec §5, "the store's transaction commit is the
// linearization point").
func (t *WriteTxn) Commit() error {
	return t.store.commit(t.tag, t.ops)
}

// Rollback discards every staged op without touching the committed
// segment (spec §7, "leave no partial state visible").
func (t *WriteTxn) Rollback() error {
	return t.store.rollback(t.tag)
}

// StagedOp is one op already staged (and WAL-durable) in this
// transaction, exported so a crashed-and-restarted writer can rebuild its
// in-memory active set from whatever BeginWrite recovered.
type StagedOp struct {
	Del    bool
	NodeID uint32
	Raw    []byte
}

// StagedOps returns every op staged so far in this transaction, in the
// order they were applied (including ones recovered from the WAL).
func (t *WriteTxn) StagedOps() []StagedOp {
	out := make([]StagedOp, len(t.ops))
	for i, op := range t.ops {
		out[i] = StagedOp{Del: op.del, NodeID: op.nodeID, Raw: op.raw}
	}
	return out
}
