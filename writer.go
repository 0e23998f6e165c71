// Package annoyforest builds and serves approximate nearest-neighbor
// search over a forest of random-projection binary trees, backed by an
// embedded memory-mapped key-value store (internal/store). Writer stages
// an active item set and (re)builds the forest; Reader serves snapshot-
// isolated queries against whatever forest was last committed.
package annoyforest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/vecforge/annoyforest/internal/builder"
	"github.com/vecforge/annoyforest/internal/codec"
	"github.com/vecforge/annoyforest/internal/kernel"
	"github.com/vecforge/annoyforest/internal/obs"
	"github.com/vecforge/annoyforest/internal/store"
)

// writerState is the Writer's lifecycle (spec §4.5): OPEN accepts
// AddItem/DelItem; once at least one item has been staged it is
// POPULATED; Build transitions to BUILT once the forest is staged;
// Commit transitions to COMMITTED, after which the Writer is spent.
type writerState int

const (
	stateOpen writerState = iota
	statePopulated
	stateBuilt
	stateCommitted
)

var (
	metricsOnce   sync.Once
	globalMetrics *obs.Metrics

	breakerOnce sync.Once
	breakers    *obs.CircuitBreakerManager
)

func metricsInstance() *obs.Metrics {
	metricsOnce.Do(func() { globalMetrics = obs.NewMetrics() })
	return globalMetrics
}

func storeBreaker() *obs.CircuitBreaker {
	breakerOnce.Do(func() { breakers = obs.NewCircuitBreakerManager() })
	return breakers.GetOrCreate("store", obs.DefaultCircuitBreakerConfig("store"))
}

// Writer stages item puts/deletes against one tag and, on Build, compiles
// them into a forest; Commit publishes the result atomically (spec §4.5).
type Writer struct {
	st    *store.Store
	tag   store.Tag
	cfg   config
	txn   *store.WriteTxn
	state writerState

	active  map[uint32][]float32 // raw, untransformed vectors staged this txn
	maxNorm float32              // max ||v|| across active, for DotProduct; recomputed by Build (spec §9)

	metrics *obs.Metrics
}

// NewWriter opens a write transaction over tag and recovers any items a
// prior writer staged but never committed (spec §5 crash durability).
// WithDimension is required; the metric defaults to Euclidean when
// WithMetric is not given.
func NewWriter(st *store.Store, tag store.Tag, opts ...Option) (*Writer, error) {
	cfg := config{metric: kernel.Euclidean}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, newErr("NewWriter", ErrInvalidVector, "invalid option", err)
		}
	}
	if cfg.dimension <= 0 {
		return nil, newErr("NewWriter", ErrInvalidVector, "WithDimension is required", nil)
	}

	if err := checkMetricMatchesCommitted(st, tag, cfg.metric); err != nil {
		return nil, err
	}

	txn, err := st.BeginWrite(tag)
	if err != nil {
		return nil, newErr("NewWriter", ErrStoreError, "begin write transaction", err)
	}

	w := &Writer{st: st, tag: tag, cfg: cfg, txn: txn, active: make(map[uint32][]float32)}
	if cfg.metricsEnabled {
		w.metrics = metricsInstance()
	}

	recovered, err := recoverActiveItems(txn, cfg)
	if err != nil {
		return nil, newErr("NewWriter", ErrCorruptNode, "recover staged items from wal", err)
	}
	w.active = recovered.vectors
	w.maxNorm = recovered.maxNorm
	if len(w.active) > 0 {
		w.state = statePopulated
	}

	return w, nil
}

// checkMetricMatchesCommitted rejects rebuilding an already-built tag under
// a different metric: the forest's split/descendants nodes and the item
// nodes' trailers are all encoded for one metric, so merging a second
// metric's item nodes in would silently corrupt distance comparisons
// rather than fail loudly.
func checkMetricMatchesCommitted(st *store.Store, tag store.Tag, metric kernel.Metric) error {
	rtxn, err := st.BeginRead(tag)
	if err != nil {
		return newErr("NewWriter", ErrStoreError, "open read transaction to check committed metric", err)
	}
	defer rtxn.Close()

	raw, err := rtxn.Metadata()
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return newErr("NewWriter", ErrStoreError, "fetch committed metadata", err)
	}

	md, err := codec.DecodeMetadata(raw)
	if err != nil {
		return newErr("NewWriter", ErrCorruptNode, "decode committed metadata", err)
	}
	if md.Metric != metric {
		return newErr("NewWriter", ErrMetricMismatch, fmt.Sprintf("tag was committed with metric %v, got %v", md.Metric, metric), nil)
	}
	return nil
}

type recoveredItems struct {
	vectors map[uint32][]float32
	maxNorm float32
}

// recoverActiveItems replays what the WriteTxn already staged (from a
// prior crashed writer) back into in-memory vectors, so Build sees the
// same active set it would have if the crash never happened.
func recoverActiveItems(txn *store.WriteTxn, cfg config) (recoveredItems, error) {
	out := recoveredItems{vectors: make(map[uint32][]float32)}
	for _, op := range txn.StagedOps() {
		if !codec.IsItemID(op.NodeID) {
			continue
		}
		if op.Del {
			delete(out.vectors, op.NodeID)
			continue
		}
		view := codec.NewView(op.Raw)
		vec, err := view.ItemVector(cfg.dimension)
		if err != nil {
			return recoveredItems{}, err
		}
		cp := append([]float32(nil), vec...)
		out.vectors[op.NodeID] = cp
		if n := vectorNorm(cp); n > out.maxNorm {
			out.maxNorm = n
		}
	}
	return out, nil
}

// AddItem stages a vector under id, overwriting any previously staged
// vector for the same id (spec §4.5, AddItem). Valid only before Build.
func (w *Writer) AddItem(id uint32, vector []float32) error {
	if w.state == stateBuilt || w.state == stateCommitted {
		return newErr("AddItem", ErrInvalidState, "cannot stage items after Build", nil)
	}
	if len(vector) != w.cfg.dimension {
		return newErr("AddItem", ErrInvalidVector, fmt.Sprintf("vector has %d dimensions, want %d", len(vector), w.cfg.dimension), nil)
	}
	if id > codec.MaxItemID {
		return newErr("AddItem", ErrInvalidVector, fmt.Sprintf("item id %d exceeds max item id %d", id, codec.MaxItemID), nil)
	}
	if idx, bad := firstNonFinite(vector); bad {
		return newErr("AddItem", ErrInvalidVector, fmt.Sprintf("component %d is NaN or infinite", idx), nil)
	}

	var trailer []float32
	if w.cfg.metric == kernel.DotProduct {
		n := vectorNorm(vector)
		trailer = []float32{n}
		if n > w.maxNorm {
			w.maxNorm = n
		}
	}

	raw := codec.EncodeItem(w.cfg.metric, vector, trailer)
	if err := w.txn.Put(id, raw); err != nil {
		return newErr("AddItem", ErrStoreError, "stage item put", err)
	}
	w.active[id] = append([]float32(nil), vector...)
	w.state = statePopulated
	if w.metrics != nil {
		w.metrics.ItemsIngested.Inc()
	}
	return nil
}

// DelItem removes id from the active set, whether it was staged this
// transaction or already committed in a prior generation.
func (w *Writer) DelItem(id uint32) error {
	if w.state == stateBuilt || w.state == stateCommitted {
		return newErr("DelItem", ErrInvalidState, "cannot stage deletes after Build", nil)
	}
	if err := w.txn.Delete(id); err != nil {
		return newErr("DelItem", ErrStoreError, "stage item delete", err)
	}
	delete(w.active, id)
	return nil
}

// Clear discards every staged op, including ones recovered from the WAL
// (spec §4.5, Clear), resetting the Writer to its initial state. Items
// committed in an earlier generation are not removed: the next Commit
// carries them forward unless they are deleted with DelItem.
func (w *Writer) Clear() error {
	if err := w.txn.Clear(); err != nil {
		return newErr("Clear", ErrStoreError, "clear staged ops", err)
	}
	w.active = make(map[uint32][]float32)
	w.maxNorm = 0
	w.state = stateOpen
	return nil
}

// Build compiles the active item set into a forest (spec §4.4, §4.5).
// n_trees, if left at zero via options, is derived from dimension and
// item count.
func (w *Writer) Build() error {
	if w.state == stateCommitted {
		return newErr("Build", ErrInvalidState, "writer already committed", nil)
	}
	if len(w.active) == 0 {
		return newErr("Build", ErrNeedBuild, "no items staged", nil)
	}

	if w.metrics != nil {
		w.metrics.BuildsStarted.Inc()
	}

	if w.cfg.metric == kernel.DotProduct {
		vecs := make([][]float32, 0, len(w.active))
		for _, v := range w.active {
			vecs = append(vecs, v)
		}
		w.maxNorm = kernel.MaxNorm(vecs)
	}

	kern, err := kernel.For(w.cfg.metric, w.maxNorm)
	if err != nil {
		return newErr("Build", ErrMetricMismatch, "construct kernel", err)
	}

	ids := make([]uint32, 0, len(w.active))
	for id := range w.active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	lookup := func(id uint32) []float32 {
		return kern.TransformItem(w.active[id])
	}

	nTrees := w.cfg.nTrees
	if nTrees <= 0 {
		nTrees = builder.DefaultNTrees(w.cfg.dimension, len(ids))
	}

	result, err := builder.Build(ids, lookup, builder.Config{
		Dimension:            kern.Dimension(w.cfg.dimension),
		Kernel:               kern,
		DescendantsThreshold: w.cfg.descendantsThreshold,
		Workers:              w.cfg.workers,
		Seed:                 w.cfg.seed,
		NTrees:               nTrees,
	})
	if err != nil {
		if w.metrics != nil {
			w.metrics.BuildsFailed.Inc()
		}
		return newErr("Build", ErrStoreError, "build forest", err)
	}

	for nodeID, raw := range result.Nodes {
		if err := w.txn.Put(nodeID, raw); err != nil {
			return newErr("Build", ErrStoreError, "stage internal node", err)
		}
	}

	md := codec.Metadata{
		Version:   codec.FormatVersion,
		Metric:    w.cfg.metric,
		Dimension: uint32(w.cfg.dimension),
		ItemCount: uint64(len(ids)),
		Seed:      w.cfg.seed,
		MaxNorm:   w.maxNorm,
		RootIDs:   result.RootIDs,
	}
	if err := w.txn.Put(codec.MetadataNodeID, codec.EncodeMetadata(md)); err != nil {
		return newErr("Build", ErrStoreError, "stage metadata record", err)
	}

	w.state = stateBuilt
	return nil
}

// Commit publishes the staged items and, if Build was called, the new
// forest, as a new atomically visible generation (spec §4.3, §5).
func (w *Writer) Commit() error {
	if w.state == stateCommitted {
		return newErr("Commit", ErrInvalidState, "writer already committed", nil)
	}
	err := storeBreaker().Execute(context.Background(), w.txn.Commit)
	if err != nil {
		return newErr("Commit", ErrStoreError, "commit write transaction", err)
	}
	w.state = stateCommitted
	return nil
}

// Rollback discards every staged op without touching the previously
// committed generation (spec §7).
func (w *Writer) Rollback() error {
	if err := w.txn.Rollback(); err != nil {
		return newErr("Rollback", ErrStoreError, "rollback write transaction", err)
	}
	w.state = stateOpen
	return nil
}

func vectorNorm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// firstNonFinite reports the index of the first NaN or infinite component,
// so AddItem rejects vectors that would otherwise corrupt two-means
// splitting and sort.Slice's distance comparisons at search time.
func firstNonFinite(v []float32) (int, bool) {
	for i, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return i, true
		}
	}
	return 0, false
}
