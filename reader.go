package annoyforest

import (
	"context"
	"fmt"

	"github.com/vecforge/annoyforest/internal/codec"
	"github.com/vecforge/annoyforest/internal/itemset"
	"github.com/vecforge/annoyforest/internal/kernel"
	"github.com/vecforge/annoyforest/internal/obs"
	"github.com/vecforge/annoyforest/internal/search"
	"github.com/vecforge/annoyforest/internal/store"
)

// Reader serves snapshot-isolated queries against whatever forest
// generation was committed when OpenReader was called; a concurrent
// rebuild never invalidates it (spec §5).
type Reader struct {
	txn  *store.ReadTxn
	md   codec.Metadata
	kern kernel.Kernel

	metrics *obs.Metrics
	health  *obs.HealthChecker
}

// OpenReader pins the current committed generation of tag, decodes its
// metadata record, and checks the format version and that every recorded
// root exists with a header metric matching the record. Returns
// ErrNeedBuild if tag has never been built.
func OpenReader(st *store.Store, tag store.Tag, opts ...Option) (*Reader, error) {
	cfg := config{}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, newErr("OpenReader", ErrInvalidVector, "invalid option", err)
		}
	}

	var r *Reader
	err := storeBreaker().Execute(context.Background(), func() error {
		txn, err := st.BeginRead(tag)
		if err != nil {
			return err
		}

		raw, err := txn.Metadata()
		if err != nil {
			txn.Close()
			if err == store.ErrNotFound {
				return newErr("OpenReader", ErrNeedBuild, "tag has no committed forest yet", err)
			}
			return err
		}

		md, err := codec.DecodeMetadata(raw)
		if err != nil {
			txn.Close()
			return newErr("OpenReader", ErrMissingMetadata, "decode metadata record", err)
		}

		kern, err := kernel.For(md.Metric, md.MaxNorm)
		if err != nil {
			txn.Close()
			return newErr("OpenReader", ErrMetricMismatch, "construct kernel", err)
		}
		if md.Version != codec.FormatVersion {
			txn.Close()
			return newErr("OpenReader", ErrCorruptNode, fmt.Sprintf("unsupported format version %d", md.Version), nil)
		}
		for _, root := range md.RootIDs {
			rootRaw, err := txn.Get(root)
			if err != nil {
				txn.Close()
				return newErr("OpenReader", ErrCorruptNode, fmt.Sprintf("root %d not found", root), err)
			}
			if m, err := codec.NewView(rootRaw).Metric(); err != nil || m != md.Metric {
				txn.Close()
				return newErr("OpenReader", ErrCorruptNode, fmt.Sprintf("root %d header does not match index metric %v", root, md.Metric), err)
			}
		}

		r = &Reader{txn: txn, md: md, kern: kern}
		if cfg.metricsEnabled {
			r.metrics = metricsInstance()
		}
		r.health = newReaderHealthChecker(r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Dimension returns the raw, pre-transform vector dimension every item
// round-trips at (spec §3).
func (r *Reader) Dimension() int { return int(r.md.Dimension) }

// Metric returns the distance metric the forest was built under.
func (r *Reader) Metric() kernel.Metric { return r.md.Metric }

// ItemCount returns the number of items present at the time of the last
// Build, per the committed metadata record.
func (r *Reader) ItemCount() int { return int(r.md.ItemCount) }

// ItemIDs returns every item id present in this snapshot.
func (r *Reader) ItemIDs() []uint32 {
	var ids []uint32
	r.txn.ScanItems(func(id uint32, _ []byte) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// ItemVector returns the raw, untransformed vector stored for id (spec
// §3: item nodes always round-trip the original vector).
func (r *Reader) ItemVector(id uint32) ([]float32, error) {
	raw, err := r.txn.Get(id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, newErr("ItemVector", ErrInvalidVector, fmt.Sprintf("item %d not found", id), err)
		}
		return nil, newErr("ItemVector", ErrStoreError, "fetch item node", err)
	}
	view := codec.NewView(raw)
	vec, err := view.ItemVector(r.Dimension())
	if err != nil {
		return nil, newErr("ItemVector", ErrCorruptNode, "decode item node", err)
	}
	return append([]float32(nil), vec...), nil
}

// NNSByVector returns the k nearest items to query (spec §4.7).
func (r *Reader) NNSByVector(query []float32, k int, opts ...SearchOption) ([]SearchResult, error) {
	if len(query) != r.Dimension() {
		return nil, newErr("NNSByVector", ErrInvalidVector, fmt.Sprintf("query has %d dimensions, want %d", len(query), r.Dimension()), nil)
	}

	sc := searchConfig{}
	for _, opt := range opts {
		opt(&sc)
	}

	req := search.Request{
		Query:          r.kern.TransformQuery(query),
		K:              k,
		SearchK:        sc.searchK,
		Filter:         sc.filter,
		RootIDs:        r.md.RootIDs,
		Dimension:      r.Dimension(),
		SplitDimension: r.kern.Dimension(r.Dimension()),
	}
	if req.SearchK <= 0 {
		req.SearchK = search.DefaultSearchK(k, len(r.md.RootIDs))
	}

	if r.metrics != nil {
		r.metrics.SearchQueries.Inc()
	}

	results, err := search.Search(r.txn, r.kern, req)
	if err != nil {
		if r.metrics != nil {
			r.metrics.SearchErrors.Inc()
		}
		return nil, newErr("NNSByVector", ErrStoreError, "search forest", err)
	}
	if r.metrics != nil {
		r.metrics.CandidatesScored.Observe(float64(len(results)))
	}

	out := make([]SearchResult, len(results))
	for i, res := range results {
		out[i] = SearchResult{ID: res.ID, Distance: res.Distance}
	}
	return out, nil
}

// NNSByItem returns the k nearest items to an item already in the
// active set (spec §4.7, query-by-id convenience).
func (r *Reader) NNSByItem(id uint32, k int, opts ...SearchOption) ([]SearchResult, error) {
	vec, err := r.ItemVector(id)
	if err != nil {
		return nil, err
	}
	return r.NNSByVector(vec, k, opts...)
}

// Validate walks every tree root and checks that every node's header
// metric matches the index metric, that split nodes only reference
// existing children, and that descendants nodes only reference known item
// ids, returning the first structural inconsistency found. It
// is a diagnostic, not part of the query path.
func (r *Reader) Validate() error {
	known := make(map[uint32]struct{}, r.ItemCount())
	r.txn.ScanItems(func(id uint32, _ []byte) bool {
		known[id] = struct{}{}
		return true
	})

	for _, root := range r.md.RootIDs {
		if err := r.validateSubtree(root, known); err != nil {
			return newErr("Validate", ErrCorruptNode, fmt.Sprintf("root %d", root), err)
		}
	}
	return nil
}

func (r *Reader) validateSubtree(nodeID uint32, known map[uint32]struct{}) error {
	raw, err := r.txn.Get(nodeID)
	if err != nil {
		return fmt.Errorf("node %d: %w", nodeID, err)
	}
	view := codec.NewView(raw)
	disc, err := view.Discriminant()
	if err != nil {
		return fmt.Errorf("node %d: %w", nodeID, err)
	}
	if m, _ := view.Metric(); m != r.md.Metric {
		return fmt.Errorf("node %d: header metric %v does not match index metric %v", nodeID, m, r.md.Metric)
	}

	switch disc {
	case codec.DiscItem:
		if _, ok := known[nodeID]; !ok {
			return fmt.Errorf("node %d: item root not present in active set", nodeID)
		}
		return nil

	case codec.DiscDescendants:
		body, err := view.Descendants()
		if err != nil {
			return fmt.Errorf("node %d: %w", nodeID, err)
		}
		set, err := itemset.Deserialize(body.Bitmap)
		if err != nil {
			return fmt.Errorf("node %d: %w", nodeID, err)
		}
		var bad error
		set.Iterate(func(id uint32) bool {
			if _, ok := known[id]; !ok {
				bad = fmt.Errorf("node %d: descendant %d not present in active set", nodeID, id)
				return false
			}
			return true
		})
		return bad

	case codec.DiscSplit:
		body, err := view.Split(r.kern.Dimension(r.Dimension()))
		if err != nil {
			return fmt.Errorf("node %d: %w", nodeID, err)
		}
		if err := r.validateSubtree(body.Left, known); err != nil {
			return err
		}
		return r.validateSubtree(body.Right, known)

	default:
		return fmt.Errorf("node %d: unknown discriminant %v", nodeID, disc)
	}
}

// newReaderHealthChecker registers the checks behind Health: whether the
// store's circuit breaker is tripped, and whether this reader's pinned
// metadata record is still fetchable from its snapshot.
func newReaderHealthChecker(r *Reader) *obs.HealthChecker {
	hc := obs.NewHealthChecker()
	hc.Register("store_circuit_breaker", func(ctx context.Context) obs.CheckResult {
		if state := storeBreaker().State(); state != obs.CircuitClosed {
			return obs.CheckResult{Healthy: false, Message: fmt.Sprintf("store circuit breaker is %s", state)}
		}
		return obs.CheckResult{Healthy: true, Message: "closed"}
	})
	hc.Register("segment_readable", func(ctx context.Context) obs.CheckResult {
		if _, err := r.txn.Metadata(); err != nil {
			return obs.CheckResult{Healthy: false, Message: err.Error()}
		}
		return obs.CheckResult{Healthy: true, Message: "metadata record readable"}
	})
	return hc
}

// Health runs this reader's registered checks (store circuit breaker,
// pinned segment readability) and returns their aggregate status.
func (r *Reader) Health(ctx context.Context) obs.HealthStatus {
	return r.health.Check(ctx)
}

// Close releases this reader's hold on its pinned segment snapshot.
func (r *Reader) Close() error {
	return r.txn.Close()
}
