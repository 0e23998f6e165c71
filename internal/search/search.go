// Package search implements the best-first forest traversal that turns a
// query vector into scored top-k candidates: fan-out across every tree
// root in one shared priority frontier, followed by exact rescoring of
// the collected candidates.
package search

import (
	"fmt"
	"sort"

	"github.com/vecforge/annoyforest/internal/codec"
	"github.com/vecforge/annoyforest/internal/itemset"
	"github.com/vecforge/annoyforest/internal/kernel"
)

// NodeSource reads a node's raw bytes by id. internal/store's ReadTxn
// satisfies this directly.
type NodeSource interface {
	Get(nodeID uint32) ([]byte, error)
}

// Result is one scored candidate.
type Result struct {
	ID       uint32
	Distance float32
}

// Request bundles the parameters one query needs (spec §4.7 inputs).
type Request struct {
	Query   []float32 // already kernel-transformed (TransformQuery applied upstream)
	K       int
	SearchK int // candidates to collect before scoring; 0 uses DefaultSearchK(K, len(RootIDs))
	Filter  *itemset.Set
	RootIDs []uint32

	// Dimension is the raw, pre-transform item dimension D: item nodes
	// always store the original vector (spec §3). SplitDimension is the
	// kernel-transformed dimension split normals live in (D for every
	// metric but DotProduct, which is D+1).
	Dimension      int
	SplitDimension int
}

// DefaultSearchK is used when the caller leaves SearchK at zero (spec
// §4.7: "default k * n_trees").
func DefaultSearchK(k, nTrees int) int {
	return k * nTrees
}

// Search walks the forest rooted at req.RootIDs, collecting candidates
// until SearchK are gathered or the frontier empties, then exactly
// rescores and returns the K nearest (spec §4.7).
func Search(src NodeSource, kern kernel.Kernel, req Request) ([]Result, error) {
	if len(req.RootIDs) == 0 {
		return nil, nil
	}
	searchK := req.SearchK
	if searchK <= 0 {
		searchK = DefaultSearchK(req.K, len(req.RootIDs))
	}

	candidates := make(map[uint32]struct{})
	f := newFrontier(req.RootIDs)

	for len(candidates) < searchK && !f.empty() {
		entry := f.pop()

		raw, err := src.Get(entry.nodeID)
		if err != nil {
			return nil, fmt.Errorf("search: fetch node %d: %w", entry.nodeID, err)
		}
		view := codec.NewView(raw)
		disc, err := view.Discriminant()
		if err != nil {
			return nil, fmt.Errorf("search: node %d: %w", entry.nodeID, err)
		}

		switch disc {
		case codec.DiscDescendants:
			body, err := view.Descendants()
			if err != nil {
				return nil, fmt.Errorf("search: node %d: %w", entry.nodeID, err)
			}
			set, err := itemset.Deserialize(body.Bitmap)
			if err != nil {
				return nil, fmt.Errorf("search: node %d: deserialize descendants: %w", entry.nodeID, err)
			}
			set.Iterate(func(id uint32) bool {
				if req.Filter == nil || req.Filter.Contains(id) {
					candidates[id] = struct{}{}
				}
				return true
			})

		case codec.DiscSplit:
			body, err := view.Split(req.SplitDimension)
			if err != nil {
				return nil, fmt.Errorf("search: node %d: %w", entry.nodeID, err)
			}
			margin := kern.Margin(body.Normal, body.Bias, req.Query)
			f.push(minFloat32(entry.priority, margin), body.Right)
			f.push(minFloat32(entry.priority, -margin), body.Left)

		case codec.DiscItem:
			// Only reachable when a root is itself a lone item (spec
			// §4.7 step 3, item-node case).
			if req.Filter == nil || req.Filter.Contains(entry.nodeID) {
				candidates[entry.nodeID] = struct{}{}
			}

		default:
			return nil, fmt.Errorf("search: node %d: unknown discriminant %v", entry.nodeID, disc)
		}
	}

	return rescore(src, kern, req, candidates)
}

func rescore(src NodeSource, kern kernel.Kernel, req Request, candidates map[uint32]struct{}) ([]Result, error) {
	results := make([]Result, 0, len(candidates))
	for id := range candidates {
		raw, err := src.Get(id)
		if err != nil {
			return nil, fmt.Errorf("search: fetch item %d: %w", id, err)
		}
		view := codec.NewView(raw)
		// req.Dimension is the raw (pre-transform) item dimension; the
		// stored item node always holds the original vector (spec §3, it
		// must round-trip via item_vector), never the kernel-transformed
		// form.
		vec, err := view.ItemVector(req.Dimension)
		if err != nil {
			return nil, fmt.Errorf("search: item %d: %w", id, err)
		}
		results = append(results, Result{ID: id, Distance: kern.Distance(kern.TransformItem(vec), req.Query)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > req.K {
		results = results[:req.K]
	}
	return results, nil
}

func minFloat32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
