// Package builder constructs a forest of random-projection binary trees
// over an active item set (spec §4.4). Trees are built data-parallel
// across a bounded worker pool; within one tree the recursion is
// sequential. Node ids are allocated deterministically from a per-tree
// striped range of the internal id space so the emitted forest is
// byte-identical for a given seed regardless of worker count or scheduling
// order, generalizing the k-means batch-training loop shape of
// internal/index/ivfpq/ivfpq.go restructured for per-tree concurrency.
package builder

import (
	"runtime"

	"github.com/vecforge/annoyforest/internal/kernel"
)

// defaultBranching is the branching factor used to derive the descendants
// threshold K = max(D, 2*branching) when Config.DescendantsThreshold is
// left at zero.
const defaultBranching = 16

// maxSplitAttempts bounds how many fresh hyperplane samples a recursion
// level tries before falling back to random bisection (spec §4.4 step 4).
const maxSplitAttempts = 5

// twoMeansIterations is the fixed iteration count for the Euclidean
// two-means hyperplane refinement (spec's Open Question on iteration
// count, resolved fixed rather than convergence-based; see DESIGN.md).
const twoMeansIterations = 3

// twoMeansSampleCap bounds how many items a two-means refinement pass
// reassigns per iteration, so a single split on a huge subtree stays O(cap)
// rather than O(|S|).
const twoMeansSampleCap = 256

// Config parameterizes one forest build.
type Config struct {
	Dimension            int // dimensionality of already-transformed vectors
	Kernel               kernel.Kernel
	DescendantsThreshold int // K; 0 means derive from Dimension and defaultBranching
	Workers              int // 0 means runtime.GOMAXPROCS(0)
	Seed                 uint64
	NTrees               int
}

func (c Config) descendantsThreshold() int {
	if c.DescendantsThreshold > 0 {
		return c.DescendantsThreshold
	}
	k := 2 * defaultBranching
	if c.Dimension > k {
		k = c.Dimension
	}
	return k
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// DefaultNTrees picks a tree count from dimension and item count when the
// caller passes n_trees = 0 (spec §4.5 "a sensible default is chosen from
// D and item count").
func DefaultNTrees(dimension, itemCount int) int {
	n := dimension
	if itemCount < n {
		n = itemCount
	}
	if n < 10 {
		n = 10
	}
	if n > 200 {
		n = 200
	}
	return n
}
