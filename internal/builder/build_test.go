package builder

import (
	"testing"

	"github.com/vecforge/annoyforest/internal/codec"
	"github.com/vecforge/annoyforest/internal/itemset"
	"github.com/vecforge/annoyforest/internal/kernel"
)

func syntheticVectors(n, dim int) map[uint32][]float32 {
	vecs := make(map[uint32][]float32, n)
	for i := 0; i < n; i++ {
		v := make([]float32, dim)
		for d := 0; d < dim; d++ {
			// Two well-separated clusters so splits are non-degenerate.
			base := float32(0)
			if i%2 == 1 {
				base = 10
			}
			v[d] = base + float32(i%7)*0.01
		}
		vecs[uint32(i)] = v
	}
	return vecs
}

func lookupFrom(vecs map[uint32][]float32) VectorLookup {
	return func(id uint32) []float32 { return vecs[id] }
}

func TestBuildProducesOneRootPerTree(t *testing.T) {
	vecs := syntheticVectors(64, 4)
	items := make([]uint32, 0, len(vecs))
	for id := range vecs {
		items = append(items, id)
	}

	kern, err := kernel.For(kernel.Euclidean, 0)
	if err != nil {
		t.Fatalf("kernel.For: %v", err)
	}

	cfg := Config{
		Dimension:            4,
		Kernel:               kern,
		DescendantsThreshold: 8,
		Workers:              4,
		Seed:                 42,
		NTrees:               6,
	}

	result, err := Build(items, lookupFrom(vecs), cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.RootIDs) != cfg.NTrees {
		t.Fatalf("got %d roots, want %d", len(result.RootIDs), cfg.NTrees)
	}
	if len(result.Nodes) == 0 {
		t.Fatalf("Build produced no nodes")
	}

	for _, root := range result.RootIDs {
		raw, ok := result.Nodes[root]
		if !ok {
			t.Fatalf("root id %d has no corresponding node", root)
		}
		view := codec.NewView(raw)
		disc, err := view.Discriminant()
		if err != nil {
			t.Fatalf("root node discriminant: %v", err)
		}
		if disc != codec.DiscSplit && disc != codec.DiscDescendants {
			t.Fatalf("root node has unexpected discriminant %v", disc)
		}
	}
}

func TestBuildIsDeterministicForFixedSeed(t *testing.T) {
	vecs := syntheticVectors(40, 3)
	items := make([]uint32, 0, len(vecs))
	for id := range vecs {
		items = append(items, id)
	}

	kern, _ := kernel.For(kernel.Euclidean, 0)
	cfg := Config{Dimension: 3, Kernel: kern, DescendantsThreshold: 6, Workers: 3, Seed: 7, NTrees: 4}

	r1, err := Build(items, lookupFrom(vecs), cfg)
	if err != nil {
		t.Fatalf("Build 1: %v", err)
	}
	r2, err := Build(items, lookupFrom(vecs), cfg)
	if err != nil {
		t.Fatalf("Build 2: %v", err)
	}

	if len(r1.RootIDs) != len(r2.RootIDs) {
		t.Fatalf("root count differs between identical builds")
	}
	for i := range r1.RootIDs {
		if r1.RootIDs[i] != r2.RootIDs[i] {
			t.Fatalf("tree %d root differs: %d vs %d", i, r1.RootIDs[i], r2.RootIDs[i])
		}
	}
	if len(r1.Nodes) != len(r2.Nodes) {
		t.Fatalf("node count differs: %d vs %d", len(r1.Nodes), len(r2.Nodes))
	}
	for id, raw := range r1.Nodes {
		other, ok := r2.Nodes[id]
		if !ok || string(raw) != string(other) {
			t.Fatalf("node %d differs between identical builds", id)
		}
	}
}

func TestDescendantsNodeContainsExactlyItsItems(t *testing.T) {
	vecs := syntheticVectors(5, 2)
	items := []uint32{0, 1, 2, 3, 4}

	kern, _ := kernel.For(kernel.Euclidean, 0)
	cfg := Config{Dimension: 2, Kernel: kern, DescendantsThreshold: 32, Workers: 1, Seed: 1, NTrees: 1}

	result, err := Build(items, lookupFrom(vecs), cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.RootIDs) != 1 {
		t.Fatalf("want single root for a set below threshold")
	}

	raw := result.Nodes[result.RootIDs[0]]
	view := codec.NewView(raw)
	disc, _ := view.Discriminant()
	if disc != codec.DiscDescendants {
		t.Fatalf("got discriminant %v, want descendants (whole set fits under K)", disc)
	}
	body, err := view.Descendants()
	if err != nil {
		t.Fatalf("Descendants: %v", err)
	}
	set, err := itemset.Deserialize(body.Bitmap)
	if err != nil {
		t.Fatalf("deserialize bitmap: %v", err)
	}
	if set.Len() != len(items) {
		t.Fatalf("descendants set has %d items, want %d", set.Len(), len(items))
	}
	for _, id := range items {
		if !set.Contains(id) {
			t.Fatalf("descendants set missing item %d", id)
		}
	}
}

func TestDefaultNTreesIsBoundedAndNonZero(t *testing.T) {
	if n := DefaultNTrees(16, 1000); n < 10 || n > 200 {
		t.Fatalf("DefaultNTrees(16, 1000) = %d, out of bounds", n)
	}
	if n := DefaultNTrees(512, 3); n != 10 {
		t.Fatalf("DefaultNTrees with tiny item count = %d, want floor of 10", n)
	}
}
