package kernel

import (
	"math"
	"testing"
)

func almostEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-4
}

func TestEuclideanDistance(t *testing.T) {
	k, err := For(Euclidean, 0)
	if err != nil {
		t.Fatalf("For: %v", err)
	}

	a := []float32{0, 0}
	b := []float32{3, 4}
	if got := k.Distance(a, b); !almostEqual(got, 5) {
		t.Fatalf("Distance(%v, %v) = %v, want 5", a, b, got)
	}
}

func TestEuclideanHyperplaneSeparates(t *testing.T) {
	k, _ := For(Euclidean, 0)
	p := []float32{0, 0}
	q := []float32{10, 0}

	n, b := k.NormalFromTwoPoints(p, q)
	if side := k.Side(n, b, p); side != Left && side != Right {
		t.Fatalf("p classified as %v, want a decided side", side)
	}
	if side := k.Side(n, b, q); side != Left && side != Right {
		t.Fatalf("q classified as %v, want a decided side", side)
	}
	if k.Side(n, b, p) == k.Side(n, b, q) {
		t.Fatalf("p and q landed on the same side of their own hyperplane")
	}
}

func TestManhattanDistance(t *testing.T) {
	k, _ := For(Manhattan, 0)
	a := []float32{0, 0}
	b := []float32{3, 4}
	if got := k.Distance(a, b); !almostEqual(got, 7) {
		t.Fatalf("Distance = %v, want 7", got)
	}
}

func TestCosineZeroVectors(t *testing.T) {
	k, _ := For(Cosine, 0)

	zero := []float32{0, 0, 0}
	other := []float32{1, 0, 0}

	if got := k.Distance(zero, zero); got != 0 {
		t.Fatalf("two zero vectors: Distance = %v, want 0", got)
	}
	if got := k.Distance(zero, other); got != 2 {
		t.Fatalf("zero vs non-zero: Distance = %v, want 2 (max)", got)
	}
}

func TestCosineOppositeVectors(t *testing.T) {
	k, _ := For(Cosine, 0)
	a := []float32{1, 0, 0}
	b := []float32{-1, 0, 0}
	c := []float32{0, 1, 0}

	dAB := k.Distance(a, b)
	dAC := k.Distance(a, c)
	if !(dAB > dAC) {
		t.Fatalf("opposite vector distance %v should exceed orthogonal distance %v", dAB, dAC)
	}
}

func TestDotProductAugmentationRanksByInnerProduct(t *testing.T) {
	items := [][]float32{
		{1, 0, 0, 0}, // low norm, but query aligns with it
		{0, 0, 0, 5}, // high norm, orthogonal to query
	}
	m := MaxNorm(items)

	k, err := For(DotProduct, m)
	if err != nil {
		t.Fatalf("For: %v", err)
	}

	augmented := make([][]float32, len(items))
	for i, v := range items {
		augmented[i] = k.TransformItem(v)
	}

	query := k.TransformQuery([]float32{1, 0, 0, 0})

	d0 := k.Distance(query, augmented[0])
	d1 := k.Distance(query, augmented[1])

	// item 0 has the highest inner product with the query (1*1=1 vs 0),
	// so its augmented cosine distance must be strictly smaller.
	if !(d0 < d1) {
		t.Fatalf("expected highest-inner-product item to rank closer: d0=%v d1=%v", d0, d1)
	}
}

func TestDotProductDimension(t *testing.T) {
	k, _ := For(DotProduct, 1)
	if got := k.Dimension(4); got != 5 {
		t.Fatalf("Dimension(4) = %d, want 5", got)
	}
}

func TestForUnknownMetric(t *testing.T) {
	if _, err := For(Metric(200), 0); err == nil {
		t.Fatalf("expected error for unsupported metric")
	}
}
