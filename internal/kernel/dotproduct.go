package kernel

// dotProductKernel implements the Bachrach extension (spec §4.1, §9): each
// item vector v is augmented with an extra coordinate
// sqrt(M^2 - ‖v‖^2), where M = max‖v‖ across the active set, reducing
// inner-product ranking to cosine similarity over D+1 dimensions. Once
// vectors are augmented, scoring is delegated to the same normalized-L2
// math cosineKernel uses.
type dotProductKernel struct {
	maxNorm float32
	inner   cosineKernel
}

func (dotProductKernel) Metric() Metric { return DotProduct }

func (k dotProductKernel) Distance(a, b []float32) float32 {
	return k.inner.Distance(a, b)
}

func (k dotProductKernel) PQDistance(margin float32) float32 {
	return k.inner.PQDistance(margin)
}

func (k dotProductKernel) NormalFromTwoPoints(p, q []float32) ([]float32, float32) {
	return k.inner.NormalFromTwoPoints(p, q)
}

func (k dotProductKernel) Margin(normal []float32, bias float32, v []float32) float32 {
	return k.inner.Margin(normal, bias, v)
}

func (k dotProductKernel) Side(normal []float32, bias float32, v []float32) Side {
	return k.inner.Side(normal, bias, v)
}

// TransformItem appends the Bachrach coordinate. If the item's own norm
// exceeds M (can happen transiently while M is being recomputed for a
// growing active set) the augmented coordinate clamps to zero rather than
// taking sqrt of a negative number.
func (k dotProductKernel) TransformItem(v []float32) []float32 {
	norm := l2Norm(v)
	remainder := k.maxNorm*k.maxNorm - norm*norm
	if remainder < 0 {
		remainder = 0
	}
	out := make([]float32, len(v)+1)
	copy(out, v)
	out[len(v)] = sqrt32(remainder)
	return out
}

// TransformQuery appends a trailing zero, per spec §4.7.
func (dotProductKernel) TransformQuery(v []float32) []float32 {
	out := make([]float32, len(v)+1)
	copy(out, v)
	out[len(v)] = 0
	return out
}

func (dotProductKernel) Dimension(d int) int { return d + 1 }

// MaxNorm computes M = max‖v‖ across a set of raw (untransformed) item
// vectors, recomputed whenever the active set changes (spec §9).
func MaxNorm(vectors [][]float32) float32 {
	var m float32
	for _, v := range vectors {
		if n := l2Norm(v); n > m {
			m = n
		}
	}
	return m
}
