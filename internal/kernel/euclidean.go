package kernel

// euclideanKernel implements L2 distance with the hyperplane derivation
// described in spec §4.4: normal n = p - q, bias b = 1/2*(p+q)*n.
type euclideanKernel struct{}

func (euclideanKernel) Metric() Metric { return Euclidean }

func (euclideanKernel) Distance(a, b []float32) float32 {
	return l2Norm(sub(a, b))
}

func (euclideanKernel) PQDistance(margin float32) float32 {
	return abs32(margin)
}

func (euclideanKernel) NormalFromTwoPoints(p, q []float32) ([]float32, float32) {
	n := sub(p, q)
	mid := make([]float32, len(p))
	for i := range p {
		mid[i] = (p[i] + q[i]) / 2
	}
	return n, dot(mid, n)
}

func (euclideanKernel) Margin(normal []float32, bias float32, v []float32) float32 {
	return dot(normal, v) - bias
}

func (k euclideanKernel) Side(normal []float32, bias float32, v []float32) Side {
	return sideFromMargin(k.Margin(normal, bias, v))
}

func (euclideanKernel) TransformItem(v []float32) []float32  { return v }
func (euclideanKernel) TransformQuery(v []float32) []float32 { return v }
func (euclideanKernel) Dimension(d int) int                  { return d }
