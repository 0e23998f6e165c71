package kernel

// manhattanKernel implements L1 distance, sharing Euclidean's split-margin
// convention per spec §4.1 ("same split margin").
type manhattanKernel struct{}

func (manhattanKernel) Metric() Metric { return Manhattan }

func (manhattanKernel) Distance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += abs32(a[i] - b[i])
	}
	return sum
}

func (manhattanKernel) PQDistance(margin float32) float32 {
	return abs32(margin)
}

func (manhattanKernel) NormalFromTwoPoints(p, q []float32) ([]float32, float32) {
	n := sub(p, q)
	mid := make([]float32, len(p))
	for i := range p {
		mid[i] = (p[i] + q[i]) / 2
	}
	return n, dot(mid, n)
}

func (manhattanKernel) Margin(normal []float32, bias float32, v []float32) float32 {
	return dot(normal, v) - bias
}

func (k manhattanKernel) Side(normal []float32, bias float32, v []float32) Side {
	return sideFromMargin(k.Margin(normal, bias, v))
}

func (manhattanKernel) TransformItem(v []float32) []float32  { return v }
func (manhattanKernel) TransformQuery(v []float32) []float32 { return v }
func (manhattanKernel) Dimension(d int) int                  { return d }
