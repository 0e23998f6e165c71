package kernel

import "math"

// sqrt32 keeps the sqrt computation in float64 for accuracy and casts back.
func sqrt32(v float32) float32 {
	return float32(math.Sqrt(float64(v)))
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
