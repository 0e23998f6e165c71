package builder

import "math/rand"

// twoMeans refines the initial (p, q) sample into a pair of centroids by
// repeatedly reassigning a random subsample of ids to whichever of the two
// current centroids it is nearer to, then recentering (spec §4.4: "for
// Euclidean, apply the Annoy two-means refinement"). It returns fresh
// vectors, never aliasing lookup's storage, since the centroids are
// recomputed running means.
func twoMeans(ids []uint32, lookup VectorLookup, dimension int, rng *rand.Rand) (cp, cq []float32) {
	if len(ids) < 2 {
		// Recursion never calls this with fewer than 2 items (the base
		// case triggers on |S| <= K first), but guard anyway.
		v := lookup(ids[0])
		return append([]float32(nil), v...), append([]float32(nil), v...)
	}

	i, j := distinctPair(len(ids), rng)
	cp = append([]float32(nil), lookup(ids[i])...)
	cq = append([]float32(nil), lookup(ids[j])...)

	sampleSize := len(ids)
	if sampleSize > twoMeansSampleCap {
		sampleSize = twoMeansSampleCap
	}

	for iter := 0; iter < twoMeansIterations; iter++ {
		sumP := make([]float32, dimension)
		sumQ := make([]float32, dimension)
		var countP, countQ int

		for k := 0; k < sampleSize; k++ {
			idx := rng.Intn(len(ids))
			v := lookup(ids[idx])
			if sqDist(v, cp) <= sqDist(v, cq) {
				addInto(sumP, v)
				countP++
			} else {
				addInto(sumQ, v)
				countQ++
			}
		}

		if countP > 0 {
			cp = scaleBy(sumP, 1.0/float32(countP))
		}
		if countQ > 0 {
			cq = scaleBy(sumQ, 1.0/float32(countQ))
		}
	}

	return cp, cq
}

func distinctPair(n int, rng *rand.Rand) (int, int) {
	i := rng.Intn(n)
	j := rng.Intn(n - 1)
	if j >= i {
		j++
	}
	return i, j
}

func sqDist(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func addInto(dst, v []float32) {
	for i := range v {
		dst[i] += v[i]
	}
}

func scaleBy(v []float32, s float32) []float32 {
	out := make([]float32, len(v))
	for i := range v {
		out[i] = v[i] * s
	}
	return out
}
