package builder

// splitMix64 derives tree index's independent sub-seed from a master seed
// (spec §4.4 "each worker owns a deterministic sub-seed derived from the
// master seed and tree index"). This is the standard SplitMix64 generator,
// used here purely as a seed-mixing function rather than a stream source.
func splitMix64(seed uint64, index uint64) uint64 {
	z := seed + index*0x9E3779B97F4A7C15
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
