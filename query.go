package annoyforest

import "github.com/vecforge/annoyforest/internal/itemset"

// SearchOption configures a single NNS call.
type SearchOption func(*searchConfig)

type searchConfig struct {
	searchK int // 0 lets Search derive k * n_trees (spec §4.7)
	filter  *itemset.Set
}

// WithSearchK overrides the default candidate budget (k * n_trees) a
// query collects from the frontier before exact rescoring.
func WithSearchK(n int) SearchOption {
	return func(c *searchConfig) {
		c.searchK = n
	}
}

// WithFilter restricts results to ids present in allowed (spec §4.7,
// "optional id filter").
func WithFilter(allowed []uint32) SearchOption {
	return func(c *searchConfig) {
		c.filter = itemset.FromItems(allowed)
	}
}
