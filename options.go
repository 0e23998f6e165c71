package annoyforest

import (
	"fmt"

	"github.com/vecforge/annoyforest/internal/kernel"
)

// Option configures a Writer at construction time.
type Option func(*config) error

type config struct {
	dimension            int
	metric               kernel.Metric
	nTrees               int // 0 lets Build derive one from dimension/item count
	descendantsThreshold int // 0 lets the builder derive K
	workers              int // 0 uses runtime.GOMAXPROCS(0)
	seed                 uint64
	metricsEnabled       bool
}

// WithDimension sets the vector dimension every item must match.
// Required by NewWriter, which fails without it; OpenReader takes the
// dimension from the committed metadata record instead.
func WithDimension(d int) Option {
	return func(c *config) error {
		if d <= 0 {
			return fmt.Errorf("dimension must be positive")
		}
		c.dimension = d
		return nil
	}
}

// WithMetric selects the distance metric the forest is built and
// searched under.
func WithMetric(m kernel.Metric) Option {
	return func(c *config) error {
		if !m.Valid() {
			return fmt.Errorf("unsupported metric %v", m)
		}
		c.metric = m
		return nil
	}
}

// WithNTrees pins the forest to an exact tree count, overriding the
// default derived from dimension and item count (spec §4.5).
func WithNTrees(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("n_trees must be positive")
		}
		c.nTrees = n
		return nil
	}
}

// WithDescendantsThreshold pins the leaf-splitting threshold K,
// overriding the builder's max(D, 2*branching) default.
func WithDescendantsThreshold(k int) Option {
	return func(c *config) error {
		if k <= 1 {
			return fmt.Errorf("descendants threshold must be greater than 1")
		}
		c.descendantsThreshold = k
		return nil
	}
}

// WithWorkers bounds how many goroutines build trees concurrently.
func WithWorkers(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("workers must be positive")
		}
		c.workers = n
		return nil
	}
}

// WithSeed pins the RNG seed used to derive every tree's hyperplane
// samples, making a build byte-identical across runs (spec §8 property
// 3). A zero seed (the default) still builds deterministically, just
// from a fixed constant rather than caller-chosen entropy.
func WithSeed(seed uint64) Option {
	return func(c *config) error {
		c.seed = seed
		return nil
	}
}

// WithMetrics enables Prometheus instrumentation of builds and
// queries (internal/obs).
func WithMetrics(enabled bool) Option {
	return func(c *config) error {
		c.metricsEnabled = enabled
		return nil
	}
}
