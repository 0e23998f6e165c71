package builder

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/vecforge/annoyforest/internal/codec"
	"github.com/vecforge/annoyforest/internal/itemset"
	"github.com/vecforge/annoyforest/internal/kernel"
)

// VectorLookup returns the already metric-transformed vector for an item
// id (TransformItem already applied upstream by the writer, so the builder
// never needs to know about per-metric augmentation).
type VectorLookup func(id uint32) []float32

// Result is the full set of nodes one Build call produced, keyed by the
// node id they will live under once the writer flushes them through its
// write transaction, plus the root id of each tree in tree order.
type Result struct {
	RootIDs []uint32
	Nodes   map[uint32][]byte
}

// batchOp is one emitted node, handed from a tree-building worker to the
// single goroutine that owns the shared Nodes map (spec §5 expansion:
// "thread-safe batch accumulator that flushes to the store under the
// writer's transaction").
type batchOp struct {
	nodeID uint32
	raw    []byte
}

// Build constructs cfg.NTrees independent trees over items, each tree
// built by one of a bounded pool of workers, and returns every node the
// forest needs plus its roots in tree order (spec §4.4).
func Build(items []uint32, lookup VectorLookup, cfg Config) (*Result, error) {
	if cfg.NTrees <= 0 {
		return nil, fmt.Errorf("builder: NTrees must be positive")
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("builder: cannot build a forest over zero items")
	}

	ops := make(chan batchOp, 256)
	nodes := make(map[uint32][]byte, len(items)*2)
	drainDone := make(chan struct{})
	go func() {
		for op := range ops {
			nodes[op.nodeID] = op.raw
		}
		close(drainDone)
	}()

	roots := make([]uint32, cfg.NTrees)
	treeIdx := make(chan int)
	var wg sync.WaitGroup
	var errOnce sync.Once
	var firstErr error

	workers := cfg.workers()
	if workers > cfg.NTrees {
		workers = cfg.NTrees
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range treeIdx {
				root, err := buildOneTree(t, items, lookup, cfg, ops)
				if err != nil {
					errOnce.Do(func() { firstErr = err })
					continue
				}
				roots[t] = root
			}
		}()
	}

	for t := 0; t < cfg.NTrees; t++ {
		treeIdx <- t
	}
	close(treeIdx)
	wg.Wait()
	close(ops)
	<-drainDone

	if firstErr != nil {
		return nil, firstErr
	}
	return &Result{RootIDs: roots, Nodes: nodes}, nil
}

func buildOneTree(treeIndex int, items []uint32, lookup VectorLookup, cfg Config, ops chan<- batchOp) (uint32, error) {
	alloc, err := stripeFor(treeIndex, len(items))
	if err != nil {
		return 0, err
	}
	rng := rand.New(rand.NewSource(int64(splitMix64(cfg.Seed, uint64(treeIndex)))))

	set := append([]uint32(nil), items...)
	return recurseSplit(set, lookup, cfg, &alloc, rng, ops)
}

// recurseSplit emits one subtree over ids and returns its root node id.
func recurseSplit(ids []uint32, lookup VectorLookup, cfg Config, alloc *idAllocator, rng *rand.Rand, ops chan<- batchOp) (uint32, error) {
	k := cfg.descendantsThreshold()
	if len(ids) <= k {
		return emitDescendants(ids, cfg, alloc, ops)
	}

	normal, bias, err := chooseHyperplane(ids, lookup, cfg, rng)
	if err != nil {
		return 0, err
	}

	left, right, undecided := partition(ids, lookup, cfg.Kernel, normal, bias)

	if len(left) == 0 || len(right) == 0 {
		left, right, undecided = nil, nil, nil
		ok := false
		for attempt := 1; attempt < maxSplitAttempts; attempt++ {
			normal, bias, err = chooseHyperplane(ids, lookup, cfg, rng)
			if err != nil {
				return 0, err
			}
			left, right, undecided = partition(ids, lookup, cfg.Kernel, normal, bias)
			if len(left) > 0 && len(right) > 0 {
				ok = true
				break
			}
		}
		if !ok {
			left, right = randomBisection(ids, rng)
			undecided = nil
		}
	}

	assignUndecided(&left, &right, undecided, rng)

	leftID, err := recurseSplit(left, lookup, cfg, alloc, rng, ops)
	if err != nil {
		return 0, err
	}
	rightID, err := recurseSplit(right, lookup, cfg, alloc, rng, ops)
	if err != nil {
		return 0, err
	}

	id, err := alloc.next32()
	if err != nil {
		return 0, err
	}
	raw := codec.EncodeSplit(cfg.Kernel.Metric(), normal, bias, leftID, rightID)
	ops <- batchOp{nodeID: id, raw: raw}
	return id, nil
}

func chooseHyperplane(ids []uint32, lookup VectorLookup, cfg Config, rng *rand.Rand) (normal []float32, bias float32, err error) {
	if len(ids) < 2 {
		return nil, 0, fmt.Errorf("builder: cannot split a set with fewer than two items")
	}

	var p, q []float32
	if cfg.Kernel.Metric() == kernel.Euclidean {
		p, q = twoMeans(ids, lookup, cfg.Dimension, rng)
	} else {
		i, j := distinctPair(len(ids), rng)
		p = lookup(ids[i])
		q = lookup(ids[j])
	}

	n, b := cfg.Kernel.NormalFromTwoPoints(p, q)
	return n, b, nil
}

func partition(ids []uint32, lookup VectorLookup, kern kernel.Kernel, normal []float32, bias float32) (left, right, undecided []uint32) {
	for _, id := range ids {
		switch kern.Side(normal, bias, lookup(id)) {
		case kernel.Left:
			left = append(left, id)
		case kernel.Right:
			right = append(right, id)
		default:
			undecided = append(undecided, id)
		}
	}
	return left, right, undecided
}

// randomBisection is the degenerate-split fallback: a uniformly shuffled
// half/half split with no regard to geometry (spec §4.4 step 4).
func randomBisection(ids []uint32, rng *rand.Rand) (left, right []uint32) {
	shuffled := append([]uint32(nil), ids...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	mid := len(shuffled) / 2
	return shuffled[:mid], shuffled[mid:]
}

// assignUndecided appends the undecided set to whichever side is smaller,
// so both children strictly shrink relative to the parent; a tie is
// broken by a fair coin drawn from the tree's own RNG stream (spec §4.4
// step 5, resolving the Open Question on tie-break policy).
func assignUndecided(left, right *[]uint32, undecided []uint32, rng *rand.Rand) {
	if len(undecided) == 0 {
		return
	}
	goLeft := len(*left) < len(*right) || (len(*left) == len(*right) && rng.Intn(2) == 0)
	if goLeft {
		*left = append(*left, undecided...)
	} else {
		*right = append(*right, undecided...)
	}
}

func emitDescendants(ids []uint32, cfg Config, alloc *idAllocator, ops chan<- batchOp) (uint32, error) {
	set := itemset.FromItems(ids)
	bitmap, err := set.Serialize()
	if err != nil {
		return 0, fmt.Errorf("builder: serialize descendants bitmap: %w", err)
	}
	id, err := alloc.next32()
	if err != nil {
		return 0, err
	}
	raw := codec.EncodeDescendants(cfg.Kernel.Metric(), uint32(len(ids)), bitmap)
	ops <- batchOp{nodeID: id, raw: raw}
	return id, nil
}
