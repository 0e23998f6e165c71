package search

import (
	"container/heap"
	"math"
)

// frontierEntry is one pending subtree to visit, keyed by an admissible
// priority bound (spec §4.7 step 1/3). Higher priority pops first.
type frontierEntry struct {
	priority float32
	nodeID   uint32
}

// frontier is a container/heap-based max-priority queue over
// frontierEntry: one entry type carrying either a split child or a tree
// root, popped in descending priority order.
type frontier []frontierEntry

func (f frontier) Len() int            { return len(f) }
func (f frontier) Less(i, j int) bool  { return f[i].priority > f[j].priority }
func (f frontier) Swap(i, j int)       { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x interface{}) { *f = append(*f, x.(frontierEntry)) }
func (f *frontier) Pop() interface{} {
	old := *f
	n := len(old)
	entry := old[n-1]
	*f = old[:n-1]
	return entry
}

// rootPriority is the +∞ priority every tree root is seeded with (spec
// §4.7 step 1), so the frontier always visits every root before pruning
// any of them.
var rootPriority = float32(math.Inf(1))

func newFrontier(roots []uint32) *frontier {
	f := make(frontier, len(roots))
	for i, root := range roots {
		f[i] = frontierEntry{priority: rootPriority, nodeID: root}
	}
	heap.Init(&f)
	return &f
}

func (f *frontier) push(priority float32, nodeID uint32) {
	heap.Push(f, frontierEntry{priority: priority, nodeID: nodeID})
}

func (f *frontier) pop() frontierEntry {
	return heap.Pop(f).(frontierEntry)
}

func (f *frontier) empty() bool { return f.Len() == 0 }
