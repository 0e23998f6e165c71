package builder

import (
	"fmt"

	"github.com/vecforge/annoyforest/internal/codec"
)

// idAllocator hands out internal node ids from one tree's contiguous
// stripe (spec §4.4 "striped internal id ranges for parallel workers"), so
// no cross-tree coordination is needed while trees build concurrently.
type idAllocator struct {
	next uint32
	end  uint32 // exclusive
}

// stripeFor computes the [base, base+stripeSize) range reserved for
// treeIndex. stripeSize is sized generously (2*itemCount+8, the maximum
// possible split+descendants node count for a binary tree over itemCount
// items) so a single tree can never exhaust its stripe.
func stripeFor(treeIndex, itemCount int) (idAllocator, error) {
	stripeSize := uint64(2*itemCount + 8)
	base := uint64(codec.InternalIDBase) + uint64(treeIndex)*stripeSize
	end := base + stripeSize
	if end >= uint64(codec.MetadataNodeID) {
		return idAllocator{}, fmt.Errorf("builder: tree %d's internal id stripe overflows the reserved id space", treeIndex)
	}
	return idAllocator{next: uint32(base), end: uint32(end)}, nil
}

func (a *idAllocator) next32() (uint32, error) {
	if a.next >= a.end {
		return 0, fmt.Errorf("builder: internal id stripe exhausted")
	}
	id := a.next
	a.next++
	return id, nil
}
