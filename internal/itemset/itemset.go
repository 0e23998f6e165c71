// Package itemset tracks the set of active item ids under an index tag
// (spec §3, "Active item set") and produces the canonical compressed
// bitmap bytes a descendants node stores (spec §4.2, §6). No bitmap
// library appears anywhere in the example pack, so this wraps the
// widely-used github.com/RoaringBitmap/roaring implementation rather than
// hand-rolling run-length encoding (see DESIGN.md).
package itemset

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
)

// Set is a mutable, compressed set of 32-bit item ids.
type Set struct {
	bm *roaring.Bitmap
}

// New returns an empty set.
func New() *Set {
	return &Set{bm: roaring.New()}
}

// FromItems builds a set from a slice of ids.
func FromItems(ids []uint32) *Set {
	s := New()
	s.bm.AddMany(ids)
	return s
}

func (s *Set) Add(id uint32)      { s.bm.Add(id) }
func (s *Set) Remove(id uint32)   { s.bm.Remove(id) }
func (s *Set) Contains(id uint32) bool { return s.bm.Contains(id) }
func (s *Set) Len() int          { return int(s.bm.GetCardinality()) }

// Clone returns an independent copy that shares no storage with s.
func (s *Set) Clone() *Set {
	return &Set{bm: s.bm.Clone()}
}

// Items returns the set's members in ascending order.
func (s *Set) Items() []uint32 {
	return s.bm.ToArray()
}

// Iterate calls fn for every member in ascending order, stopping early if
// fn returns false.
func (s *Set) Iterate(fn func(id uint32) bool) {
	it := s.bm.Iterator()
	for it.HasNext() {
		if !fn(it.Next()) {
			return
		}
	}
}

// Union returns a new set containing the members of both s and other.
func (s *Set) Union(other *Set) *Set {
	return &Set{bm: roaring.Or(s.bm, other.bm)}
}

// Serialize returns the canonical compressed bitmap encoding stored in a
// descendants node body (spec §6).
func (s *Set) Serialize() ([]byte, error) {
	b, err := s.bm.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("itemset: serialize: %w", err)
	}
	return b, nil
}

// Deserialize parses the canonical compressed bitmap encoding back into a
// Set. The returned Set does not alias raw.
func Deserialize(raw []byte) (*Set, error) {
	bm := roaring.New()
	if err := bm.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("itemset: deserialize: %w", err)
	}
	return &Set{bm: bm}, nil
}
