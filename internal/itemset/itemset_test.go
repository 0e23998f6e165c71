package itemset

import (
	"reflect"
	"testing"
)

func TestAddContainsRemove(t *testing.T) {
	s := New()
	s.Add(3)
	s.Add(7)
	s.Add(42)

	if !s.Contains(7) {
		t.Fatalf("expected set to contain 7")
	}
	if s.Contains(8) {
		t.Fatalf("did not expect set to contain 8")
	}
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}

	s.Remove(7)
	if s.Contains(7) || s.Len() != 2 {
		t.Fatalf("Remove did not take effect")
	}
}

func TestItemsAscending(t *testing.T) {
	s := FromItems([]uint32{42, 1, 7})
	if got, want := s.Items(), []uint32{1, 7, 42}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Items() = %v, want %v", got, want)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	s := FromItems([]uint32{0, 100, 1 << 20, 0x7FFFFFFF})
	raw, err := s.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	got, err := Deserialize(raw)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !reflect.DeepEqual(got.Items(), s.Items()) {
		t.Fatalf("round trip mismatch: got %v, want %v", got.Items(), s.Items())
	}
}

func TestCloneIndependence(t *testing.T) {
	s := FromItems([]uint32{1, 2, 3})
	clone := s.Clone()
	clone.Add(99)

	if s.Contains(99) {
		t.Fatalf("mutating the clone affected the original")
	}
}

func TestUnion(t *testing.T) {
	a := FromItems([]uint32{1, 2})
	b := FromItems([]uint32{2, 3})
	u := a.Union(b)
	if got, want := u.Items(), []uint32{1, 2, 3}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Union = %v, want %v", got, want)
	}
}
