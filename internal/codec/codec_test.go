package codec

import (
	"reflect"
	"testing"

	"github.com/vecforge/annoyforest/internal/kernel"
)

func TestItemRoundTrip(t *testing.T) {
	vec := []float32{1.5, -2.25, 3.0, 0.0}
	raw := EncodeItem(kernel.Euclidean, vec, nil)

	v := NewView(raw)
	disc, err := v.Discriminant()
	if err != nil || disc != DiscItem {
		t.Fatalf("Discriminant = %v, %v; want DiscItem", disc, err)
	}

	got, err := v.ItemVector(len(vec))
	if err != nil {
		t.Fatalf("ItemVector: %v", err)
	}
	if !reflect.DeepEqual(got, vec) {
		t.Fatalf("ItemVector = %v, want %v (bit-exact round-trip)", got, vec)
	}
}

func TestItemWithDotProductTrailer(t *testing.T) {
	vec := []float32{3, 4}
	trailer := []float32{5} // ‖v‖
	raw := EncodeItem(kernel.DotProduct, vec, trailer)

	v := NewView(raw)
	got, err := v.ItemTrailer(len(vec))
	if err != nil {
		t.Fatalf("ItemTrailer: %v", err)
	}
	if !reflect.DeepEqual(got, trailer) {
		t.Fatalf("ItemTrailer = %v, want %v", got, trailer)
	}
}

func TestSplitRoundTrip(t *testing.T) {
	normal := []float32{1, 0, -1}
	raw := EncodeSplit(kernel.Euclidean, normal, 2.5, 10, 20)

	v := NewView(raw)
	disc, _ := v.Discriminant()
	if disc != DiscSplit {
		t.Fatalf("Discriminant = %v, want DiscSplit", disc)
	}

	body, err := v.Split(len(normal))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if !reflect.DeepEqual(body.Normal, normal) || body.Bias != 2.5 || body.Left != 10 || body.Right != 20 {
		t.Fatalf("Split = %+v, unexpected", body)
	}
}

func TestDescendantsRoundTrip(t *testing.T) {
	bitmap := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	raw := EncodeDescendants(kernel.Cosine, 3, bitmap)

	v := NewView(raw)
	body, err := v.Descendants()
	if err != nil {
		t.Fatalf("Descendants: %v", err)
	}
	if body.Count != 3 || !reflect.DeepEqual(body.Bitmap, bitmap) {
		t.Fatalf("Descendants = %+v, unexpected", body)
	}
}

func TestDecodeRejectsShortBuffers(t *testing.T) {
	if _, err := NewView([]byte{0x01, 0x00}).ItemVector(4); err == nil {
		t.Fatalf("expected corruption error for truncated item node")
	}
	if _, err := NewView(nil).Discriminant(); err == nil {
		t.Fatalf("expected corruption error for empty node")
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	md := Metadata{
		Version:   FormatVersion,
		Metric:    kernel.Cosine,
		Dimension: 128,
		ItemCount: 42,
		Seed:      0xC0FFEE,
		MaxNorm:   0,
		RootIDs:   []uint32{InternalIDBase, InternalIDBase + 1, InternalIDBase + 2},
	}
	raw := EncodeMetadata(md)
	got, err := DecodeMetadata(raw)
	if err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}
	if !reflect.DeepEqual(got, md) {
		t.Fatalf("DecodeMetadata = %+v, want %+v", got, md)
	}
}

func TestMetadataRejectsTruncatedRootList(t *testing.T) {
	md := Metadata{Version: 1, Dimension: 4, RootIDs: []uint32{1, 2, 3}}
	raw := EncodeMetadata(md)
	if _, err := DecodeMetadata(raw[:len(raw)-4]); err == nil {
		t.Fatalf("expected corruption error for truncated root list")
	}
}
