package codec

import (
	"encoding/binary"
	"math"

	"github.com/vecforge/annoyforest/internal/kernel"
)

// Metadata is the decoded form of the fixed per-tag metadata record (spec
// §3, §6): [version:u8][metric:u8][D:u32][item_count:u64][seed:u64]
// [max_norm:f32][n_roots:u32][root_ids:u32 x n_roots]. MaxNorm is the
// Bachrach augmentation constant M captured at build time (spec §4.1,
// §9); it is zero and unused for every metric but DotProduct.
type Metadata struct {
	Version   uint8
	Metric    kernel.Metric
	Dimension uint32
	ItemCount uint64
	Seed      uint64
	MaxNorm   float32
	RootIDs   []uint32
}

const metadataFixedSize = 1 + 1 + 4 + 8 + 8 + 4 + 4

// EncodeMetadata serializes a Metadata record.
func EncodeMetadata(md Metadata) []byte {
	buf := make([]byte, metadataFixedSize+4*len(md.RootIDs))
	buf[0] = md.Version
	buf[1] = byte(md.Metric)
	binary.LittleEndian.PutUint32(buf[2:], md.Dimension)
	binary.LittleEndian.PutUint64(buf[6:], md.ItemCount)
	binary.LittleEndian.PutUint64(buf[14:], md.Seed)
	binary.LittleEndian.PutUint32(buf[22:], math.Float32bits(md.MaxNorm))
	binary.LittleEndian.PutUint32(buf[26:], uint32(len(md.RootIDs)))
	off := metadataFixedSize
	for _, id := range md.RootIDs {
		binary.LittleEndian.PutUint32(buf[off:], id)
		off += 4
	}
	return buf
}

// DecodeMetadata parses a Metadata record, validating its declared length
// against the number of root ids it claims to carry (spec §7 CorruptNode).
func DecodeMetadata(raw []byte) (Metadata, error) {
	if len(raw) < metadataFixedSize {
		return Metadata{}, &ErrCorrupt{Reason: "metadata record shorter than fixed header"}
	}
	md := Metadata{
		Version:   raw[0],
		Metric:    kernel.Metric(raw[1]),
		Dimension: binary.LittleEndian.Uint32(raw[2:]),
		ItemCount: binary.LittleEndian.Uint64(raw[6:]),
		Seed:      binary.LittleEndian.Uint64(raw[14:]),
		MaxNorm:   math.Float32frombits(binary.LittleEndian.Uint32(raw[22:])),
	}
	nRoots := binary.LittleEndian.Uint32(raw[26:])
	need := metadataFixedSize + int(nRoots)*4
	if len(raw) < need {
		return Metadata{}, &ErrCorrupt{Reason: "metadata record shorter than declared root count"}
	}
	md.RootIDs = make([]uint32, nRoots)
	off := metadataFixedSize
	for i := range md.RootIDs {
		md.RootIDs[i] = binary.LittleEndian.Uint32(raw[off:])
		off += 4
	}
	return md, nil
}
