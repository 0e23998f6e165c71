package codec

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/vecforge/annoyforest/internal/kernel"
)

// View is a zero-copy projection over a node's raw bytes (spec §4.2,
// §9 "shared read-only mapping"). It never retains ownership of raw: the
// caller (typically internal/store) guarantees raw stays valid for the
// lifetime of the enclosing read transaction. Any method that would need
// to mutate a node instead returns a fresh []byte via the Encode* helpers.
type View struct {
	raw []byte
}

// NewView wraps raw bytes as a node view without copying or validating
// them; call Discriminant/Metric to inspect before trusting the body.
func NewView(raw []byte) View { return View{raw: raw} }

// Bytes returns the underlying byte slice (still zero-copy).
func (v View) Bytes() []byte { return v.raw }

// Discriminant reports which node variant raw encodes.
func (v View) Discriminant() (Discriminant, error) {
	if len(v.raw) < headerSize {
		return 0, &ErrCorrupt{Reason: "node shorter than header"}
	}
	return Discriminant(v.raw[0]), nil
}

// Metric reports the metric byte stored in the node header.
func (v View) Metric() (kernel.Metric, error) {
	if len(v.raw) < headerSize {
		return 0, &ErrCorrupt{Reason: "node shorter than header"}
	}
	return kernel.Metric(v.raw[1]), nil
}

// floatSliceView reinterprets n little-endian float32 values starting at
// byte offset off in raw, without copying. This relies on the host being
// little-endian, true of every architecture this module targets (amd64,
// arm64, riscv64); on a big-endian host this would need an explicit
// per-element decode instead.
func floatSliceView(raw []byte, off, n int) []float32 {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&raw[off])), n)
}

func putFloat32(dst []byte, off int, f float32) {
	binary.LittleEndian.PutUint32(dst[off:], math.Float32bits(f))
}

func getFloat32(raw []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
}

// --- Item node -----------------------------------------------------------

// trailerLen returns the metric-trailer size in float32 units (spec §6:
// "metric-trailer (e.g., norm for dot-product)"). Only DotProduct persists
// one: the item's raw L2 norm, so the augmentation coordinate can be
// recomputed against a new M without re-reading the full vector.
func trailerLen(m kernel.Metric) int {
	if m == kernel.DotProduct {
		return 1
	}
	return 0
}

// EncodeItem serializes an item node: header + D-float vector + trailer.
func EncodeItem(m kernel.Metric, vector []float32, trailer []float32) []byte {
	d := len(vector)
	tl := trailerLen(m)
	size := headerSize + (d+tl)*4
	buf := make([]byte, size)
	buf[0] = byte(DiscItem)
	buf[1] = byte(m)
	for i, f := range vector {
		putFloat32(buf, headerSize+i*4, f)
	}
	for i, f := range trailer {
		putFloat32(buf, headerSize+(d+i)*4, f)
	}
	return buf
}

// ItemVector returns a zero-copy view of the D-float vector in an item
// node, where D is supplied by the caller (from the index's metadata
// record, since the node itself does not encode D).
func (v View) ItemVector(dimension int) ([]float32, error) {
	disc, err := v.Discriminant()
	if err != nil {
		return nil, err
	}
	if disc != DiscItem {
		return nil, &ErrCorrupt{Reason: "not an item node"}
	}
	m, _ := v.Metric()
	need := headerSize + (dimension+trailerLen(m))*4
	if len(v.raw) < need {
		return nil, &ErrCorrupt{Reason: "item node shorter than declared dimension"}
	}
	return floatSliceView(v.raw, headerSize, dimension), nil
}

// ItemTrailer returns the metric-trailer floats (empty for metrics with no
// trailer).
func (v View) ItemTrailer(dimension int) ([]float32, error) {
	m, err := v.Metric()
	if err != nil {
		return nil, err
	}
	tl := trailerLen(m)
	if tl == 0 {
		return nil, nil
	}
	off := headerSize + dimension*4
	if len(v.raw) < off+tl*4 {
		return nil, &ErrCorrupt{Reason: "item node shorter than declared trailer"}
	}
	return floatSliceView(v.raw, off, tl), nil
}

// --- Split node ------------------------------------------------------------

// EncodeSplit serializes a split node: header + D-float normal + bias +
// left/right child ids.
func EncodeSplit(m kernel.Metric, normal []float32, bias float32, left, right uint32) []byte {
	d := len(normal)
	size := headerSize + d*4 + 4 + 4 + 4
	buf := make([]byte, size)
	buf[0] = byte(DiscSplit)
	buf[1] = byte(m)
	for i, f := range normal {
		putFloat32(buf, headerSize+i*4, f)
	}
	biasOff := headerSize + d*4
	putFloat32(buf, biasOff, bias)
	binary.LittleEndian.PutUint32(buf[biasOff+4:], left)
	binary.LittleEndian.PutUint32(buf[biasOff+8:], right)
	return buf
}

// SplitBody is the decoded, still zero-copy (for Normal) view of a split
// node's fields.
type SplitBody struct {
	Normal      []float32
	Bias        float32
	Left, Right uint32
}

func (v View) Split(dimension int) (SplitBody, error) {
	disc, err := v.Discriminant()
	if err != nil {
		return SplitBody{}, err
	}
	if disc != DiscSplit {
		return SplitBody{}, &ErrCorrupt{Reason: "not a split node"}
	}
	need := headerSize + dimension*4 + 12
	if len(v.raw) < need {
		return SplitBody{}, &ErrCorrupt{Reason: "split node shorter than declared dimension"}
	}
	biasOff := headerSize + dimension*4
	return SplitBody{
		Normal: floatSliceView(v.raw, headerSize, dimension),
		Bias:   getFloat32(v.raw, biasOff),
		Left:   binary.LittleEndian.Uint32(v.raw[biasOff+4:]),
		Right:  binary.LittleEndian.Uint32(v.raw[biasOff+8:]),
	}, nil
}

// --- Descendants node ------------------------------------------------------

// EncodeDescendants serializes a descendants node: header + u32 count +
// the canonical compressed-bitmap bytes for the id set (spec §6).
func EncodeDescendants(m kernel.Metric, count uint32, bitmap []byte) []byte {
	size := headerSize + 4 + len(bitmap)
	buf := make([]byte, size)
	buf[0] = byte(DiscDescendants)
	buf[1] = byte(m)
	binary.LittleEndian.PutUint32(buf[headerSize:], count)
	copy(buf[headerSize+4:], bitmap)
	return buf
}

type DescendantsBody struct {
	Count  uint32
	Bitmap []byte // zero-copy slice of the canonical compressed bitmap
}

func (v View) Descendants() (DescendantsBody, error) {
	disc, err := v.Discriminant()
	if err != nil {
		return DescendantsBody{}, err
	}
	if disc != DiscDescendants {
		return DescendantsBody{}, &ErrCorrupt{Reason: "not a descendants node"}
	}
	if len(v.raw) < headerSize+4 {
		return DescendantsBody{}, &ErrCorrupt{Reason: "descendants node shorter than header"}
	}
	count := binary.LittleEndian.Uint32(v.raw[headerSize:])
	return DescendantsBody{
		Count:  count,
		Bitmap: v.raw[headerSize+4:],
	}, nil
}
