package store

import "encoding/binary"

// Tag namespaces independent indexes hosted within one store (spec §3
// "Index tag").
type Tag uint16

// KeySize is the width of an encoded (tag, node_id) key: spec §6 specifies
// big-endian tag (2 bytes) followed by big-endian node_id (4 bytes).
const KeySize = 2 + 4

// EncodeKey renders a (tag, node_id) pair in the big-endian key form of
// spec §6. Segment files do not use this form: they store the tag once in
// the segment header and each record's node id as a little-endian u32.
func EncodeKey(tag Tag, nodeID uint32) [KeySize]byte {
	var k [KeySize]byte
	binary.BigEndian.PutUint16(k[0:2], uint16(tag))
	binary.BigEndian.PutUint32(k[2:6], nodeID)
	return k
}

// DecodeKey is EncodeKey's inverse.
func DecodeKey(k []byte) (Tag, uint32) {
	return Tag(binary.BigEndian.Uint16(k[0:2])), binary.BigEndian.Uint32(k[2:6])
}
