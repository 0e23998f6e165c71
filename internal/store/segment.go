package store

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/vecforge/annoyforest/internal/codec"
)

// segmentMagic identifies a committed forest segment file.
const segmentMagic = "ANNFSEG1"

// segmentHeaderSize is magic(8) + version(1) + pad(3) + tag(2) + pad(2) +
// nodeCount(4) + checksum(4).
const segmentHeaderSize = 8 + 1 + 3 + 2 + 2 + 4 + 4

// span locates one node's bytes inside a mapped segment.
type span struct {
	offset, length int
}

// segment is an opened, read-only snapshot of one tag's committed nodes.
// Node lookup is O(1) via an in-memory offset index built once at open
// time; the segment's bytes themselves are never copied (spec §4.2,
// "zero-copy projection").
type segment struct {
	mm    *mappedFile
	tag   Tag
	index map[uint32]span
	path  string

	// refCount tracks open ReadTxns pinning this segment. Only ever touched
	// while the owning tagState's mutex is held, so it needs no atomics of
	// its own.
	refCount int
}

// writeSegment serializes nodes (including the reserved metadata record
// under codec.MetadataNodeID) into a fresh segment file and atomically
// publishes it at path: write to path+".tmp", fsync, rename into place.
func writeSegment(path string, tag Tag, nodes map[uint32][]byte) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("store: create segment temp file: %w", err)
	}

	writeErr := func() error {
		body, err := encodeSegmentBody(nodes)
		if err != nil {
			return err
		}

		header := make([]byte, segmentHeaderSize)
		copy(header[0:8], segmentMagic)
		header[8] = 1 // version
		binary.LittleEndian.PutUint16(header[12:14], uint16(tag))
		binary.LittleEndian.PutUint32(header[16:20], uint32(len(nodes)))
		binary.LittleEndian.PutUint32(header[20:24], crc32.ChecksumIEEE(body))

		if _, err := file.Write(header); err != nil {
			return err
		}
		_, err = file.Write(body)
		return err
	}()

	if syncErr := file.Sync(); syncErr != nil && writeErr == nil {
		writeErr = syncErr
	}
	if closeErr := file.Close(); closeErr != nil && writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: write segment: %w", writeErr)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: publish segment: %w", err)
	}
	return nil
}

// encodeSegmentBody lays out [nodeID u32 LE][length u32 LE][raw bytes] for
// every node, in ascending node-id order so the body is byte-stable given
// the same node set (spec §8 property 3, determinism).
func encodeSegmentBody(nodes map[uint32][]byte) ([]byte, error) {
	ids := make([]uint32, 0, len(nodes))
	size := 0
	for id, raw := range nodes {
		ids = append(ids, id)
		size += 8 + len(raw)
	}
	sortUint32(ids)

	body := make([]byte, 0, size)
	var rec [8]byte
	for _, id := range ids {
		raw := nodes[id]
		binary.LittleEndian.PutUint32(rec[0:4], id)
		binary.LittleEndian.PutUint32(rec[4:8], uint32(len(raw)))
		body = append(body, rec[:]...)
		body = append(body, raw...)
	}
	return body, nil
}

func sortUint32(s []uint32) {
	// Insertion sort is adequate: node counts per build batch are bounded
	// by the segment's own node count, and this only runs once per
	// commit. Avoids pulling in sort.Slice's reflection-based comparator
	// for a plain numeric key.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// openSegment mmaps path and builds the in-memory id->span index by
// scanning the body once.
func openSegment(path string) (*segment, error) {
	mm, err := mapFileReadOnly(path)
	if err != nil {
		return nil, err
	}

	data := mm.Data()
	if len(data) < segmentHeaderSize || string(data[0:8]) != segmentMagic {
		mm.Close()
		return nil, fmt.Errorf("store: %s: not a forest segment", path)
	}

	tag := Tag(binary.LittleEndian.Uint16(data[12:14]))
	nodeCount := binary.LittleEndian.Uint32(data[16:20])
	checksum := binary.LittleEndian.Uint32(data[20:24])
	body := data[segmentHeaderSize:]
	if crc32.ChecksumIEEE(body) != checksum {
		mm.Close()
		return nil, fmt.Errorf("store: %s: checksum mismatch", path)
	}

	index := make(map[uint32]span, nodeCount)
	off := 0
	for i := uint32(0); i < nodeCount; i++ {
		if off+8 > len(body) {
			mm.Close()
			return nil, fmt.Errorf("store: %s: truncated record table", path)
		}
		id := binary.LittleEndian.Uint32(body[off : off+4])
		length := int(binary.LittleEndian.Uint32(body[off+4 : off+8]))
		off += 8
		if off+length > len(body) {
			mm.Close()
			return nil, fmt.Errorf("store: %s: truncated record body", path)
		}
		index[id] = span{offset: segmentHeaderSize + off, length: length}
		off += length
	}

	return &segment{mm: mm, tag: tag, index: index, path: path}, nil
}

func (s *segment) get(nodeID uint32) ([]byte, bool) {
	sp, ok := s.index[nodeID]
	if !ok {
		return nil, false
	}
	data := s.mm.Data()
	return data[sp.offset : sp.offset+sp.length], true
}

// scanInternal visits every internal (split/descendants) node in the
// segment, skipping item nodes and the reserved metadata record.
func (s *segment) scanInternal(fn func(nodeID uint32, raw []byte) bool) {
	data := s.mm.Data()
	for id, sp := range s.index {
		if id == codec.MetadataNodeID || codec.IsItemID(id) {
			continue
		}
		if !fn(id, data[sp.offset:sp.offset+sp.length]) {
			return
		}
	}
}

// scanAllItems visits every item node in the segment, used by commit to
// seed the working set from the prior generation before replaying staged
// ops on top.
func (s *segment) scanAllItems(fn func(nodeID uint32, raw []byte) bool) {
	data := s.mm.Data()
	for id, sp := range s.index {
		if !codec.IsItemID(id) {
			continue
		}
		if !fn(id, data[sp.offset:sp.offset+sp.length]) {
			return
		}
	}
}

func (s *segment) close() error {
	return s.mm.Close()
}
