package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/vecforge/annoyforest/internal/store/wal"
)

// tagState holds everything the engine tracks for one tag: the current
// published segment (nil before the first commit), a reference count so a
// segment outlives every reader that opened it before a rebuild, the WAL
// backing the in-flight write transaction, and whether a writer currently
// holds that transaction open.
type tagState struct {
	mu         sync.Mutex
	current    *segment
	generation uint64
	wal        *wal.WAL
	writeOpen  bool
	// superseded holds segments whose refs have not yet reached zero; they
	// are closed and their files removed by releaseSegment once the last
	// referencing ReadTxn closes.
	superseded []*segment
}

// Store is the embedded, mmap-backed key-value engine hosting every tag in
// one base directory (spec §1, "a single on-disk environment may host
// multiple independent indexes").
type Store struct {
	mu       sync.Mutex
	basePath string
	tags     map[Tag]*tagState
}

// Open opens (creating if necessary) a store rooted at basePath, restoring
// the latest committed segment for every tag already present on disk. A
// tag's pending WAL is replayed later, by its first BeginWrite.
func Open(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("store: create base dir: %w", err)
	}

	s := &Store{basePath: basePath, tags: make(map[Tag]*tagState)}

	entries, err := os.ReadDir(basePath)
	if err != nil {
		return nil, fmt.Errorf("store: read base dir: %w", err)
	}

	latestGen := map[Tag]uint64{}
	for _, e := range entries {
		tag, gen, ok := parseSegmentFilename(e.Name())
		if !ok {
			continue
		}
		if gen >= latestGen[tag] {
			latestGen[tag] = gen
		}
	}

	for tag, gen := range latestGen {
		ts := s.tagStateFor(tag)
		seg, err := openSegment(s.segmentPath(tag, gen))
		if err != nil {
			return nil, fmt.Errorf("store: reopen tag %d generation %d: %w", tag, gen, err)
		}
		ts.current = seg
		ts.generation = gen
	}

	return s, nil
}

func (s *Store) tagStateFor(tag Tag) *tagState {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tags[tag]
	if !ok {
		ts = &tagState{}
		s.tags[tag] = ts
	}
	return ts
}

func (s *Store) segmentPath(tag Tag, generation uint64) string {
	return filepath.Join(s.basePath, fmt.Sprintf("tag-%05d.gen-%020d.seg", tag, generation))
}

func (s *Store) walPath(tag Tag) string {
	return filepath.Join(s.basePath, fmt.Sprintf("tag-%05d.wal", tag))
}

func parseSegmentFilename(name string) (Tag, uint64, bool) {
	if !strings.HasPrefix(name, "tag-") || !strings.HasSuffix(name, ".seg") {
		return 0, 0, false
	}
	parts := strings.SplitN(strings.TrimSuffix(name, ".seg"), ".gen-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	tagNum, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "tag-"), 10, 16)
	if err != nil {
		return 0, 0, false
	}
	gen, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return Tag(tagNum), gen, true
}

// BeginRead opens a snapshot-isolated read transaction over tag, pinning
// whatever segment is currently published so a concurrent rebuild cannot
// invalidate it out from under the caller.
func (s *Store) BeginRead(tag Tag) (*ReadTxn, error) {
	ts := s.tagStateFor(tag)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.current != nil {
		ts.current.refCount++
	}
	return &ReadTxn{store: s, tag: tag, seg: ts.current}, nil
}

// BeginWrite opens the single write transaction a Writer holds across an
// entire build (spec §4.3, §4.5). Returns ErrWriterBusy if one is already
// open for tag.
func (s *Store) BeginWrite(tag Tag) (*WriteTxn, error) {
	ts := s.tagStateFor(tag)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.writeOpen {
		return nil, ErrWriterBusy
	}

	var recovered []writeOp
	if ts.wal == nil {
		w, err := wal.Open(s.walPath(tag))
		if err != nil {
			return nil, err
		}
		ts.wal = w

		// Recover any ops staged by a writer that crashed before Commit
		// (spec §5: "a write transaction's staged puts survive a crash").
		replayErr := w.Replay(func(e wal.Entry) error {
			switch e.Op {
			case wal.OpClear:
				recovered = nil
			case wal.OpDelete:
				recovered = append(recovered, writeOp{del: true, nodeID: e.NodeID})
			default:
				recovered = append(recovered, writeOp{nodeID: e.NodeID, raw: e.Data})
			}
			return nil
		})
		if replayErr != nil {
			return nil, fmt.Errorf("store: replay wal for tag %d: %w", tag, replayErr)
		}
	}

	ts.writeOpen = true
	return &WriteTxn{store: s, tag: tag, ops: recovered}, nil
}

func (s *Store) appendWAL(tag Tag, nodeID uint32, raw []byte, del bool) error {
	ts := s.tagStateFor(tag)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	op := wal.OpPut
	if del {
		op = wal.OpDelete
	}
	return ts.wal.Append(wal.Entry{Op: op, Tag: uint16(tag), NodeID: nodeID, Data: raw})
}

func (s *Store) appendClearWAL(tag Tag) error {
	ts := s.tagStateFor(tag)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.wal.Append(wal.Entry{Op: wal.OpClear, Tag: uint16(tag)})
}

// commit replays ops onto the prior segment's item-range nodes, publishes
// the result as a new generation, and retires the old one.
func (s *Store) commit(tag Tag, ops []writeOp) error {
	ts := s.tagStateFor(tag)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	merged := map[uint32][]byte{}
	if ts.current != nil {
		ts.current.scanAllItems(func(id uint32, raw []byte) bool {
			merged[id] = append([]byte(nil), raw...)
			return true
		})
	}
	for _, op := range ops {
		if op.del {
			delete(merged, op.nodeID)
			continue
		}
		merged[op.nodeID] = op.raw
	}

	nextGen := ts.generation + 1
	path := s.segmentPath(tag, nextGen)
	if err := writeSegment(path, tag, merged); err != nil {
		ts.writeOpen = false
		return fmt.Errorf("store: commit: %w", err)
	}

	newSeg, err := openSegment(path)
	if err != nil {
		ts.writeOpen = false
		return fmt.Errorf("store: commit: reopen new segment: %w", err)
	}

	old := ts.current
	ts.current = newSeg
	ts.generation = nextGen
	ts.writeOpen = false

	if old != nil {
		if old.refCount == 0 {
			old.close()
			os.Remove(old.path)
		} else {
			ts.superseded = append(ts.superseded, old)
		}
	}

	if ts.wal != nil {
		if err := ts.wal.Truncate(); err != nil {
			return fmt.Errorf("store: commit: truncate wal: %w", err)
		}
	}
	return nil
}

func (s *Store) rollback(tag Tag) error {
	ts := s.tagStateFor(tag)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.writeOpen = false
	if ts.wal != nil {
		return ts.wal.Truncate()
	}
	return nil
}

// releaseSegment drops a ReadTxn's reference to seg. If seg has been
// superseded by a newer generation and this was its last reference, the
// segment is unmapped and its file removed.
func (s *Store) releaseSegment(tag Tag, seg *segment) {
	ts := s.tagStateFor(tag)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if seg == ts.current {
		seg.refCount--
		return
	}
	for i, sup := range ts.superseded {
		if sup == seg {
			sup.refCount--
			if sup.refCount == 0 {
				sup.close()
				os.Remove(sup.path)
				ts.superseded = append(ts.superseded[:i], ts.superseded[i+1:]...)
			}
			return
		}
	}
}

// Close shuts down every tag's WAL and mapped segment.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, ts := range s.tags {
		if ts.wal != nil {
			if err := ts.wal.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if ts.current != nil {
			if err := ts.current.close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		for _, sup := range ts.superseded {
			sup.close()
		}
	}
	return firstErr
}

// Tags returns every tag with a committed segment, sorted ascending.
func (s *Store) Tags() []Tag {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Tag, 0, len(s.tags))
	for tag, ts := range s.tags {
		if ts.current != nil {
			out = append(out, tag)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
