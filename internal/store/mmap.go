package store

import (
	"fmt"
	"os"
	"syscall"
)

// mappedFile is a read-only memory mapping of an immutable segment file.
// Writers build segments with ordinary buffered I/O; only committed,
// never-again-mutated segments get mapped this way.
type mappedFile struct {
	file *os.File
	data []byte
	size int64
}

func mapFileReadOnly(path string) (*mappedFile, error) {
	file, err := os.OpenFile(path, os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open segment: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("store: stat segment: %w", err)
	}
	size := stat.Size()
	if size == 0 {
		file.Close()
		return nil, fmt.Errorf("store: cannot map empty segment %s", path)
	}

	data, err := syscall.Mmap(int(file.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("store: mmap segment: %w", err)
	}

	return &mappedFile{file: file, data: data, size: size}, nil
}

func (m *mappedFile) Data() []byte { return m.data }

// Close unmaps and closes the file. Safe to call after the underlying path
// has been unlinked or replaced by a newer generation: the mapping and the
// open file descriptor remain valid (standard POSIX semantics) until this
// Close runs, which is exactly what lets an in-flight reader keep its
// snapshot alive across a concurrent rebuild (spec §5, §8 property 4).
func (m *mappedFile) Close() error {
	var err error
	if m.data != nil {
		if e := syscall.Munmap(m.data); e != nil {
			err = fmt.Errorf("store: munmap segment: %w", e)
		}
		m.data = nil
	}
	if m.file != nil {
		if e := m.file.Close(); e != nil && err == nil {
			err = fmt.Errorf("store: close segment file: %w", e)
		}
		m.file = nil
	}
	return err
}
