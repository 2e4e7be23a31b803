package core

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// segmentRole distinguishes the single append target from every other
// segment, which is immutable until compaction deletes it.
type segmentRole int

const (
	roleReadOnly segmentRole = iota
	roleActive
)

// segment is one append-only log file in the data directory, named
// "<gen>.log". Exactly one segment is active (the append target) at any
// time; the rest are read-only until compaction deletes them.
type segment struct {
	gen  uint64
	path string
	role segmentRole
	file *os.File
	size int64 // end offset of the records: append position when active, end of the last replayed record otherwise
}

var segmentNamePattern = regexp.MustCompile(`^(\d+)\.log$`)

func segmentPath(dir string, gen uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.log", gen))
}

// discoverSegmentGens scans dir for files matching "<gen>.log", ignoring
// anything else (no subdirectories, no other metadata files expected), and
// returns the generations found in ascending order.
func discoverSegmentGens(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir %q: %w", dir, err)
	}

	var gens []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := segmentNamePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		gen, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			// Unreachable given the pattern, but filenames are ignored, not
			// fatal, if this ever fires.
			continue
		}
		gens = append(gens, gen)
	}

	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	return gens, nil
}

// openActiveSegment creates generation gen as a fresh file open for append,
// and fsyncs the data directory afterward so the new directory entry
// survives a crash even before the first record is written.
func openActiveSegment(dir string, gen uint64) (*segment, error) {
	path := segmentPath(dir, gen)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create active segment %d: %w", gen, err)
	}

	if err := fsyncDir(dir); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("fsync data dir after creating segment %d: %w", gen, err)
	}

	off, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("seek to end of active segment %d: %w", gen, err)
	}

	return &segment{gen: gen, path: path, role: roleActive, file: f, size: off}, nil
}

// openReadableSegment opens an existing segment for random-access reads.
// The caller is responsible for replaying it to populate the keydir.
func openReadableSegment(dir string, gen uint64) (*segment, error) {
	path := segmentPath(dir, gen)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open segment %d: %w", gen, err)
	}
	return &segment{gen: gen, path: path, role: roleReadOnly, file: f}, nil
}

// append writes a pre-encoded record to the tail of an active segment and
// returns the offset it was written at and its length. Writes are buffered
// by the OS; the caller decides whether to fsync (see Engine.fsync).
func (s *segment) append(rec []byte, fsync bool) (offset int64, length int64, err error) {
	offset = s.size

	n, err := s.file.Write(rec)
	if err != nil {
		return 0, 0, fmt.Errorf("append to segment %d: %w", s.gen, err)
	}
	s.size += int64(n)

	if fsync {
		if err := s.file.Sync(); err != nil {
			return 0, 0, fmt.Errorf("fsync segment %d: %w", s.gen, err)
		}
	}

	return offset, int64(n), nil
}

// readAt reads exactly length bytes starting at offset from the segment,
// regardless of its role.
func (s *segment) readAt(offset, length int64) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := s.file.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("read segment %d at %d: %w", s.gen, offset, err)
	}
	return buf, nil
}

func (s *segment) close() error {
	return s.file.Close()
}

// deleteSegment removes a segment's file from disk. Callers must have
// already dropped every keydir reference to it and closed its handle.
func deleteSegment(dir string, gen uint64) error {
	if err := os.Remove(segmentPath(dir, gen)); err != nil {
		return fmt.Errorf("delete segment %d: %w", gen, err)
	}
	return nil
}

// fsyncDir durably commits directory-entry changes (segment creation,
// deletion) by syncing the directory's own file descriptor.
func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close() // nolint:errcheck
	return d.Sync()
}
