// Package core implements the storage engine: the on-disk log format, the
// in-memory keydir, the append/index/compaction protocol, and the
// startup log-replay that reconstructs state after a restart. It follows
// the Bitcask model — every mutation appends a record to the active
// segment, the keydir maps each live key to the byte range of its most
// recent record, and compaction reclaims space once obsolete bytes pile up.
package core

import (
	"fmt"
	"os"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
)

// Engine is the storage engine. It owns the record codec, the segment
// files, and the keydir, and is the only thing in this package a caller
// touches directly.
//
// Engine is not safe for concurrent use. It is a single-writer,
// single-reader-per-process engine: callers invoke Set/Get/Remove
// sequentially. Running two Engines against the same directory is
// undefined behavior; acquireDirLock turns the common accident of trying
// into a clear error rather than silent keydir corruption.
type Engine struct {
	dir                 string
	fsync               bool
	compactionThreshold int64
	log                 *zap.SugaredLogger
	closed              atomic.Bool

	lock *dirLock

	kd         *keydir
	staleBytes int64

	activeGen uint64
	segments  map[uint64]*segment // every open segment, including the active one
}

// Open opens (creating if necessary) the data directory dir and replays
// every existing segment to reconstruct the keydir and the stale-byte
// counter. It then allocates a fresh generation for the new active
// segment: replay always runs strictly over prior, now-closed-off
// generations, keeping writes for this session separate from the
// generations being read during replay.
func Open(dir string, opts ...Option) (*Engine, error) {
	e := &Engine{
		dir:                 dir,
		compactionThreshold: defaultCompactionThreshold,
		log:                 noopLogger(),
		kd:                  newKeydir(),
		segments:            make(map[uint64]*segment),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %q: %w", dir, err)
	}

	lock, err := acquireDirLock(dir)
	if err != nil {
		return nil, err
	}
	e.lock = lock

	var openErr error
	defer func() {
		if openErr != nil {
			e.abortOpen()
		}
	}()

	gens, err := discoverSegmentGens(dir)
	if err != nil {
		openErr = err
		return nil, openErr
	}
	e.logOrphanSegments(gens)

	for _, gen := range gens {
		seg, err := openReadableSegment(dir, gen)
		if err != nil {
			openErr = fmt.Errorf("open segment %d: %w", gen, err)
			return nil, openErr
		}
		e.segments[gen] = seg

		if err := e.replaySegment(seg); err != nil {
			openErr = fmt.Errorf("replay segment %d: %w", gen, err)
			return nil, openErr
		}
	}

	var nextGen uint64 = 1
	if len(gens) > 0 {
		nextGen = gens[len(gens)-1] + 1
	}

	active, err := openActiveSegment(dir, nextGen)
	if err != nil {
		openErr = fmt.Errorf("open active segment %d: %w", nextGen, err)
		return nil, openErr
	}
	e.activeGen = nextGen
	e.segments[nextGen] = active

	e.log.Infow("engine opened",
		"dir", dir, "replayedSegments", len(gens), "activeGen", nextGen, "keys", e.kd.len())

	return e, nil
}

// replaySegment scans seg start to end, populating the keydir and the
// stale-byte counter in one pass: the two must never be computed
// separately, or they can drift.
func (e *Engine) replaySegment(seg *segment) error {
	rs := newRecordScanner(seg.file)
	for rs.scan() {
		rec := rs.record
		switch rec.kind {
		case KindSet:
			priorLen, hadPrior := e.kd.upsert(rec.key, location{gen: seg.gen, offset: rec.offset, length: rec.length})
			if hadPrior {
				e.staleBytes += priorLen
			}
		case KindRemove:
			priorLen, hadPrior := e.kd.remove(rec.key)
			if hadPrior {
				e.staleBytes += priorLen
			}
			// The tombstone itself becomes garbage the moment the Set it
			// superseded is gone, so its own bytes count as stale too.
			e.staleBytes += rec.length
		}
	}
	seg.size = rs.end
	return rs.err
}

// logOrphanSegments warns about any directory entry named "<gen>.log" that
// isn't one of the generations Open is about to replay. Because gens comes
// from discoverSegmentGens over the same directory, every matching regular
// file is already among them: segments left behind by a compaction that
// crashed before its cleanup are replayed, not reported, and only
// directories with a segment-like name show up here. It changes nothing
// about the keydir and deletes nothing; it is purely an operator signal.
func (e *Engine) logOrphanSegments(gens []uint64) {
	expected := mapset.NewSet[uint64]()
	for _, g := range gens {
		expected.Add(g)
	}

	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return
	}
	actual := mapset.NewSet[uint64]()
	for _, entry := range entries {
		m := segmentNamePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		var gen uint64
		if _, err := fmt.Sscanf(m[1], "%d", &gen); err == nil {
			actual.Add(gen)
		}
	}

	if orphans := actual.Difference(expected); orphans.Cardinality() != 0 {
		e.log.Warnw("orphaned segment files present", "gens", orphans.ToSlice())
	}
}

// abortOpen releases everything Open managed to set up before failing, so
// a failed Open never leaks file handles or the directory lock.
func (e *Engine) abortOpen() {
	for _, seg := range e.segments {
		_ = seg.close()
	}
	if e.lock != nil {
		_ = e.lock.release()
	}
}

// Set records key=val; the write is fsynced before Set returns only when
// the engine was opened WithFsync(true). If accumulated stale bytes exceed
// the compaction threshold, compaction runs first.
func (e *Engine) Set(key, val string) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	if e.staleBytes > e.compactionThreshold {
		if err := e.compact(); err != nil {
			return fmt.Errorf("compact before set: %w", err)
		}
	}

	active := e.segments[e.activeGen]
	rec := encodeRecord(KindSet, key, val)
	off, length, err := active.append(rec, e.fsync)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}

	priorLen, hadPrior := e.kd.upsert(key, location{gen: e.activeGen, offset: off, length: length})
	if hadPrior {
		e.staleBytes += priorLen
	}

	return nil
}

// Get returns the current value for key, and whether it was found. A
// missing key is a normal result, not an error.
func (e *Engine) Get(key string) (string, bool, error) {
	if e.closed.Load() {
		return "", false, ErrEngineClosed
	}

	loc, ok := e.kd.get(key)
	if !ok {
		return "", false, nil
	}

	seg, ok := e.segments[loc.gen]
	if !ok {
		return "", false, fmt.Errorf("keydir references unknown segment %d for key %q", loc.gen, key)
	}

	buf, err := seg.readAt(loc.offset, loc.length)
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}

	kind, _, val, err := decodeRecordBytes(buf)
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	if kind != KindSet {
		// A live keydir entry must always address a Set record. Anything
		// else means corruption or a bug; it is surfaced, never papered
		// over.
		return "", false, fmt.Errorf("%w: key %q at %s:%d", ErrUnexpectedRecordType, key, seg.path, loc.offset)
	}

	return val, true, nil
}

// Remove deletes key. It fails with ErrKeyNotFound, writing nothing, if
// the key has no live entry.
func (e *Engine) Remove(key string) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	if _, ok := e.kd.get(key); !ok {
		return ErrKeyNotFound
	}

	active := e.segments[e.activeGen]
	rec := encodeRecord(KindRemove, key, "")
	_, length, err := active.append(rec, e.fsync)
	if err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}

	priorLen, _ := e.kd.remove(key)
	e.staleBytes += priorLen + length

	return nil
}

// DiskSize reports the total bytes occupied by segment files on disk,
// including stale ones not yet reclaimed by compaction.
func (e *Engine) DiskSize() (int64, error) {
	if e.closed.Load() {
		return 0, ErrEngineClosed
	}

	var total int64
	for _, seg := range e.segments {
		info, err := seg.file.Stat()
		if err != nil {
			return 0, fmt.Errorf("stat segment %d: %w", seg.gen, err)
		}
		total += info.Size()
	}
	return total, nil
}

// Close releases every file handle the engine holds, including the
// advisory directory lock. A second call returns ErrEngineClosed instead
// of double-closing anything.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrEngineClosed
	}

	var firstErr error
	for _, seg := range e.segments {
		if err := seg.file.Sync(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sync segment %d: %w", seg.gen, err)
		}
		if err := seg.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close segment %d: %w", seg.gen, err)
		}
	}

	if err := e.lock.release(); err != nil && firstErr == nil {
		firstErr = err
	}

	e.log.Infow("engine closed", "dir", e.dir)
	return firstErr
}
