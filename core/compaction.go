package core

import "fmt"

// compact reclaims space by rewriting every live value into a fresh
// segment and deleting every other segment, including the current active
// one — it becomes obsolete the moment compaction starts even if it was
// never full. Order matters: every keydir entry is repointed at the new
// segment before any old segment is deleted, so a Get can never
// dereference a file that's already gone. Because the engine is
// single-threaded, no locking is needed to make this safe.
func (e *Engine) compact() error {
	oldGen := e.activeGen
	newGen := e.highestGen() + 1

	newSeg, err := openActiveSegment(e.dir, newGen)
	if err != nil {
		return fmt.Errorf("open compaction segment %d: %w", newGen, err)
	}

	for key, loc := range e.kd.all() {
		seg, ok := e.segments[loc.gen]
		if !ok {
			_ = newSeg.close()
			_ = deleteSegment(e.dir, newGen)
			return fmt.Errorf("compact: keydir references unknown segment %d for key %q", loc.gen, key)
		}

		buf, err := seg.readAt(loc.offset, loc.length)
		if err != nil {
			_ = newSeg.close()
			_ = deleteSegment(e.dir, newGen)
			return fmt.Errorf("compact: read %q from segment %d: %w", key, loc.gen, err)
		}

		kind, _, val, err := decodeRecordBytes(buf)
		if err != nil {
			_ = newSeg.close()
			_ = deleteSegment(e.dir, newGen)
			return fmt.Errorf("compact: decode %q from segment %d: %w", key, loc.gen, err)
		}
		if kind != KindSet {
			_ = newSeg.close()
			_ = deleteSegment(e.dir, newGen)
			return fmt.Errorf("%w: compact: key %q at segment %d offset %d", ErrUnexpectedRecordType, key, loc.gen, loc.offset)
		}

		off, length, err := newSeg.append(encodeRecord(KindSet, key, val), e.fsync)
		if err != nil {
			_ = newSeg.close()
			_ = deleteSegment(e.dir, newGen)
			return fmt.Errorf("compact: rewrite %q to segment %d: %w", key, newGen, err)
		}

		// Overwrite in place. No staleBytes accounting here: the record
		// being replaced isn't live garbage from this compaction's point
		// of view, it's the same logical value getting a new address.
		e.kd.entries[key] = location{gen: newGen, offset: off, length: length}
	}

	if err := newSeg.file.Sync(); err != nil {
		return fmt.Errorf("sync compaction segment %d: %w", newGen, err)
	}

	oldSegments := e.segments
	e.segments = map[uint64]*segment{newGen: newSeg}
	e.activeGen = newGen
	e.staleBytes = 0

	for gen, seg := range oldSegments {
		if err := seg.close(); err != nil {
			e.log.Warnw("close obsolete segment after compaction", "gen", gen, "error", err)
		}
		if err := deleteSegment(e.dir, gen); err != nil {
			e.log.Warnw("delete obsolete segment after compaction", "gen", gen, "error", err)
		}
	}

	e.log.Infow("compaction complete", "oldActiveGen", oldGen, "newActiveGen", newGen, "liveKeys", e.kd.len())
	return nil
}

func (e *Engine) highestGen() uint64 {
	var max uint64
	for gen := range e.segments {
		if gen > max {
			max = gen
		}
	}
	return max
}
