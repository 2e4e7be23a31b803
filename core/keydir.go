package core

// location is the address of a Set record's most recent occurrence:
// which segment holds it, where it starts, and how many bytes it spans.
// Storing length alongside offset lets Get fetch a record in a single
// ReadAt instead of reading the header first to learn the payload size.
type location struct {
	gen    uint64
	offset int64
	length int64
}

// keydir is the in-memory index from key to the location of its latest
// Set record. It is the sole source of truth for what is live: any record
// on disk that no entry here addresses is garbage, destined to be
// reclaimed by the next compaction.
//
// The engine is single-writer, single-reader per process — no operation
// here suspends or needs to guard against concurrent mutation, so keydir
// carries no lock of its own.
type keydir struct {
	entries map[string]location
}

func newKeydir() *keydir {
	return &keydir{entries: make(map[string]location)}
}

func (kd *keydir) get(key string) (location, bool) {
	loc, ok := kd.entries[key]
	return loc, ok
}

// upsert inserts or replaces the entry for key, returning the length of the
// record it replaced, if any. Callers add that length to the stale-byte
// counter right after the call so the two values never drift apart.
func (kd *keydir) upsert(key string, loc location) (priorLength int64, hadPrior bool) {
	prior, ok := kd.entries[key]
	kd.entries[key] = loc
	if ok {
		return prior.length, true
	}
	return 0, false
}

// remove deletes the entry for key, if present, returning the length of the
// record it removed.
func (kd *keydir) remove(key string) (priorLength int64, hadPrior bool) {
	prior, ok := kd.entries[key]
	if !ok {
		return 0, false
	}
	delete(kd.entries, key)
	return prior.length, true
}

// all returns every live key/location pair. Used only by
// compaction; iteration order is unspecified, as it is for any Go map.
func (kd *keydir) all() map[string]location {
	return kd.entries
}

func (kd *keydir) len() int {
	return len(kd.entries)
}
