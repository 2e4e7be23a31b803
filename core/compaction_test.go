package core

import (
	"fmt"
	"strings"
	"testing"
)

// TestCompactionInvariance writes many distinct keys with a large value,
// then overwrites every one of them, and checks that compaction triggers
// and every Get still returns the overwritten value — both before and
// after a restart.
func TestCompactionInvariance(t *testing.T) {
	dir := t.TempDir()
	largeValue := strings.Repeat("x", 256)

	e, err := Open(dir, WithCompactionThreshold(32*1024))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	const n = 1000
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("k_%d", i)
		if err := e.Set(key, largeValue); err != nil {
			t.Fatalf("Set(%s) pass 1: %v", key, err)
		}
	}

	overwritten := make(map[string]string, n)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("k_%d", i)
		val := fmt.Sprintf("overwritten-%d-%s", i, largeValue)
		overwritten[key] = val
		if err := e.Set(key, val); err != nil {
			t.Fatalf("Set(%s) pass 2: %v", key, err)
		}
	}

	for key, want := range overwritten {
		got, ok, err := e.Get(key)
		if err != nil || !ok || got != want {
			t.Fatalf("Get(%s) = (%q, %v, %v), want (%q, true, nil)", key, got, ok, err, want)
		}
	}

	if e.activeGen == 1 {
		t.Fatalf("activeGen = 1 after overwriting %d keys, want compaction to have run", n)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2, err := Open(dir, WithCompactionThreshold(32*1024))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close() // nolint:errcheck

	for key, want := range overwritten {
		got, ok, err := e2.Get(key)
		if err != nil || !ok || got != want {
			t.Fatalf("after reopen: Get(%s) = (%q, %v, %v), want (%q, true, nil)", key, got, ok, err, want)
		}
	}
}

// TestCompactionReclaimsSpace checks that after compaction, disk usage is
// within a small constant factor of the live data, i.e. no garbage from
// prior segments remains.
func TestCompactionReclaimsSpace(t *testing.T) {
	e := newTestEngine(t, WithCompactionThreshold(8*1024))

	value := strings.Repeat("v", 128)
	const n = 200
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("k_%d", i)
		// Overwrite each key several times so plenty of garbage accumulates.
		for j := 0; j < 5; j++ {
			if err := e.Set(key, value); err != nil {
				t.Fatalf("Set(%s): %v", key, err)
			}
		}
	}

	if err := e.compact(); err != nil {
		t.Fatalf("compact: %v", err)
	}

	size, err := e.DiskSize()
	if err != nil {
		t.Fatalf("DiskSize: %v", err)
	}

	sample := encodeRecord(KindSet, "k_0", value)
	liveBytes := int64(n) * int64(len(sample))
	// Generous slack: key lengths vary slightly (k_0 vs k_199), so records
	// are not all the size of the sample, but there must be nothing
	// resembling 5x duplication left over.
	if size > liveBytes*2 {
		t.Fatalf("DiskSize = %d after compaction, want at most ~%d (2x live data)", size, liveBytes*2)
	}

	if got := len(e.segments); got != 1 {
		t.Fatalf("segments after compaction = %d, want 1", got)
	}
}

// TestCompactionRunsOnThreshold checks that Set triggers compaction once
// the stale-byte counter crosses the configured threshold, without the
// caller calling compact() directly.
func TestCompactionRunsOnThreshold(t *testing.T) {
	e := newTestEngine(t, WithCompactionThreshold(1024))

	value := strings.Repeat("y", 64)
	for i := 0; i < 100; i++ {
		if err := e.Set("only-key", value); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	// 100 overwrites of one key, each 98 bytes of garbage, against a
	// 1024-byte threshold: compaction must have fired more than once, so
	// segments never pile up without bound. Each compaction moves the
	// active generation up by one from the initial 1.
	if e.activeGen < 3 {
		t.Fatalf("activeGen = %d after 100 overwrites, want compaction to have run more than once", e.activeGen)
	}
	if got := len(e.segments); got > 2 {
		t.Fatalf("segments = %d after repeated overwrites past the compaction threshold, want at most 2", got)
	}

	val, ok, err := e.Get("only-key")
	if err != nil || !ok || val != value {
		t.Fatalf("Get(only-key) = (%q, %v, %v), want (%q, true, nil)", val, ok, err, value)
	}
}
