package core

import (
	"fmt"
	"testing"
)

func Benchmark_Set(b *testing.B) {
	dir := b.TempDir()
	e, err := Open(dir)
	if err != nil {
		b.Fatalf("Open: %v", err)
	}
	defer e.Close() // nolint:errcheck

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("k%04d", i%10000)
		if err := e.Set(key, "value"); err != nil {
			b.Fatalf("Set: %v", err)
		}
	}
}

func Benchmark_Get(b *testing.B) {
	dir := b.TempDir()
	e, err := Open(dir)
	if err != nil {
		b.Fatalf("Open: %v", err)
	}
	defer e.Close() // nolint:errcheck

	for i := 0; i < 10000; i++ {
		key := fmt.Sprintf("k%04d", i)
		if err := e.Set(key, "v"); err != nil {
			b.Fatalf("Set: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := e.Get("k0050"); err != nil {
			b.Fatalf("Get: %v", err)
		}
	}
}

func Benchmark_Fsync_Set(b *testing.B) {
	dir := b.TempDir()
	e, err := Open(dir, WithFsync(true))
	if err != nil {
		b.Fatalf("Open: %v", err)
	}
	defer e.Close() // nolint:errcheck

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("k%04d", i%10000)
		if err := e.Set(key, "value"); err != nil {
			b.Fatalf("Set: %v", err)
		}
	}
}
