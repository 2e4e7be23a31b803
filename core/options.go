package core

import "go.uber.org/zap"

// defaultCompactionThreshold is the stale-byte count that triggers
// compaction. 64 KiB is a reasonable default for small stores; nothing
// about the format depends on this value, so it's exposed as an option
// rather than baked in as a true compile-time constant.
const defaultCompactionThreshold = 64 * 1024

// Option configures an Engine at Open time.
type Option func(*Engine)

// WithFsync controls whether every Set/Remove blocks on an fsync of the
// active segment before returning. Off by default: writes are buffered by
// the OS, and a crash may lose the tail of recently written records. The
// contract is "no torn interior" (see record.go's scan), never stronger
// durability than the last flush.
func WithFsync(enabled bool) Option {
	return func(e *Engine) { e.fsync = enabled }
}

// WithCompactionThreshold overrides the stale-byte count that triggers
// compaction on the next Set.
func WithCompactionThreshold(n int64) Option {
	return func(e *Engine) { e.compactionThreshold = n }
}

// WithLogger injects a structured logger. Without one, the engine logs
// nothing; library consumers are never forced to configure logging.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(e *Engine) { e.log = log }
}

func noopLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
