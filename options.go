package slotpool

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	logger     *zap.Logger
	offHeap    bool
	cacheLimit int
	slotCheck  bool
}

// Option configures a Pool.
type Option func(*options)

// WithLogger sets the logger used for diagnostics. Overflow warnings are
// sampled to at most one line per second.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithOffHeap backs the arena with anonymous mmap'd memory instead of the Go
// heap. The element type must be pointer-free.
func WithOffHeap() Option {
	return func(o *options) {
		o.offHeap = true
	}
}

// WithCacheLimit caps the number of slots a Cache keeps. When a Deallocate
// pushes a cache past n, the older half is handed back to the shared free
// list. Zero (the default) leaves caches unbounded.
func WithCacheLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.cacheLimit = n
		}
	}
}

// WithSlotCheck makes Deallocate panic on a pointer that lies inside the
// arena but not on a slot boundary. Off by default.
func WithSlotCheck() Option {
	return func(o *options) {
		o.slotCheck = true
	}
}

func defaultOptions() options {
	return options{logger: zap.NewNop()}
}

// sampled keeps the first entry of each message per second and drops the rest.
func sampled(l *zap.Logger) *zap.Logger {
	return l.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewSamplerWithOptions(c, time.Second, 1, 0)
	}))
}
