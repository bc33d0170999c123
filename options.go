package gonutstash

import (
	"time"

	"github.com/Keksclan/goNutStash/metrics"
	"github.com/rs/zerolog"
)

// Option configures a Manager.
type Option func(*config)

// WithMaxItems sets the persistent tier's item bound. The bound is
// eventual: a burst of writes may exceed it briefly until the next
// eviction pass completes. Values < 1 fall back to [DefaultMaxItems].
func WithMaxItems(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.maxItems = n
		}
	}
}

// WithMemoryMaxItems sets the memory tier's item bound, which is enforced
// synchronously on every insert. Values < 1 fall back to
// [DefaultMemoryMaxItems].
func WithMemoryMaxItems(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.memoryMaxItems = n
		}
	}
}

// WithEvictionDebounce sets how long the eviction scheduler waits after a
// write before running a pass, batching near-simultaneous writes.
func WithEvictionDebounce(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// WithEvictionMode selects between the default asynchronous trim
// ([EvictAsync]) and the synchronous trim-before-write policy
// ([EvictSyncBeforeWrite]).
func WithEvictionMode(m EvictionMode) Option {
	return func(c *config) {
		c.mode = m
	}
}

// WithLogger sets the logger used for degraded-mode notices, eviction
// diagnostics, and background write failures. The default discards
// everything.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.clock = now
		}
	}
}
