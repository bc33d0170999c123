package gonutstash

import (
	"time"

	"github.com/Keksclan/goNutStash/metrics"
	"github.com/rs/zerolog"
)

// EvictionMode selects how the persistent tier bound is enforced.
type EvictionMode int

const (
	// EvictAsync trims down to exactly MaxItems in a debounced background
	// pass after each write. Writes never wait for eviction; the bound is
	// eventual. This is the default.
	EvictAsync EvictionMode = iota

	// EvictSyncBeforeWrite trims down to 80% of MaxItems before a write
	// proceeds whenever the store is at or over the bound. Writes pay for
	// eviction but the bound is never exceeded for long.
	EvictSyncBeforeWrite
)

// config holds the internal configuration assembled via functional options.
type config struct {
	maxItems       int64
	memoryMaxItems int
	debounce       time.Duration
	mode           EvictionMode
	logger         zerolog.Logger
	metrics        *metrics.Metrics
	clock          func() time.Time
}
