package gonutstash

import "time"

// Default capacity and batching parameters, applied by [New] when the
// corresponding option is not supplied.
const (
	DefaultMaxItems         = 1000
	DefaultMemoryMaxItems   = 100
	DefaultEvictionDebounce = 10 * time.Millisecond
)
