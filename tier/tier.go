// Package tier implements the two storage tiers of the render cache: a
// bounded in-process memory tier with strict LRU eviction, and the
// persistent tier abstraction with Redis and SQLite implementations.
package tier

import "context"

// Entry is a single cached render result. Entries are immutable once
// written except for LastAccessAt, which is refreshed on every read or
// write of the key.
type Entry struct {
	// Key is "<sha256 hex>_<entryType>", globally unique per input.
	Key string

	// Value is the opaque rendered payload. The cache never inspects it.
	Value []byte

	// EntryType labels the kind of render (e.g. "mermaid_svg"), used for
	// stats grouping only.
	EntryType string

	// SizeBytes is an estimate of the serialized payload size, used for
	// reporting only, never for eviction decisions.
	SizeBytes int64

	// CreatedAt is set once, at the first insertion of this key
	// (Unix milliseconds). A replace does not reset it.
	CreatedAt int64

	// LastAccessAt is the last read or write of this key (Unix
	// milliseconds).
	LastAccessAt int64
}

// KeyStamp pairs a key with its last-access time, used by eviction scans
// so candidates can be selected without loading values.
type KeyStamp struct {
	Key          string
	LastAccessAt int64
}

// EntryInfo is the value-free entry metadata reported by stats.
type EntryInfo struct {
	Key          string `json:"key"`
	EntryType    string `json:"entry_type"`
	SizeBytes    int64  `json:"size_bytes"`
	LastAccessAt int64  `json:"last_access_at"`
}

// Store is the persistent tier. Implementations share the memory tier's
// key space but survive process restarts and hold materially more
// entries. All methods are safe for concurrent use.
type Store interface {
	// Get retrieves an entry by key. The boolean indicates a hit; a miss
	// is not an error.
	Get(ctx context.Context, key string) (*Entry, bool, error)

	// Put upserts an entry atomically: either the whole entry is written
	// or none of it. Replacing an existing key preserves its CreatedAt.
	Put(ctx context.Context, e *Entry) error

	// Delete removes an entry. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int64, error)

	// SizeEstimate returns the sum of entry size estimates in bytes.
	SizeEstimate(ctx context.Context) (int64, error)

	// OldestFirst returns up to n keys ordered by ascending last-access
	// time, ties broken by key so the order is deterministic per scan.
	// Values are not loaded.
	OldestFirst(ctx context.Context, n int64) ([]KeyStamp, error)

	// Recent returns metadata for up to n entries ordered by descending
	// last-access time.
	Recent(ctx context.Context, n int64) ([]EntryInfo, error)

	// Touch refreshes the last-access time of key without rewriting the
	// value. Touching an absent key is not an error.
	Touch(ctx context.Context, key string, at int64) error

	// Close releases the underlying storage handle.
	Close() error
}
