package tier

import (
	"bytes"
	"sync"
)

// Memory is the bounded in-process tier with strict LRU eviction. Recency
// is tracked in an explicit doubly-linked list (head = most recently
// used), so the oldest entry is always O(1) to find and remove; map
// iteration order is never relied on. All methods are safe for
// concurrent use.
type Memory struct {
	mu       sync.Mutex
	maxItems int
	items    map[string]*memEntry
	head     *memEntry
	tail     *memEntry
}

type memEntry struct {
	key   string
	value []byte
	meta  EntryInfo
	prev  *memEntry
	next  *memEntry
}

// MemoryStats is the reporting snapshot of the memory tier.
type MemoryStats struct {
	ItemCount int         `json:"item_count"`
	SizeBytes int64       `json:"size_bytes"`
	Entries   []EntryInfo `json:"entries,omitempty"`
}

// NewMemory creates a memory tier holding at most maxItems entries.
// Values of maxItems < 1 are treated as 1.
func NewMemory(maxItems int) *Memory {
	if maxItems < 1 {
		maxItems = 1
	}
	return &Memory{
		maxItems: maxItems,
		items:    make(map[string]*memEntry),
	}
}

// Get retrieves a value by key, promoting the entry to most recently
// used on a hit.
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok {
		return nil, false
	}
	m.moveToFront(e)
	return bytes.Clone(e.value), true
}

// Put inserts or replaces the entry for key. When the insert pushes the
// tier over its bound, least-recently-used entries are evicted until the
// bound holds again (normally exactly one).
func (m *Memory) Put(key string, value []byte, meta EntryInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.items[key]; ok {
		e.value = bytes.Clone(value)
		e.meta = meta
		m.moveToFront(e)
		return
	}

	e := &memEntry{key: key, value: bytes.Clone(value), meta: meta}
	m.pushFront(e)
	m.items[key] = e

	for len(m.items) > m.maxItems {
		m.evictOldest()
	}
}

// Remove deletes the entry for key if present.
func (m *Memory) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok {
		return
	}
	m.unlink(e)
	delete(m.items, key)
}

// Clear empties the tier and its recency order.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]*memEntry)
	m.head = nil
	m.tail = nil
}

// Len returns the current number of entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Stats returns a reporting snapshot. Entries are listed from most to
// least recently used.
func (m *Memory) Stats() MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := MemoryStats{ItemCount: len(m.items)}
	for e := m.head; e != nil; e = e.next {
		s.SizeBytes += e.meta.SizeBytes
		s.Entries = append(s.Entries, e.meta)
	}
	return s
}

// --- recency list maintenance (callers hold m.mu) ---------------------------

func (m *Memory) moveToFront(e *memEntry) {
	if e == m.head {
		return
	}
	m.unlink(e)
	m.pushFront(e)
}

func (m *Memory) pushFront(e *memEntry) {
	e.next = m.head
	e.prev = nil
	if m.head != nil {
		m.head.prev = e
	}
	m.head = e
	if m.tail == nil {
		m.tail = e
	}
}

func (m *Memory) unlink(e *memEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		m.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		m.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (m *Memory) evictOldest() {
	if m.tail == nil {
		return
	}
	e := m.tail
	m.unlink(e)
	delete(m.items, e.key)
}
