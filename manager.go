// Package gonutstash is a tiered content-addressable cache for expensive,
// deterministic render results (diagram and image conversions keyed by
// source content). A bounded in-process LRU tier serves hot entries; a
// larger durable tier (Redis or embedded SQLite, see package tier)
// survives restarts; a debounced background scheduler (package evict)
// keeps the durable tier at its configured bound without adding latency
// to writes.
package gonutstash

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Keksclan/goNutStash/evict"
	"github.com/Keksclan/goNutStash/metrics"
	"github.com/Keksclan/goNutStash/tier"
	"github.com/rs/zerolog"
)

// touchTimeout bounds the fire-and-forget access-time refresh writes.
const touchTimeout = 5 * time.Second

// Manager orchestrates the two tiers: read-through (memory miss →
// persistent lookup → memory populate), write-through (both tiers), and
// ownership of the persistent tier's item bound via the eviction
// scheduler. Construct one Manager per backing store and pass it by
// reference to collaborators; tiers must not be mutated from outside.
type Manager struct {
	cfg   config
	mem   *tier.Memory
	store tier.Store
	sched *evict.Scheduler

	degradedOnce sync.Once

	// mu guards closed, which gates new background access-time writes so
	// touches.Add can never race touches.Wait in Close.
	mu      sync.Mutex
	closed  bool
	touches sync.WaitGroup
}

// New creates a Manager over the given persistent store. A nil store puts
// the Manager in degraded mode: reads always miss and writes are silent
// no-ops (logged once), so callers that use the cache purely as an
// optimization keep working when the backing store failed to initialize.
func New(store tier.Store, opts ...Option) *Manager {
	cfg := config{
		maxItems:       DefaultMaxItems,
		memoryMaxItems: DefaultMemoryMaxItems,
		debounce:       DefaultEvictionDebounce,
		logger:         zerolog.Nop(),
		clock:          time.Now,
	}
	for _, o := range opts {
		o(&cfg)
	}

	m := &Manager{
		cfg:   cfg,
		mem:   tier.NewMemory(cfg.memoryMaxItems),
		store: store,
	}
	if store != nil {
		m.sched = evict.New(store, m.mem, evict.Config{
			MaxItems: cfg.maxItems,
			Debounce: cfg.debounce,
			Logger:   cfg.logger,
			Metrics:  cfg.metrics,
		})
	}
	return m
}

// Get retrieves the cached value for key. The boolean reports a hit; a
// miss is a normal result, not an error. A memory tier hit returns
// immediately and refreshes the persistent access time in the background,
// so tier recency converges eventually without blocking the caller. On a
// memory miss the persistent tier is consulted and a hit is promoted into
// the memory tier.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if m.store == nil {
		return nil, false, nil
	}

	if v, ok := m.mem.Get(key); ok {
		m.cfg.metrics.Hit(metrics.TierMemory)
		m.touchAsync(key)
		return v, true, nil
	}

	e, ok, err := m.store.Get(ctx, key)
	if err != nil {
		m.cfg.metrics.StoreError()
		return nil, false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !ok {
		m.cfg.metrics.Miss()
		return nil, false, nil
	}

	m.cfg.metrics.Hit(metrics.TierPersistent)
	m.mem.Put(key, e.Value, infoOf(e))
	m.touchAsync(key)
	return e.Value, true, nil
}

// Set stores value under key. The memory tier is written first so the
// very next Get for the same key hits memory even before the durable
// write lands. If the durable write fails, the memory entry is
// rolled back and [ErrTransactionFailed] is returned. On success the
// eviction scheduler is triggered without blocking; Set returns once the
// durable write succeeds, never after a full eviction pass.
func (m *Manager) Set(ctx context.Context, key string, value []byte, entryType string) error {
	if m.store == nil {
		m.degradedOnce.Do(func() {
			m.cfg.logger.Warn().Msg("persistent tier unavailable, cache running degraded (writes dropped)")
		})
		return nil
	}

	if m.cfg.mode == EvictSyncBeforeWrite {
		m.trimBeforeWrite(ctx)
	}

	now := m.cfg.clock().UnixMilli()
	e := &tier.Entry{
		Key:          key,
		Value:        value,
		EntryType:    entryType,
		SizeBytes:    int64(len(value)),
		CreatedAt:    now,
		LastAccessAt: now,
	}

	m.mem.Put(key, value, infoOf(e))
	if err := m.store.Put(ctx, e); err != nil {
		m.mem.Remove(key)
		m.cfg.metrics.SetFailure()
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	m.cfg.metrics.Set()

	if m.cfg.mode == EvictAsync {
		m.sched.Schedule()
	}
	return nil
}

// Delete removes key from both tiers. Absence in either tier is not an
// error.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if m.store == nil {
		return nil
	}
	m.mem.Remove(key)
	if err := m.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	return nil
}

// Clear empties both tiers.
func (m *Manager) Clear(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	m.mem.Clear()
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	return nil
}

// Stats reports both tiers, including up to limit of the persistent
// tier's most recently accessed entries.
func (m *Manager) Stats(ctx context.Context, limit int) (Stats, error) {
	s := Stats{
		Memory:     m.mem.Stats(),
		Persistent: PersistentStats{MaxItems: m.cfg.maxItems},
	}
	if m.store == nil {
		return s, nil
	}

	count, err := m.store.Count(ctx)
	if err != nil {
		return s, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	size, err := m.store.SizeEstimate(ctx)
	if err != nil {
		return s, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	recent, err := m.store.Recent(ctx, int64(limit))
	if err != nil {
		return s, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s.Persistent.ItemCount = count
	s.Persistent.SizeEstimate = size
	s.Persistent.Recent = recent
	return s, nil
}

// TrimNow runs an eviction pass inline, waiting out any pass already in
// flight. Intended for operator-triggered cleanup.
func (m *Manager) TrimNow(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	return m.sched.RunNow(ctx)
}

// Close stops the eviction scheduler, drains in-flight background
// access-time writes, and closes the store. Close is idempotent; reads
// that overlap Close complete, they just skip the background access-time
// refresh.
func (m *Manager) Close() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.sched.Stop()
	m.touches.Wait()
	return m.store.Close()
}

// trimBeforeWrite enforces the synchronous eviction policy: when the
// store is at or over its bound, trim down to 80% of it before the write
// proceeds. Trim failures only delay eviction, so they are logged rather
// than failing the write.
func (m *Manager) trimBeforeWrite(ctx context.Context) {
	count, err := m.store.Count(ctx)
	if err != nil {
		m.cfg.metrics.StoreError()
		m.cfg.logger.Warn().Err(err).Msg("pre-write trim: count failed")
		return
	}
	if count < m.cfg.maxItems {
		return
	}
	if err := m.sched.TrimTo(ctx, m.cfg.maxItems*4/5); err != nil {
		m.cfg.logger.Warn().Err(err).Msg("pre-write trim interrupted")
	}
}

// touchAsync refreshes the persistent access time for key without making
// the caller wait. The write races with concurrent eviction scans by
// design: a just-touched key may still be evicted by a pass that scanned
// before the refresh landed (accepted eventual-consistency gap).
func (m *Manager) touchAsync(key string) {
	at := m.cfg.clock().UnixMilli()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.touches.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.touches.Done()
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := m.store.Touch(ctx, key, at); err != nil {
			m.cfg.logger.Debug().Err(err).Str("key", key).Msg("access-time refresh failed")
		}
	}()
}

func infoOf(e *tier.Entry) tier.EntryInfo {
	return tier.EntryInfo{
		Key:          e.Key,
		EntryType:    e.EntryType,
		SizeBytes:    e.SizeBytes,
		LastAccessAt: e.LastAccessAt,
	}
}
