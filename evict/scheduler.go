// Package evict runs the debounced background trim that keeps the
// persistent tier at or below its configured item bound.
//
// The scheduler is a three-state machine:
//
//   - Idle: nothing pending; Schedule arms the debounce timer.
//   - Scheduled: the timer is armed; further Schedule calls are no-ops,
//     coalescing write bursts into a single pass.
//   - Running: a pass is executing; at most one runs at a time.
//
// A pass reads the persistent count, and when it exceeds the bound,
// deletes the excess oldest entries from both tiers. Per-entry delete
// failures are logged and skipped; the excess is recomputed from scratch
// on the next trigger rather than retried.
package evict

import (
	"context"
	"sync"
	"time"

	"github.com/Keksclan/goNutStash/metrics"
	"github.com/Keksclan/goNutStash/tier"
	"github.com/rs/zerolog"
)

// State is the scheduler's position in the Idle → Scheduled → Running
// cycle.
type State int

const (
	StateIdle State = iota
	StateScheduled
	StateRunning
)

// pollInterval is how often waiters re-check for a running pass to finish.
const pollInterval = 5 * time.Millisecond

// Config holds the scheduler parameters.
type Config struct {
	// MaxItems is the persistent tier's item bound. A pass trims down to
	// exactly this count.
	MaxItems int64

	// Debounce is how long the scheduler waits after Schedule before
	// running a pass, batching near-simultaneous writes.
	Debounce time.Duration

	// Logger receives pass diagnostics. The zero value discards them.
	Logger zerolog.Logger

	// Metrics is optional; nil disables collection.
	Metrics *metrics.Metrics
}

// Scheduler trims the persistent tier (and the corresponding memory tier
// entries) down to the configured bound. All methods are safe for
// concurrent use; the state flags are the only exclusion mechanism, so
// reads and writes of the cache never block on a pass.
type Scheduler struct {
	store tier.Store
	mem   *tier.Memory
	cfg   Config

	mu    sync.Mutex
	state State
	timer *time.Timer
}

// New creates a Scheduler trimming store (and mem) per cfg.
func New(store tier.Store, mem *tier.Memory, cfg Config) *Scheduler {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 10 * time.Millisecond
	}
	return &Scheduler{store: store, mem: mem, cfg: cfg}
}

// State returns the scheduler's current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Schedule requests an eviction pass. If one is already scheduled or
// running this is a no-op, so a burst of writes results in a single
// pass. Schedule never blocks on the pass itself.
func (s *Scheduler) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return
	}
	s.state = StateScheduled
	s.timer = time.AfterFunc(s.cfg.Debounce, s.fire)
}

// fire is the debounce timer callback.
func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.state != StateScheduled {
		// A RunNow stole the activation, or Stop reset us. Abort quietly.
		s.mu.Unlock()
		return
	}
	s.state = StateRunning
	s.timer = nil
	s.mu.Unlock()

	// No cancellation: once running, a pass goes to completion.
	s.pass(context.Background(), s.cfg.MaxItems)
	s.setIdle()
}

// RunNow executes an eviction pass inline. If a pass is already running
// it waits (polling) for the scheduler to leave the Running state rather
// than starting a concurrent pass; a pending debounce trigger is absorbed
// into this one. Intended for operator-triggered cleanup and tests.
func (s *Scheduler) RunNow(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	s.pass(ctx, s.cfg.MaxItems)
	s.setIdle()
	return nil
}

// TrimTo synchronously trims the persistent tier down to target items.
// Used by the synchronous eviction mode, which trims below the bound
// before a write proceeds.
func (s *Scheduler) TrimTo(ctx context.Context, target int64) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	s.pass(ctx, target)
	s.setIdle()
	return nil
}

// Stop cancels a pending trigger and waits for an in-flight pass to
// finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == StateScheduled {
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.state = StateIdle
	}
	s.mu.Unlock()

	for s.State() == StateRunning {
		time.Sleep(pollInterval)
	}
}

// acquire transitions the scheduler to Running, waiting out any in-flight
// pass and cancelling a pending debounce trigger.
func (s *Scheduler) acquire(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.state != StateRunning {
			if s.timer != nil {
				s.timer.Stop()
				s.timer = nil
			}
			s.state = StateRunning
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (s *Scheduler) setIdle() {
	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
}

// pass trims the persistent tier down to target items, removing the
// evicted keys from the memory tier as well. Failures are logged and
// skipped; the pass always completes.
func (s *Scheduler) pass(ctx context.Context, target int64) {
	start := time.Now()
	defer func() { s.cfg.Metrics.Pass(time.Since(start)) }()

	count, err := s.store.Count(ctx)
	if err != nil {
		s.cfg.Metrics.StoreError()
		s.cfg.Logger.Warn().Err(err).Msg("eviction: count failed, skipping pass")
		return
	}
	if count <= target {
		return
	}

	excess := count - target
	stamps, err := s.store.OldestFirst(ctx, excess)
	if err != nil {
		s.cfg.Metrics.StoreError()
		s.cfg.Logger.Warn().Err(err).Msg("eviction: scan failed, skipping pass")
		return
	}

	evicted := 0
	for _, ks := range stamps {
		if err := s.store.Delete(ctx, ks.Key); err != nil {
			// Best effort: skip and let the next pass recompute the excess.
			s.cfg.Metrics.StoreError()
			s.cfg.Logger.Warn().Err(err).Str("key", ks.Key).Msg("eviction: delete failed, skipping")
			continue
		}
		s.mem.Remove(ks.Key)
		evicted++
	}

	s.cfg.Metrics.Evicted(evicted)
	s.cfg.Logger.Debug().
		Int64("count", count).
		Int64("target", target).
		Int("evicted", evicted).
		Msg("eviction pass complete")
}
