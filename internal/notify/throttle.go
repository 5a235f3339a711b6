// Package notify decides whether qualifying errors and anomalies should
// trigger outbound alerts, and builds transport-agnostic payloads for the
// formatters that send them.
package notify

import (
	"sync"
	"time"

	"github.com/setevik/errtrack/internal/config"
	"github.com/setevik/errtrack/internal/group"
	"github.com/setevik/errtrack/internal/metrics"
)

// CooldownStore is the key-value abstraction backing throttle state. The
// throttler only needs "is this key present and unexpired"; losing the
// state risks one duplicate alert, never a missed one.
type CooldownStore interface {
	// Get reports whether key exists and has not expired.
	Get(key string) bool
	// Set stores key with the given time-to-live.
	Set(key string, ttl time.Duration)
	// Clear drops all state.
	Clear()
}

// MemoryStore is the in-process CooldownStore.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]time.Time)}
}

func (m *MemoryStore) Get(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, ok := m.entries[key]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(m.entries, key)
		return false
	}
	return true
}

func (m *MemoryStore) Set(key string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = time.Now().Add(ttl)
}

func (m *MemoryStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]time.Time)
}

// Throttler gates outbound alerts on severity floor, per-key cooldown, and
// one-shot occurrence milestones.
type Throttler struct {
	cfg   config.NotifyConfig
	store CooldownStore

	mu         sync.Mutex
	milestones map[string]map[int64]bool // group id -> fired milestones
}

// NewThrottler creates a Throttler over the given cooldown store. A nil
// store gets an in-memory one.
func NewThrottler(cfg config.NotifyConfig, store CooldownStore) *Throttler {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Throttler{
		cfg:        cfg,
		store:      store,
		milestones: make(map[string]map[int64]bool),
	}
}

// SeverityMeetsMinimum reports whether a severity clears the configured
// floor. Errors below the floor never notify regardless of other factors.
func (t *Throttler) SeverityMeetsMinimum(sev group.Severity) bool {
	min := group.Severity(t.cfg.MinSeverity)
	if !min.Valid() {
		return true
	}
	return sev.Rank() >= min.Rank()
}

// ShouldNotify decides whether an alert for the given key (fingerprint or
// error type) fires right now, and atomically opens the cooldown window
// when it does. Concurrent callers for the same key cannot both pass.
func (t *Throttler) ShouldNotify(key string, sev group.Severity) bool {
	if !t.SeverityMeetsMinimum(sev) {
		metrics.Throttled.Inc()
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.store.Get(key) {
		metrics.Throttled.Inc()
		return false
	}
	t.store.Set(key, t.cooldown())
	return true
}

// MilestoneCrossed reports the milestone value the occurrence count just
// crossed, firing each configured milestone at most once per group
// lifetime. Returns 0 when no new milestone was crossed.
func (t *Throttler) MilestoneCrossed(groupID string, count int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	fired := t.milestones[groupID]
	var crossed int64
	for _, m := range t.cfg.Milestones {
		if count >= m && !fired[m] && m > crossed {
			crossed = m
		}
	}
	if crossed == 0 {
		return 0
	}

	if fired == nil {
		fired = make(map[int64]bool)
		t.milestones[groupID] = fired
	}
	// Crossing a late milestone also consumes the earlier ones.
	for _, m := range t.cfg.Milestones {
		if count >= m {
			fired[m] = true
		}
	}
	return crossed
}

// Clear resets all throttle state. Safe to call at any time.
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.store.Clear()
	t.milestones = make(map[string]map[int64]bool)
}

func (t *Throttler) cooldown() time.Duration {
	if t.cfg.Cooldown.Duration > 0 {
		return t.cfg.Cooldown.Duration
	}
	return 30 * time.Minute
}
