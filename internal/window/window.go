package window

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type entry[V any] struct {
	value   V
	expires time.Time
}

// Window maps keys to values that stay live until their window elapses.
// Expired entries behave as absent even before Evict removes them.
type Window[V any] struct {
	mu       sync.Mutex
	entries  map[string]entry[V]
	interval time.Duration
	name     string
}

// New creates a Window. interval is the typical window length and sets the
// eviction cadence of Run. name is only used in log output.
func New[V any](name string, interval time.Duration) *Window[V] {
	return &Window[V]{
		entries:  make(map[string]entry[V]),
		interval: interval,
		name:     name,
	}
}

// Claim records v under key for ttl starting at now, unless key already holds
// a live entry. It returns the live value and false in that case, or v and
// true when the claim succeeded. A non-positive ttl succeeds without
// recording anything.
func (w *Window[V]) Claim(key string, v V, now time.Time, ttl time.Duration) (V, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.entries[key]; ok && now.Before(e.expires) {
		return e.value, false
	}
	if ttl <= 0 {
		return v, true
	}
	w.entries[key] = entry[V]{value: v, expires: now.Add(ttl)}
	return v, true
}

// Get returns the live value for key.
func (w *Window[V]) Get(key string, now time.Time) (V, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entries[key]
	if !ok || !now.Before(e.expires) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Update replaces the value for key without touching its expiry.
// It reports false if key holds no entry.
func (w *Window[V]) Update(key string, v V) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entries[key]
	if !ok {
		return false
	}
	e.value = v
	w.entries[key] = e
	return true
}

// Forget drops key so the next Claim succeeds.
func (w *Window[V]) Forget(key string) {
	w.mu.Lock()
	delete(w.entries, key)
	w.mu.Unlock()
}

// Len returns the number of entries held, including expired ones not yet evicted.
func (w *Window[V]) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Evict removes entries whose window has elapsed at now and returns how many
// were removed.
func (w *Window[V]) Evict(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	removed := 0
	for k, e := range w.entries {
		if !now.Before(e.expires) {
			delete(w.entries, k)
			removed++
		}
	}
	return removed
}

// Run evicts expired entries until ctx is cancelled.
func (w *Window[V]) Run(ctx context.Context) {
	interval := w.interval / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := w.Evict(now); n > 0 {
				slog.Debug("window: evicted expired entries", "window", w.name, "count", n)
			}
		}
	}
}
