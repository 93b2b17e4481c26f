package commandqueue

import (
	"context"
	"sync"
	"time"
)

// dedupCache remembers request ids for a bounded time so redelivered
// requests are dropped instead of executed twice.
type dedupCache struct {
	entries map[string]time.Time
	ttl     time.Duration
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// newDedupCache creates a new deduplication cache
func newDedupCache(ctx context.Context, ttl time.Duration) *dedupCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(ctx)
	cache := &dedupCache{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go cache.cleanup(ctx)

	return cache
}

// Stop ends the cleanup goroutine
func (dc *dedupCache) Stop() {
	dc.cancel()
}

// Seen records requestID and reports whether it was already recorded within the TTL
func (dc *dedupCache) Seen(requestID string) bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	now := time.Now()
	if at, ok := dc.entries[requestID]; ok && now.Sub(at) <= dc.ttl {
		return true
	}
	dc.entries[requestID] = now
	return false
}

// cleanup periodically removes expired entries
func (dc *dedupCache) cleanup(ctx context.Context) {
	defer close(dc.done)

	interval := dc.ttl
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dc.mu.Lock()
			now := time.Now()
			for requestID, at := range dc.entries {
				if now.Sub(at) > dc.ttl {
					delete(dc.entries, requestID)
				}
			}
			dc.mu.Unlock()
		}
	}
}

// Size returns the number of entries in the cache
func (dc *dedupCache) Size() int {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return len(dc.entries)
}
