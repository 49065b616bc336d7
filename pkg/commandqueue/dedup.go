package commandqueue

import (
	"context"
	"sync"
	"time"
)

const defaultDedupTTL = 10 * time.Minute

// dedupCache remembers request ids for a bounded time
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
		ttl = defaultDedupTTL
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

func (dc *dedupCache) Stop() {
	if dc.cancel != nil {
		dc.cancel()
	}
}

// Reserve records requestID and reports whether it was not already present.
func (dc *dedupCache) Reserve(requestID string) bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	now := time.Now()
	if seen, exists := dc.entries[requestID]; exists && now.Sub(seen) <= dc.ttl {
		return false
	}
	dc.entries[requestID] = now
	return true
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
			for requestID, seen := range dc.entries {
				if now.Sub(seen) > dc.ttl {
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
