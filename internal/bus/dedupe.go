package bus

import (
	"sync"
	"time"
)

// DedupeCache remembers event ids for a TTL window so an event that crosses
// the context boundary more than once, or comes back to the side that
// published it, is delivered at most once.
type DedupeCache struct {
	mu      sync.Mutex
	entries map[string]int64 // id → unix millis
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// NewDedupeCache creates a cache. maxSize <= 0 means unbounded.
func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	return &DedupeCache{
		entries: make(map[string]int64, 64),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Mark records id as seen.
func (d *DedupeCache) Mark(id string) {
	if id == "" {
		return
	}
	now := d.now().UnixMilli()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleanup(now - d.ttl.Milliseconds())
	d.entries[id] = now
}

// IsDuplicate reports whether id was seen within the TTL, recording it if not.
// Empty ids are never duplicates.
func (d *DedupeCache) IsDuplicate(id string) bool {
	if id == "" {
		return false
	}
	now := d.now().UnixMilli()
	cutoff := now - d.ttl.Milliseconds()

	d.mu.Lock()
	defer d.mu.Unlock()

	if ts, ok := d.entries[id]; ok && ts >= cutoff {
		return true
	}
	d.cleanup(cutoff)
	d.entries[id] = now
	return false
}

// Len returns the number of remembered ids.
func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// cleanup drops expired ids, then the oldest ones while over maxSize.
// Must be called with d.mu held.
func (d *DedupeCache) cleanup(cutoff int64) {
	for k, ts := range d.entries {
		if ts < cutoff {
			delete(d.entries, k)
		}
	}
	for d.maxSize > 0 && len(d.entries) >= d.maxSize {
		oldestKey, oldest := "", int64(0)
		for k, ts := range d.entries {
			if oldestKey == "" || ts < oldest {
				oldestKey, oldest = k, ts
			}
		}
		delete(d.entries, oldestKey)
	}
}
