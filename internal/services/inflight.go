package services

import (
	"sync"

	"menurec/internal/models"
)

// InflightTracker records which keys have a generation in flight in this process.
// Markers are reference counted: every launcher acquires and releases once.
type InflightTracker struct {
	mu    sync.Mutex
	holds map[models.CacheKey]int
}

func NewInflightTracker() *InflightTracker {
	return &InflightTracker{holds: make(map[models.CacheKey]int)}
}

// Acquire places or reinforces the marker for key
func (t *InflightTracker) Acquire(key models.CacheKey) {
	t.mu.Lock()
	t.holds[key]++
	t.mu.Unlock()
}

// Release drops one hold on key
func (t *InflightTracker) Release(key models.CacheKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := t.holds[key]; n <= 1 {
		delete(t.holds, key)
	} else {
		t.holds[key] = n - 1
	}
}

// Held reports whether a marker exists for key
func (t *InflightTracker) Held(key models.CacheKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.holds[key] > 0
}

// Count returns the number of keys with a marker
func (t *InflightTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.holds)
}
