package share

import "sync"

// Gate is a single-slot latch: one share in flight, and never the same key
// twice in a row.
type Gate struct {
	mu         sync.Mutex
	processing bool
	lastKey    *Key
}

// TryAcquire claims the gate for key. It returns false when another share
// is being processed or key matches the last processed one.
func (g *Gate) TryAcquire(key Key) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.processing {
		return false
	}
	if g.lastKey != nil && *g.lastKey == key {
		return false
	}
	g.processing = true
	g.lastKey = &key
	return true
}

// Release frees the gate once the share's work has finished, whatever the outcome
func (g *Gate) Release() {
	g.mu.Lock()
	g.processing = false
	g.mu.Unlock()
}

// Abandon frees the gate and forgets the last key so the same share can be
// admitted again
func (g *Gate) Abandon() {
	g.mu.Lock()
	g.processing = false
	g.lastKey = nil
	g.mu.Unlock()
}

// Processing reports whether a share is in flight
func (g *Gate) Processing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.processing
}
