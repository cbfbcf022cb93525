package transport

import (
	"context"
	"sync"
)

// InFlightRegistry tracks running chat sessions so they can be cancelled
// by ID from another request. It is safe for concurrent use.
type InFlightRegistry struct {
	mu      sync.Mutex
	entries map[string]context.CancelFunc
}

// NewInFlightRegistry creates an empty registry.
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{entries: make(map[string]context.CancelFunc)}
}

// Register tracks a session under id. The returned release function
// removes it without cancelling and must be called when the session ends.
func (r *InFlightRegistry) Register(id string, cancel context.CancelFunc) (release func()) {
	r.mu.Lock()
	r.entries[id] = cancel
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.entries, id)
		r.mu.Unlock()
	}
}

// Cancel cancels the session registered under id. It reports false when
// no such session is running.
func (r *InFlightRegistry) Cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Len returns the number of running sessions.
func (r *InFlightRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
