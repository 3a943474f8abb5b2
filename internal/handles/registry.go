// Package handles maps handle identifiers to the application callbacks that
// receive their events.
package handles

import (
	"errors"
	"fmt"
	"sync"

	"pkt.systems/hyperspace/api"
)

// Callback receives events for one handle.
type Callback interface {
	// HandleEvent is invoked once per delivered event, in sequence order.
	HandleEvent(ev api.HandleEvent)
	// Invalidated is invoked once when the session expires and the handle
	// can no longer be used.
	Invalidated()
}

// CallbackFuncs adapts plain functions to Callback. Nil fields are ignored.
type CallbackFuncs struct {
	OnEvent       func(ev api.HandleEvent)
	OnInvalidated func()
}

// HandleEvent calls OnEvent when set.
func (f CallbackFuncs) HandleEvent(ev api.HandleEvent) {
	if f.OnEvent != nil {
		f.OnEvent(ev)
	}
}

// Invalidated calls OnInvalidated when set.
func (f CallbackFuncs) Invalidated() {
	if f.OnInvalidated != nil {
		f.OnInvalidated()
	}
}

// ErrSealed is returned by Register once InvalidateAll has run.
var ErrSealed = errors.New("handles: registry sealed")

// DuplicateHandleError is the panic value raised when a handle id is
// registered twice. It marks a caller bug rather than a runtime condition.
type DuplicateHandleError struct {
	HandleID uint64
}

func (e *DuplicateHandleError) Error() string {
	return fmt.Sprintf("handles: handle %d already registered", e.HandleID)
}

// Registry is a concurrency-safe handle id to callback map. It is locked
// independently of the session so application calls never wait on keepalive
// processing.
type Registry struct {
	mu      sync.RWMutex
	entries map[uint64]Callback
	sealed  bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[uint64]Callback)}
}

// Register associates cb with id. Registering an id that is already present
// panics with *DuplicateHandleError. A sealed registry rejects the
// registration with ErrSealed.
func (r *Registry) Register(id uint64, cb Callback) error {
	if cb == nil {
		panic(fmt.Sprintf("handles: nil callback for handle %d", id))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	if _, exists := r.entries[id]; exists {
		panic(&DuplicateHandleError{HandleID: id})
	}
	r.entries[id] = cb
	return nil
}

// Unregister removes id. Unknown ids are ignored.
func (r *Registry) Unregister(id uint64) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// Lookup returns the callback registered for id.
func (r *Registry) Lookup(id uint64) (Callback, bool) {
	r.mu.RLock()
	cb, ok := r.entries[id]
	r.mu.RUnlock()
	return cb, ok
}

// Sealed reports whether InvalidateAll has run.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Len reports the number of registered handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// InvalidateAll empties and seals the registry, then notifies every callback
// that was registered at the time of the call exactly once. The map is
// detached under the lock and the callbacks run after it is released, so a
// callback may call back into the registry. It returns the number of handles
// notified.
func (r *Registry) InvalidateAll() int {
	r.mu.Lock()
	detached := r.entries
	r.entries = make(map[uint64]Callback)
	r.sealed = true
	r.mu.Unlock()
	for _, cb := range detached {
		cb.Invalidated()
	}
	return len(detached)
}
