package entity

import (
	"sync"

	"wiim_control/internal/wiim"
)

// UpdateFunc observes state changes pushed into the registry.
type UpdateFunc func(entityID string, state wiim.PlaybackState)

// Registry caches the latest normalized state per entity and fans updates
// out to subscribers. It implements wiim.StateSink.
type Registry struct {
	mu     sync.RWMutex
	states map[string]wiim.PlaybackState
	subs   []UpdateFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		states: make(map[string]wiim.PlaybackState),
	}
}

// Subscribe registers a callback for every state update. Subscribe before
// the session starts polling; callbacks run on the polling goroutine.
func (r *Registry) Subscribe(fn UpdateFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
}

// UpdatePlaybackState stores the state and notifies subscribers.
func (r *Registry) UpdatePlaybackState(entityID string, state wiim.PlaybackState) {
	r.mu.Lock()
	r.states[entityID] = state
	subs := append([]UpdateFunc(nil), r.subs...)
	r.mu.Unlock()

	for _, fn := range subs {
		fn(entityID, state.Clone())
	}
}

// Get returns the latest state for an entity.
func (r *Registry) Get(entityID string) (wiim.PlaybackState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.states[entityID]
	return state.Clone(), ok
}

// All returns a copy of every known entity state.
func (r *Registry) All() map[string]wiim.PlaybackState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]wiim.PlaybackState, len(r.states))
	for id, state := range r.states {
		out[id] = state.Clone()
	}
	return out
}

// Remove drops an entity, e.g. when its session is torn down.
func (r *Registry) Remove(entityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, entityID)
}
