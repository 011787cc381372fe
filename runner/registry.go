package runner

import (
	"context"
	"sync"

	"github.com/agentd-dev/agentd/store"
)

// entry ties a session id to its running task and the resources a
// concurrent cancel call needs to reach.
type entry struct {
	cancel context.CancelFunc
	buffer *Buffer
	store  store.Store
	done   <-chan struct{} // closed when the run goroutine has exited
}

// Registry is the process-wide table of active runs, keyed by session id.
// An entry exists exactly while its run is logically active; every terminal
// path removes it. All access is serialized by one mutex because starts,
// cancellations and run completions race across goroutines.
type Registry struct {
	mu     sync.Mutex
	active map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*entry)}
}

func (r *Registry) register(sessionID string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[sessionID] = e
}

func (r *Registry) lookup(sessionID string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[sessionID]
}

func (r *Registry) unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, sessionID)
}

// IsActive reports whether a run is currently registered for the session.
func (r *Registry) IsActive(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[sessionID]
	return ok
}

// Len returns the number of active runs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
