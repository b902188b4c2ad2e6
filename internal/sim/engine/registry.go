package engine

import (
	"sort"
	"sync"
)

// Lease is proof that one interpreter owns an actor's running-set slot.
type Lease struct {
	ActorID string
	gen     uint64
}

// Registry is the running set: at most one live lease per actor id.
// Its lock is a leaf; it never calls out while holding it.
type Registry struct {
	mu   sync.Mutex
	held map[string]uint64
	gen  uint64
}

func NewRegistry() *Registry {
	return &Registry{held: map[string]uint64{}}
}

// Acquire is the indivisible membership test-and-insert.
func (r *Registry) Acquire(id string) (Lease, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.held[id]; ok {
		return Lease{}, false
	}
	r.gen++
	r.held[id] = r.gen
	return Lease{ActorID: id, gen: r.gen}, true
}

// Valid reports whether l is still the current lease for its actor.
func (r *Registry) Valid(l Lease) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.held[l.ActorID]
	return ok && g == l.gen
}

// Release frees the slot only if l is still current, so a revoked
// interpreter never evicts its successor.
func (r *Registry) Release(l Lease) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.held[l.ActorID]; ok && g == l.gen {
		delete(r.held, l.ActorID)
		return true
	}
	return false
}

// Clear revokes every lease and returns how many were held.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.held)
	r.held = map[string]uint64{}
	return n
}

func (r *Registry) Running(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[id]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}

func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.held))
	for id := range r.held {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
