package progression

import (
	"sync"

	"github.com/eventui/server/pkg/core"
)

// Registry is the catalogue of mission definitions. Stored definitions are
// private copies and are never mutated after registration.
type Registry struct {
	mu         sync.RWMutex
	defs       map[string]*core.MissionDefinition
	order      []string
	generation uint64
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*core.MissionDefinition)}
}

// Replace swaps the whole catalogue. Definition order is preserved.
func (r *Registry) Replace(defs []*core.MissionDefinition) {
	next := make(map[string]*core.MissionDefinition, len(defs))
	order := make([]string, 0, len(defs))
	for _, d := range defs {
		if _, dup := next[d.ID]; !dup {
			order = append(order, d.ID)
		}
		next[d.ID] = d.Clone()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs = next
	r.order = order
	r.generation++
}

// Get returns the definition for id. Callers must not modify it.
func (r *Registry) Get(id string) (*core.MissionDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[id]
	return d, ok
}

// All returns every definition in load order.
func (r *Registry) All() []*core.MissionDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.MissionDefinition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.defs[id])
	}
	return out
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// Generation increases on every Replace.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Snapshot returns every definition in load order together with the
// generation they belong to.
func (r *Registry) Snapshot() ([]*core.MissionDefinition, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.MissionDefinition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.defs[id])
	}
	return out, r.generation
}
