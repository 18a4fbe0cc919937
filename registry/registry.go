// Package registry provides the node registry for graphrun: a lookup table
// from node name to node function. It is populated at process start (or
// graph-creation time) and read-only during execution.
package registry

import (
	"sync"

	"github.com/corvid-labs/graphrun/core"
)

// Registry holds all registered node functions. It is safe for concurrent
// use; writes are expected only at start-up.
//
// Construct one registry per engine (or per test case) rather than sharing
// ambient process-wide state.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]core.NodeFunc
	order []string // preserves registration order
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		nodes: make(map[string]core.NodeFunc),
	}
}

// Register binds a name to a node function. Re-registering a name
// overwrites the prior binding; last write wins.
func (r *Registry) Register(name string, fn core.NodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.nodes[name]; !exists {
		r.order = append(r.order, name)
	}
	r.nodes[name] = fn
}

// Resolve returns the function bound to name, or false if absent.
func (r *Registry) Resolve(name string) (core.NodeFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.nodes[name]
	return fn, ok
}

// Has returns true if name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Resolve(name)
	return ok
}

// Names returns all registered node names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}
