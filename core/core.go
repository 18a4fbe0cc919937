// Package core provides the foundational types shared by every graphrun package.
//
// This package contains:
//   - State: the shared mutable map a run threads through its nodes
//   - NodeFunc: the contract every registered node function satisfies
//
// It deliberately has no dependencies; every other package imports it.
package core

import "context"

// DefaultRouteKey is the routing key used when a node function returns no key.
// A conditional edge that wants to handle the "no key" case maps this literal.
const DefaultRouteKey = "next"

// State is the shared mutable state of a single run. It is passed by
// reference into each node function, which mutates it in place as its
// primary side effect. A State is exclusively owned by one run at a time.
type State map[string]any

// NodeFunc is the unit of work bound to a node name. It reads and mutates
// the run's state and returns a routing key used to select among a
// conditional edge's targets. An empty key means "use default routing".
// A returned error fails the run.
type NodeFunc func(ctx context.Context, state State) (string, error)

// Clone returns a deep copy of the state. Nested map[string]any and []any
// values are copied recursively; other values are copied by assignment.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for key, value := range s {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, inner := range v {
			out[key] = cloneValue(inner)
		}
		return out
	case State:
		return map[string]any(v.Clone())
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = cloneValue(inner)
		}
		return out
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	default:
		return v
	}
}
