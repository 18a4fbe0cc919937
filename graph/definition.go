// Package graph defines the immutable workflow graph: named nodes connected
// by simple or conditional edges, walked from a start node.
package graph

// Definition is the stored description of a workflow graph. It is created
// once, read by arbitrarily many concurrent runs, and never mutated.
//
// No cross-validation is performed at creation time: a Definition is
// accepted even if its edges reference names absent from Nodes or its
// start node is missing from the node set. Validate reports such problems
// as advisory diagnostics without making them creation errors.
type Definition struct {
	Nodes []string        `json:"nodes" yaml:"nodes"`
	Edges map[string]Edge `json:"edges" yaml:"edges"`
	Start string          `json:"start_node" yaml:"start_node"`
}

// edgeKind discriminates the two Edge variants.
type edgeKind uint8

const (
	edgeSimple edgeKind = iota + 1
	edgeConditional
)

// Edge describes how execution proceeds after its source node. It is a
// closed union of two variants:
//
//   - a simple edge: one fixed target, used regardless of the routing key
//     the node function returned
//   - a conditional edge: a map from routing key to Route, where a
//     terminal Route ends the run at the source node
//
// The zero Edge is neither variant; it marshals to an error and never
// appears in a decoded Definition.
type Edge struct {
	kind   edgeKind
	target string
	routes map[string]Route
}

// Route is one target of a conditional edge. A terminal route carries no
// target and ends the run.
type Route struct {
	Target   string
	Terminal bool
}

// To returns a route to the named node.
func To(target string) Route {
	return Route{Target: target}
}

// End returns a terminal route.
func End() Route {
	return Route{Terminal: true}
}

// SimpleEdge builds the fixed-target edge variant.
func SimpleEdge(target string) Edge {
	return Edge{kind: edgeSimple, target: target}
}

// ConditionalEdge builds the keyed edge variant. The routes map is copied.
func ConditionalEdge(routes map[string]Route) Edge {
	copied := make(map[string]Route, len(routes))
	for key, route := range routes {
		copied[key] = route
	}
	return Edge{kind: edgeConditional, routes: copied}
}

// Simple returns the target of a simple edge.
func (e Edge) Simple() (target string, ok bool) {
	return e.target, e.kind == edgeSimple
}

// IsConditional reports whether the edge is the conditional variant.
func (e Edge) IsConditional() bool {
	return e.kind == edgeConditional
}

// Route looks up the route for a routing key on a conditional edge.
func (e Edge) Route(key string) (Route, bool) {
	if e.kind != edgeConditional {
		return Route{}, false
	}
	route, ok := e.routes[key]
	return route, ok
}

// RouteKeys returns the routing keys of a conditional edge, in no
// particular order. Empty for simple edges.
func (e Edge) RouteKeys() []string {
	if e.kind != edgeConditional {
		return nil
	}
	keys := make([]string, 0, len(e.routes))
	for key := range e.routes {
		keys = append(keys, key)
	}
	return keys
}
