package graph

import (
	"fmt"
	"sort"
)

// Diagnostic is an advisory validation finding. Graph creation never runs
// validation; diagnostics are produced on demand (CLI validate, tests) so
// that a questionable definition can still be stored and run, matching the
// engine's no-validation contract.
type Diagnostic struct {
	Code     string `json:"code"`           // e.g. "GR-001"
	Severity string `json:"severity"`       // "error" or "warning"
	Message  string `json:"message"`        // human-readable description
	Path     string `json:"path,omitempty"` // offending field
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// HasErrors returns true if any diagnostic has error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity diagnostics.
func Errors(diags []Diagnostic) []Diagnostic {
	var errs []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errs
}

// Validate checks structural integrity of the Definition:
//   - GR-001: duplicate node names
//   - GR-002: start node missing from the node set
//   - GR-003: edge source references an unknown node
//   - GR-004: edge target (simple or per-route) references an unknown node
//   - GR-005: node unreachable from the start node (warning)
//
// Cycles are deliberately not diagnosed: loops are legal and bounded at
// run time by the step ceiling.
func (d Definition) Validate() []Diagnostic {
	var diags []Diagnostic

	known := make(map[string]bool, len(d.Nodes))
	for i, name := range d.Nodes {
		if known[name] {
			diags = append(diags, Diagnostic{
				Code:     "GR-001",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Duplicate node name %q", name),
				Path:     fmt.Sprintf("nodes[%d]", i),
			})
		}
		known[name] = true
	}

	if d.Start == "" || !known[d.Start] {
		diags = append(diags, Diagnostic{
			Code:     "GR-002",
			Severity: SeverityError,
			Message:  fmt.Sprintf("Start node %q is not in the node set", d.Start),
			Path:     "start_node",
		})
	}

	sources := make([]string, 0, len(d.Edges))
	for source := range d.Edges {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	for _, source := range sources {
		edge := d.Edges[source]
		if !known[source] {
			diags = append(diags, Diagnostic{
				Code:     "GR-003",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Edge source %q references an unknown node", source),
				Path:     fmt.Sprintf("edges[%s]", source),
			})
		}

		if target, ok := edge.Simple(); ok {
			if !known[target] {
				diags = append(diags, Diagnostic{
					Code:     "GR-004",
					Severity: SeverityError,
					Message:  fmt.Sprintf("Edge target %q references an unknown node", target),
					Path:     fmt.Sprintf("edges[%s]", source),
				})
			}
			continue
		}

		keys := edge.RouteKeys()
		sort.Strings(keys)
		for _, key := range keys {
			route, _ := edge.Route(key)
			if route.Terminal || known[route.Target] {
				continue
			}
			diags = append(diags, Diagnostic{
				Code:     "GR-004",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Route %q targets unknown node %q", key, route.Target),
				Path:     fmt.Sprintf("edges[%s].%s", source, key),
			})
		}
	}

	diags = append(diags, d.unreachableNodes(known)...)

	return diags
}

// unreachableNodes walks edges from the start node and warns about nodes
// the traversal can never visit.
func (d Definition) unreachableNodes(known map[string]bool) []Diagnostic {
	if !known[d.Start] {
		return nil
	}

	reached := map[string]bool{d.Start: true}
	frontier := []string{d.Start}
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]

		edge, ok := d.Edges[current]
		if !ok {
			continue
		}
		if target, ok := edge.Simple(); ok {
			if known[target] && !reached[target] {
				reached[target] = true
				frontier = append(frontier, target)
			}
			continue
		}
		for _, key := range edge.RouteKeys() {
			route, _ := edge.Route(key)
			if route.Terminal || !known[route.Target] || reached[route.Target] {
				continue
			}
			reached[route.Target] = true
			frontier = append(frontier, route.Target)
		}
	}

	var diags []Diagnostic
	for i, name := range d.Nodes {
		if reached[name] {
			continue
		}
		diags = append(diags, Diagnostic{
			Code:     "GR-005",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("Node %q is unreachable from the start node", name),
			Path:     fmt.Sprintf("nodes[%d]", i),
		})
	}
	return diags
}
