package graph

import (
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Wire format: an edge is either a bare target string (simple) or a map of
// routing key to target-or-null (conditional), where null means "terminate
// here". The same shape is accepted in JSON and YAML.

var errZeroEdge = errors.New("graph: edge has no variant set")

// MarshalJSON encodes the edge in wire format.
func (e Edge) MarshalJSON() ([]byte, error) {
	wire, err := e.toWire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes an edge from wire format.
func (e *Edge) UnmarshalJSON(data []byte) error {
	var target string
	if err := json.Unmarshal(data, &target); err == nil {
		*e = SimpleEdge(target)
		return nil
	}

	var routes map[string]*string
	if err := json.Unmarshal(data, &routes); err != nil {
		return fmt.Errorf("graph: edge must be a target string or a routing map: %w", err)
	}
	*e = edgeFromWire(routes)
	return nil
}

// MarshalYAML encodes the edge in wire format.
func (e Edge) MarshalYAML() (any, error) {
	return e.toWire()
}

// UnmarshalYAML decodes an edge from wire format.
func (e *Edge) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var target string
		if err := value.Decode(&target); err != nil {
			return fmt.Errorf("graph: decoding simple edge: %w", err)
		}
		*e = SimpleEdge(target)
		return nil
	case yaml.MappingNode:
		var routes map[string]*string
		if err := value.Decode(&routes); err != nil {
			return fmt.Errorf("graph: decoding conditional edge: %w", err)
		}
		*e = edgeFromWire(routes)
		return nil
	default:
		return fmt.Errorf("graph: edge must be a target string or a routing map, got yaml kind %d", value.Kind)
	}
}

func (e Edge) toWire() (any, error) {
	switch e.kind {
	case edgeSimple:
		return e.target, nil
	case edgeConditional:
		wire := make(map[string]*string, len(e.routes))
		for key, route := range e.routes {
			if route.Terminal {
				wire[key] = nil
				continue
			}
			target := route.Target
			wire[key] = &target
		}
		return wire, nil
	default:
		return nil, errZeroEdge
	}
}

func edgeFromWire(wire map[string]*string) Edge {
	routes := make(map[string]Route, len(wire))
	for key, target := range wire {
		if target == nil {
			routes[key] = End()
			continue
		}
		routes[key] = To(*target)
	}
	return ConditionalEdge(routes)
}
