package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/corvid-labs/graphrun/graph"
	"github.com/corvid-labs/graphrun/registry"
)

const (
	projectConfigName = "graphrun.yaml"
	homeConfigName    = "config.yaml"
)

// Config is the declarative startup configuration loaded from
// graphrun.yaml. Zero values defer to flag defaults in the CLI.
type Config struct {
	Host         string `yaml:"host,omitempty"`
	Port         int    `yaml:"port,omitempty"`
	CORSOrigin   string `yaml:"cors_origin,omitempty"`
	MaxBody      int64  `yaml:"max_body,omitempty"`
	MaxSteps     int    `yaml:"max_steps,omitempty"`
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`

	// SchedulePoll overrides how often the scheduler scans for due
	// schedules. Zero keeps the scheduler default.
	SchedulePoll time.Duration `yaml:"schedule_poll,omitempty"`

	// Graphs are definitions stored under fixed IDs at startup, before
	// the server accepts traffic.
	Graphs map[string]graph.Definition `yaml:"graphs,omitempty"`
}

// DefaultGraphID is the ID of the code-review graph stored at startup so
// a fresh server has something to run against the builtin nodes.
const DefaultGraphID = "code-review-agent"

// DefaultConfig returns the built-in server defaults, including the
// preloaded code-review graph. A config file entry under the same ID
// replaces it.
func DefaultConfig() Config {
	return Config{
		Host:   "127.0.0.1",
		Port:   8080,
		Graphs: map[string]graph.Definition{DefaultGraphID: defaultReviewGraph()},
	}
}

// defaultReviewGraph wires the five builtin nodes into a linear pipeline
// with a conditional quality gate: "retry" loops back to detect_issues,
// "pass" ends the run.
func defaultReviewGraph() graph.Definition {
	return graph.Definition{
		Nodes: []string{
			registry.NodeExtractFunctions,
			registry.NodeCheckComplexity,
			registry.NodeDetectIssues,
			registry.NodeSuggestImprovements,
			registry.NodeQualityGate,
		},
		Start: registry.NodeExtractFunctions,
		Edges: map[string]graph.Edge{
			registry.NodeExtractFunctions:    graph.SimpleEdge(registry.NodeCheckComplexity),
			registry.NodeCheckComplexity:     graph.SimpleEdge(registry.NodeDetectIssues),
			registry.NodeDetectIssues:        graph.SimpleEdge(registry.NodeSuggestImprovements),
			registry.NodeSuggestImprovements: graph.SimpleEdge(registry.NodeQualityGate),
			registry.NodeQualityGate: graph.ConditionalEdge(map[string]graph.Route{
				"retry": graph.To(registry.NodeDetectIssues),
				"pass":  graph.End(),
			}),
		},
	}
}

// DiscoverConfigPath resolves the config file location with first-match
// semantics: an explicit path wins, then graphrun.yaml in the working
// directory, then ~/.graphrun/config.yaml.
func DiscoverConfigPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverConfigPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverConfigPathFrom is a testable variant of DiscoverConfigPath.
func DiscoverConfigPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, ".graphrun", homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			// An explicit path that does not exist is an error.
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// LoadConfig reads and parses one config file, layered over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
	}
	return cfg, nil
}
