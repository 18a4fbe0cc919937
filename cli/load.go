package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/corvid-labs/graphrun/graph"
)

// loadDefinition reads a graph definition from a JSON or YAML file,
// deciding the codec by extension (.json vs .yaml/.yml).
func loadDefinition(path string) (graph.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return graph.Definition{}, exitError(exitFileNotFound, "file not found: %s", path)
		}
		return graph.Definition{}, fmt.Errorf("reading file: %w", err)
	}

	var def graph.Definition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &def); err != nil {
			return graph.Definition{}, exitError(exitValidation, "parsing %s: %v", path, err)
		}
	default:
		if err := json.Unmarshal(data, &def); err != nil {
			return graph.Definition{}, exitError(exitValidation, "parsing %s: %v", path, err)
		}
	}
	return def, nil
}
