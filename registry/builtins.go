package registry

import (
	"context"
	"strings"

	"github.com/corvid-labs/graphrun/core"
)

// Builtin node names for the code-review pipeline shipped with graphrun.
const (
	NodeExtractFunctions    = "extract_functions"
	NodeCheckComplexity     = "check_complexity"
	NodeDetectIssues        = "detect_issues"
	NodeSuggestImprovements = "suggest_improvements"
	NodeQualityGate         = "quality_gate"
)

// RegisterBuiltins installs the built-in code-review nodes. They form a
// small analysis pipeline over a "code" state key and exercise both edge
// kinds: the quality gate returns "pass" or "retry" for conditional routing.
func RegisterBuiltins(r *Registry) {
	r.Register(NodeExtractFunctions, extractFunctions)
	r.Register(NodeCheckComplexity, checkComplexity)
	r.Register(NodeDetectIssues, detectIssues)
	r.Register(NodeSuggestImprovements, suggestImprovements)
	r.Register(NodeQualityGate, qualityGate)
}

// extractFunctions collects function definition lines from state["code"].
func extractFunctions(_ context.Context, state core.State) (string, error) {
	code, _ := state["code"].(string)
	var functions []string
	for _, line := range strings.Split(code, "\n") {
		if strings.Contains(line, "def ") {
			functions = append(functions, line)
		}
	}
	state["functions"] = functions
	return "", nil
}

// checkComplexity scores complexity from the number of extracted functions.
func checkComplexity(_ context.Context, state core.State) (string, error) {
	state["complexity_score"] = listLen(state["functions"]) * 2
	return "", nil
}

// detectIssues flags issues when the complexity score is high.
func detectIssues(_ context.Context, state core.State) (string, error) {
	if intValue(state["complexity_score"]) > 5 {
		state["issues"] = []string{"Line 10: Too long"}
	} else {
		state["issues"] = []string{}
	}
	return "", nil
}

// suggestImprovements records suggestions and updates the quality score.
func suggestImprovements(_ context.Context, state core.State) (string, error) {
	if listLen(state["issues"]) > 0 {
		state["suggestions"] = "Refactor logic to reduce complexity"
		state["quality_score"] = intValue(state["quality_score"]) + 20
	} else {
		state["suggestions"] = "Code looks good!"
		state["quality_score"] = 100
	}
	return "", nil
}

// qualityGate routes "pass" when the quality score reaches 80, else "retry".
func qualityGate(_ context.Context, state core.State) (string, error) {
	if intValue(state["quality_score"]) >= 80 {
		return "pass", nil
	}
	return "retry", nil
}

// intValue reads a numeric state value. JSON decoding produces float64,
// in-process nodes write int; both are accepted.
func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// listLen reports the length of a list-valued state entry.
func listLen(v any) int {
	switch l := v.(type) {
	case []string:
		return len(l)
	case []any:
		return len(l)
	default:
		return 0
	}
}
