package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/graphrun/runtime"
	"github.com/corvid-labs/graphrun/server"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execCommand(cmd *cobra.Command, args ...string) (string, error) {
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

const reviewGraphJSON = `{
  "nodes": ["extract_functions", "check_complexity", "detect_issues", "suggest_improvements", "quality_gate"],
  "edges": {
    "extract_functions": "check_complexity",
    "check_complexity": "detect_issues",
    "detect_issues": "suggest_improvements",
    "suggest_improvements": "quality_gate",
    "quality_gate": {"pass": null, "retry": "detect_issues"}
  },
  "start_node": "extract_functions"
}`

func TestRunCmd_ExecutesBuiltinPipeline(t *testing.T) {
	path := writeTempFile(t, "review.json", reviewGraphJSON)

	out, err := execCommand(NewRunCmd(), path,
		"--input", `{"code": "def f(): pass"}`)
	if err != nil {
		t.Fatalf("run: %v\noutput: %s", err, out)
	}

	var snap runtime.Snapshot
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatalf("output is not a snapshot: %v\n%s", err, out)
	}
	if snap.Status != runtime.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", snap.Status)
	}
	if snap.State["quality_score"] != float64(100) {
		t.Errorf("quality_score = %v, want 100", snap.State["quality_score"])
	}
}

func TestRunCmd_FailedRunReturnsRuntimeExitCode(t *testing.T) {
	def := `{"nodes": ["ghost"], "edges": {}, "start_node": "ghost"}`
	path := writeTempFile(t, "bad.json", def)

	out, err := execCommand(NewRunCmd(), path)
	if err == nil {
		t.Fatal("expected error")
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != exitRuntime {
		t.Fatalf("err = %v, want exit code %d", err, exitRuntime)
	}
	// The final snapshot still prints, with the failure recorded.
	if !strings.Contains(out, string(runtime.StatusFailed)) {
		t.Errorf("output missing FAILED snapshot: %s", out)
	}
}

func TestRunCmd_MissingFile(t *testing.T) {
	_, err := execCommand(NewRunCmd(), filepath.Join(t.TempDir(), "nope.json"))
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != exitFileNotFound {
		t.Fatalf("err = %v, want exit code %d", err, exitFileNotFound)
	}
}

func TestRunCmd_RejectsBothInputFlags(t *testing.T) {
	path := writeTempFile(t, "review.json", reviewGraphJSON)
	_, err := execCommand(NewRunCmd(), path,
		"--input", "{}", "--input-file", path)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != exitInputParse {
		t.Fatalf("err = %v, want exit code %d", err, exitInputParse)
	}
}

func TestValidateCmd_CleanGraph(t *testing.T) {
	path := writeTempFile(t, "review.json", reviewGraphJSON)
	out, err := execCommand(NewValidateCmd(), path)
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "OK") {
		t.Errorf("output = %s", out)
	}
}

func TestValidateCmd_BrokenGraphFails(t *testing.T) {
	def := `{"nodes": ["a"], "edges": {"a": "b"}, "start_node": "missing"}`
	path := writeTempFile(t, "broken.json", def)

	out, err := execCommand(NewValidateCmd(), path)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != exitValidation {
		t.Fatalf("err = %v, want exit code %d", err, exitValidation)
	}
	if !strings.Contains(out, "GR-002") {
		t.Errorf("output missing start-node diagnostic: %s", out)
	}
}

func TestValidateCmd_JSONFormat(t *testing.T) {
	path := writeTempFile(t, "review.json", reviewGraphJSON)
	out, err := execCommand(NewValidateCmd(), path, "--format", "json")
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(out), &body); err != nil {
		t.Fatalf("output is not JSON: %s", out)
	}
}

func TestLoadDefinition_YAML(t *testing.T) {
	path := writeTempFile(t, "review.yaml", `
nodes: [a, b]
start_node: a
edges:
  a: b
`)
	def, err := loadDefinition(path)
	if err != nil {
		t.Fatal(err)
	}
	if def.Start != "a" || len(def.Nodes) != 2 {
		t.Errorf("def = %+v", def)
	}
}

func TestEventLogPipe_DrainsToLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler, stop := newEventLogPipe(logger, 8)
	handler(runtime.NewEvent(runtime.EventRunStarted, "run-1"))
	handler(runtime.NewEvent(runtime.EventNodeStarted, "run-1").WithNode("a", 0))
	handler(runtime.NewEvent(runtime.EventRunFinished, "run-1"))
	stop()

	out := buf.String()
	for _, want := range []string{"run.started", "run.finished", "run-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestServeSettings_PreloadsDefaultGraph(t *testing.T) {
	cfgPath := writeTempFile(t, "graphrun.yaml", "port: 9999\n")

	cmd := NewServeCmd()
	if err := cmd.ParseFlags([]string{"--config", cfgPath}); err != nil {
		t.Fatal(err)
	}
	cmd.SetOut(&bytes.Buffer{})

	cfg, err := resolveServeSettings(cmd)
	if err != nil {
		t.Fatalf("resolveServeSettings: %v", err)
	}
	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Port)
	}
	if _, ok := cfg.Graphs[server.DefaultGraphID]; !ok {
		t.Errorf("Graphs missing %q; a bare serve should have a runnable graph", server.DefaultGraphID)
	}
}
