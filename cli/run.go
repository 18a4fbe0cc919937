package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/graphrun/core"
	"github.com/corvid-labs/graphrun/registry"
	"github.com/corvid-labs/graphrun/runtime"
)

// NewRunCmd creates the "run" subcommand: execute a graph definition file
// locally against the built-in node registry and print the final run
// snapshot.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a graph definition file locally",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().String("input", "", "Initial state as inline JSON")
	cmd.Flags().String("input-file", "", "Path to a JSON file with the initial state")
	cmd.Flags().Int("max-steps", runtime.DefaultMaxSteps, "Step ceiling per run")
	cmd.Flags().Bool("events", false, "Log runtime events to stderr")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	def, err := loadDefinition(args[0])
	if err != nil {
		return err
	}

	initial, err := resolveInputState(cmd)
	if err != nil {
		return err
	}
	maxSteps, _ := cmd.Flags().GetInt("max-steps")
	logEvents, _ := cmd.Flags().GetBool("events")

	reg := registry.New()
	registry.RegisterBuiltins(reg)

	opts := runtime.DefaultOptions()
	opts.MaxSteps = maxSteps
	if logEvents {
		opts.EventHandler = runtime.LogHandler(nil)
	}

	run := runtime.NewRun("local", "local", initial)
	execErr := runtime.NewExecutor(reg).Execute(cmd.Context(), def, run, opts)

	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(run.Snapshot()); err != nil {
		return exitError(exitRuntime, "marshaling output: %v", err)
	}

	if execErr != nil {
		return exitError(exitRuntime, "run failed: %v", execErr)
	}
	return nil
}

// resolveInputState parses --input or --input-file into the initial state.
func resolveInputState(cmd *cobra.Command) (core.State, error) {
	inline, _ := cmd.Flags().GetString("input")
	file, _ := cmd.Flags().GetString("input-file")

	if inline != "" && file != "" {
		return nil, exitError(exitInputParse, "cannot specify both --input and --input-file")
	}

	var raw []byte
	switch {
	case inline != "":
		raw = []byte(inline)
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, exitError(exitFileNotFound, "reading input file: %v", err)
		}
		raw = data
	default:
		return core.State{}, nil
	}

	var state core.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, exitError(exitInputParse, "parsing input JSON: %v", err)
	}
	return state, nil
}
