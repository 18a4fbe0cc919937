package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/graphrun/graph"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a graph definition file without executing",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("strict", false, "Treat warnings as errors")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	strict, _ := cmd.Flags().GetBool("strict")
	out := cmd.OutOrStdout()

	def, err := loadDefinition(args[0])
	if err != nil {
		return err
	}

	diags := def.Validate()
	printDiagnostics(out, diags, format)

	warnings := 0
	for _, d := range diags {
		if d.Severity == graph.SeverityWarning {
			warnings++
		}
	}
	if graph.HasErrors(diags) || (strict && warnings > 0) {
		return exitError(exitValidation, "validation failed")
	}
	return nil
}

func printDiagnostics(out io.Writer, diags []graph.Diagnostic, format string) {
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{"diagnostics": diags})
		return
	}

	if len(diags) == 0 {
		fmt.Fprintln(out, "OK: no problems found")
		return
	}
	for _, d := range diags {
		if d.Path != "" {
			fmt.Fprintf(out, "%s %s: %s (%s)\n", d.Severity, d.Code, d.Message, d.Path)
		} else {
			fmt.Fprintf(out, "%s %s: %s\n", d.Severity, d.Code, d.Message)
		}
	}
}
