package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/steward/internal/oracle"
	"github.com/harrison/steward/internal/parser"
)

// NewValidateCommand creates the validate command
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <brief-file>...",
		Short: "Validate task briefs without running them",
		Long: `Parse and validate task briefs, reporting what the execution loop
would receive, without executing anything.

With --script the oracle script is validated too.

Examples:
  steward validate brief.md
  steward validate --script oracle.yaml briefs/*.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: validateCommand,
	}

	cmd.Flags().String("script", "", "Also validate this oracle script file")

	return cmd
}

// validateCommand implements the validate command logic
func validateCommand(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	var failures int
	for _, path := range args {
		spec, err := parser.ParseFile(path)
		if err != nil {
			failures++
			fmt.Fprintf(out, "INVALID %s: %v\n", path, err)
			continue
		}

		fmt.Fprintf(out, "OK %s\n", path)
		fmt.Fprintf(out, "  task:      %s\n", spec.TaskID)
		fmt.Fprintf(out, "  goal:      %s\n", spec.Goal)
		fmt.Fprintf(out, "  criteria:  %d\n", len(spec.AcceptanceCriteria))
		fmt.Fprintf(out, "  max steps: %d\n", spec.MaxSteps)
	}

	if scriptPath, _ := cmd.Flags().GetString("script"); scriptPath != "" {
		if _, err := oracle.LoadScript(scriptPath); err != nil {
			failures++
			fmt.Fprintf(out, "INVALID %s: %v\n", scriptPath, err)
		} else {
			fmt.Fprintf(out, "OK %s\n", scriptPath)
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d file(s) failed validation", failures)
	}
	return nil
}
