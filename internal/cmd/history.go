package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/steward/internal/history"
)

// NewHistoryCommand creates the history command
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <task-id>",
		Short: "Show the recorded audit trail of a task",
		Long: `Show the steps and outcomes recorded for a task in the history store.

Examples:
  steward history --store .steward/history task-42`,
		Args: cobra.ExactArgs(1),
		RunE: historyCommand,
	}

	cmd.Flags().String("store", ".steward/history", "History store directory")

	return cmd
}

// historyCommand implements the history command logic
func historyCommand(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("store")
	store, err := history.Open(dir)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	taskID := args[0]
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	steps, err := store.ListSteps(ctx, taskID)
	if err != nil {
		return err
	}
	results, err := store.ListResults(ctx, taskID)
	if err != nil {
		return err
	}
	if len(steps) == 0 && len(results) == 0 {
		return fmt.Errorf("no history recorded for task %s", taskID)
	}

	fmt.Fprintf(out, "Task %s:\n", taskID)
	for _, step := range steps {
		status := "failed"
		if step.ValidationSuccess {
			status = "ok"
		}
		fmt.Fprintf(out, "  step %d [%s] %s", step.StepNumber, status, step.Description)
		if step.ToolName != "" {
			fmt.Fprintf(out, " (%s)", step.ToolName)
		}
		fmt.Fprintln(out)
		for _, issue := range step.ValidationIssues {
			fmt.Fprintf(out, "      issue: %s\n", issue)
		}
	}

	for _, result := range results {
		status := "FAILED"
		if result.Success {
			status = "OK"
		}
		fmt.Fprintf(out, "  result [%s] %d step(s), started %s\n",
			status, result.StepCount, result.StartedAt.Format("2006-01-02 15:04:05"))
		if result.EscalationReason != "" {
			fmt.Fprintf(out, "      escalated: %s\n", result.EscalationReason)
		}
	}

	return nil
}
