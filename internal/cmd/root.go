package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for steward
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "steward",
		Short: "Bounded execution runtime for autonomous agent tasks",
		Long: `Steward drives agent tasks through a bounded, goal-directed execution
loop: plan, execute with retries, validate progress, detect failure
loops, and escalate to a human gate instead of spinning forever.

Task briefs (Markdown or YAML) describe the goal and acceptance
criteria; a scripted oracle file supplies deterministic planning
responses for local replay runs.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewHistoryCommand())

	return cmd
}
