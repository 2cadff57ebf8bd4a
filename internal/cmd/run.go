package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/harrison/steward/internal/config"
	"github.com/harrison/steward/internal/engine"
	"github.com/harrison/steward/internal/escalation"
	"github.com/harrison/steward/internal/history"
	"github.com/harrison/steward/internal/logger"
	"github.com/harrison/steward/internal/loopdetect"
	"github.com/harrison/steward/internal/models"
	"github.com/harrison/steward/internal/oracle"
	"github.com/harrison/steward/internal/parser"
	"github.com/harrison/steward/internal/progress"
	"github.com/harrison/steward/internal/runner"
	"github.com/harrison/steward/internal/tools"
)

// logSink is the local stand-in for the platform's gate service: it
// fabricates a gate ID and logs the escalation so a human can see it.
type logSink struct {
	log *logger.ConsoleLogger
}

func (s *logSink) CreateGate(ctx context.Context, reason string, gateCtx map[string]string, agentID string) (string, error) {
	gateID := uuid.NewString()
	s.log.LogWarn(fmt.Sprintf("gate %s created: reason=%s task=%s", gateID, reason, gateCtx["task_id"]))
	return gateID, nil
}

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <brief-file>...",
		Short: "Run task briefs through the execution loop",
		Long: `Run one or more task briefs through the bounded execution loop.

Each brief (Markdown or YAML) describes one task. Planning responses
come from the oracle script given with --script, so runs replay
deterministically; tool actions execute against the local workspace
tool backend.

Examples:
  # Run a single brief with a scripted oracle
  steward run --script oracle.yaml brief.md

  # Run several briefs concurrently
  steward run --script oracle.yaml --parallel 4 briefs/*.yaml

  # Keep an audit trail
  steward run --script oracle.yaml --store .steward/history brief.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .steward/config.yaml)")
	cmd.Flags().String("script", "", "Path to the oracle script file (required)")
	cmd.Flags().String("store", "", "History store directory (overrides config)")
	cmd.Flags().String("workspace", ".", "Workspace directory for local tools")
	cmd.Flags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	cmd.Flags().Int("parallel", 1, "Maximum number of briefs run concurrently")
	cmd.MarkFlagRequired("script")

	return cmd
}

// runCommand implements the run command logic
func runCommand(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = ".steward/config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if store, _ := cmd.Flags().GetString("store"); store != "" {
		cfg.HistoryDir = store
	}

	log := logger.NewConsoleLogger(os.Stderr, cfg.LogLevel)

	scriptPath, _ := cmd.Flags().GetString("script")
	workspace, _ := cmd.Flags().GetString("workspace")
	parallel, _ := cmd.Flags().GetInt("parallel")
	if parallel < 1 {
		parallel = 1
	}

	specs := make([]models.TaskSpec, 0, len(args))
	for _, path := range args {
		spec, err := parser.ParseFile(path, parser.WithDefaultMaxSteps(cfg.Loop.MaxSteps))
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}

	var store *history.Store
	if cfg.HistoryDir != "" {
		store, err = history.Open(cfg.HistoryDir)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer store.Close()
	}

	detector := loopdetect.NewDetector(cfg.Loop.LoopWindow)
	gateway := escalation.NewGateway(&logSink{log: log})
	registry := tools.NewLocalRegistry(workspace)

	// Non-tool actions: "note" records planner commentary as output so it
	// lands in the artifact map; anything else is not implemented.
	handlers := engine.NewHandlerMux()
	handlers.Handle("note", engine.HandlerFunc(func(ctx context.Context, action models.Action, state *models.TaskState) (models.Result, error) {
		return models.Result{Success: true, Output: action.Description}, nil
	}))

	results := make([]*models.TaskResult, len(specs))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(parallel)

	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			// Each task replays its own copy of the script so queues
			// are not shared across tasks.
			scripted, err := oracle.LoadScript(scriptPath)
			if err != nil {
				return err
			}

			eng, err := engine.New(scripted, registry, handlers,
				engine.WithMaxRetries(cfg.Retry.MaxRetries),
				engine.WithBackoffBase(cfg.Retry.BackoffBase),
			)
			if err != nil {
				return err
			}

			validator := progress.NewValidator(progress.Thresholds{
				TestTierCap:       cfg.Progress.TestTierCap,
				ArtifactTierScore: cfg.Progress.ArtifactTierScore,
			}, scripted)

			opts := []runner.Option{
				runner.WithLogger(log),
				runner.WithConfig(runner.Config{
					ConfidenceInterval:  cfg.Loop.ConfidenceInterval,
					ConfidenceThreshold: cfg.Loop.ConfidenceThreshold,
					LastErrorsCap:       cfg.Loop.LastErrorsCap,
				}),
			}
			if store != nil {
				opts = append(opts, runner.WithHistory(store))
			}

			r, err := runner.New(scripted, eng, validator, detector, gateway, opts...)
			if err != nil {
				return err
			}

			result, err := r.Run(ctx, spec)
			if err != nil {
				return fmt.Errorf("task %s: %w", spec.TaskID, err)
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	printSummary(cmd, results)

	failed := 0
	for _, result := range results {
		if !result.Success {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d task(s) did not succeed", failed, len(results))
	}
	return nil
}

// printSummary writes the per-task outcome table to stdout.
func printSummary(cmd *cobra.Command, results []*models.TaskResult) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "\nRun Summary:\n")
	for _, result := range results {
		status := "FAILED"
		if result.Success {
			status = "OK"
		}
		duration := result.Metadata.CompletedAt.Sub(result.Metadata.StartedAt).Round(time.Millisecond)
		fmt.Fprintf(out, "  [%s] %s: %d step(s) in %s\n", status, result.TaskID, len(result.Steps), duration)
		if result.Metadata.EscalationReason != "" {
			fmt.Fprintf(out, "        escalated: %s\n", result.Metadata.EscalationReason)
		}
		for key, value := range result.Artifacts {
			preview := value
			if len(preview) > 60 {
				preview = preview[:60] + "..."
			}
			fmt.Fprintf(out, "        artifact %s: %s\n", key, preview)
		}
	}
}
