// Package oracle defines the contract of the external planning and
// evaluation capability consumed by the execution loop, and provides a
// deterministic scripted implementation used by the CLI and by tests.
// The real planner (an LLM-backed service) lives outside this module.
package oracle

import (
	"context"

	"github.com/harrison/steward/internal/models"
)

// ConfidenceRequest carries the context for a confidence evaluation.
type ConfidenceRequest struct {
	TaskID       string
	Goal         string
	Step         int
	RecentErrors []string
	LastAction   *models.Action
}

// Oracle is the planning/evaluation capability. All methods take a
// context because every call crosses a process boundary in production.
type Oracle interface {
	// PlanNextAction produces the next action for the task. On retry the
	// failed action and its result are supplied as context, together with
	// the attempt number.
	PlanNextAction(ctx context.Context, state *models.TaskState, previous *models.Action, previousResult *models.Result, attempt int) (models.Action, error)

	// EvaluateProgress is the oracle's own progress judgment. A nil
	// result with a nil error means the oracle has no opinion.
	EvaluateProgress(ctx context.Context, state *models.TaskState, result models.Result) (*models.ValidationResult, error)

	// EvaluateConfidence scores how likely the task is on track, in [0,1].
	EvaluateConfidence(ctx context.Context, req ConfidenceRequest) (float64, error)

	// CompletionCheck is the minimal, token-bounded "is this task
	// complete?" query. Returns short text such as "yes" or "no".
	CompletionCheck(ctx context.Context, prompt string) (string, error)
}
