// Package runner drives a single task through the bounded, goal-directed
// execution loop: plan, execute, validate, detect loops, check confidence,
// terminate. One Runner call owns one task's state from creation to
// finalization; concurrent tasks use independent Run invocations.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harrison/steward/internal/engine"
	"github.com/harrison/steward/internal/escalation"
	"github.com/harrison/steward/internal/loopdetect"
	"github.com/harrison/steward/internal/models"
	"github.com/harrison/steward/internal/oracle"
	"github.com/harrison/steward/internal/progress"
)

// Default loop tuning.
const (
	DefaultConfidenceInterval  = 5
	DefaultConfidenceThreshold = 0.5
)

// Logger is the slice of the console logger the runner uses.
type Logger interface {
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
}

type noopLogger struct{}

func (noopLogger) LogDebug(string) {}
func (noopLogger) LogInfo(string)  {}
func (noopLogger) LogWarn(string)  {}
func (noopLogger) LogError(string) {}

// History records steps and finalized results for audit. Recording is
// strictly observational: failures are logged and never affect the run.
type History interface {
	RecordStep(ctx context.Context, taskID string, step models.Step) error
	RecordResult(ctx context.Context, result *models.TaskResult) error
}

// Config tunes one runner. Zero values fall back to defaults.
type Config struct {
	// ConfidenceInterval is the number of completed steps between
	// scheduled confidence checks.
	ConfidenceInterval int

	// ConfidenceThreshold escalates the task when a confidence score
	// falls below it. Negative values disable the escalation; scores are
	// still evaluated and recorded. Zero falls back to the default.
	ConfidenceThreshold float64

	// LastErrorsCap bounds the task's rolling error-signature log.
	LastErrorsCap int
}

// Runner is the execution-loop controller. It is the sole mutator of the
// task state it creates.
type Runner struct {
	oracle    oracle.Oracle
	engine    *engine.Engine
	validator *progress.Validator
	detector  *loopdetect.Detector
	gateway   *escalation.Gateway
	history   History
	logger    Logger
	clock     func() time.Time
	cfg       Config
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger attaches a logger.
func WithLogger(l Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithHistory attaches an audit history recorder.
func WithHistory(h History) Option {
	return func(r *Runner) { r.history = h }
}

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Runner) { r.clock = fn }
}

// WithConfig overrides the loop tuning.
func WithConfig(cfg Config) Option {
	return func(r *Runner) { r.cfg = cfg }
}

// New creates a runner. All five collaborators are required.
func New(o oracle.Oracle, e *engine.Engine, v *progress.Validator, d *loopdetect.Detector, g *escalation.Gateway, opts ...Option) (*Runner, error) {
	if o == nil || e == nil || v == nil || d == nil || g == nil {
		return nil, errors.New("runner requires oracle, engine, validator, detector, and gateway")
	}

	r := &Runner{
		oracle:    o,
		engine:    e,
		validator: v,
		detector:  d,
		gateway:   g,
		logger:    noopLogger{},
		clock:     time.Now,
		cfg: Config{
			ConfidenceInterval:  DefaultConfidenceInterval,
			ConfidenceThreshold: DefaultConfidenceThreshold,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cfg.ConfidenceInterval <= 0 {
		r.cfg.ConfidenceInterval = DefaultConfidenceInterval
	}
	if r.cfg.ConfidenceThreshold == 0 {
		r.cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	return r, nil
}

// Run drives one task to termination and returns its finalized result.
// The loop always terminates: success, loop escalation, low-confidence
// escalation, or step-budget exhaustion.
func (r *Runner) Run(ctx context.Context, spec models.TaskSpec) (*models.TaskResult, error) {
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	state := models.NewTaskState(spec, r.clock())
	if r.cfg.LastErrorsCap > 0 {
		state.SetLastErrorsCap(r.cfg.LastErrorsCap)
	}

	r.logger.LogInfo(fmt.Sprintf("task %s: starting (goal: %s, max steps: %d)", state.TaskID, state.Goal, state.MaxSteps))

	var prevAction *models.Action
	var prevResult *models.Result
	completionConfirmed := false

	for {
		action, result := r.planAndExecute(ctx, state, prevAction, prevResult)

		validation := r.validator.Validate(ctx, state, result)
		step := r.recordStep(ctx, state, action, result, validation)
		prevAction = &step.Action
		prevResult = &step.Result

		// Best-effort completion shortcut after high-signal actions. Any
		// failure inside it means "no opinion", never a propagated error.
		if result.Success && action.IsHighSignal() && r.confirmedComplete(ctx, state, result) {
			state.RaiseProgress(1.0)
			state.AddReasoning(fmt.Sprintf("step %d: completion check confirmed the task is done", state.CurrentStep))
			completionConfirmed = true
			state.CurrentStep++
			break
		}

		if done := r.trackFailure(ctx, state, validation); done {
			state.CurrentStep++
			break
		}

		if done := r.checkConfidence(ctx, state, action, validation); done {
			state.CurrentStep++
			break
		}

		state.CurrentStep++
		if state.CriteriaMet() {
			r.logger.LogInfo(fmt.Sprintf("task %s: acceptance criteria met after %d steps", state.TaskID, state.CurrentStep))
			break
		}
		if state.CurrentStep >= state.MaxSteps {
			state.TimeoutReached = true
			r.logger.LogWarn(fmt.Sprintf("task %s: step budget exhausted (%d steps)", state.TaskID, state.MaxSteps))
			break
		}
		if state.EscalationTriggered || state.ResourceLimitHit {
			break
		}
	}

	return r.finalize(ctx, state, completionConfirmed), nil
}

// planAndExecute runs iteration steps 1 and 2: ask the oracle for the
// next action and execute it through the retry engine. A planning failure
// becomes an ordinary failed result so it flows through validation, loop
// detection, and termination like any other failure.
func (r *Runner) planAndExecute(ctx context.Context, state *models.TaskState, prevAction *models.Action, prevResult *models.Result) (models.Action, models.Result) {
	action, err := r.oracle.PlanNextAction(ctx, state, prevAction, prevResult, 0)
	if err != nil {
		r.logger.LogWarn(fmt.Sprintf("task %s: planning failed: %v", state.TaskID, err))
		return models.Action{Description: "plan next action"}, models.Result{
			Success: false,
			Error:   fmt.Sprintf("planning failed: %v", err),
			Attempt: 1,
		}
	}

	result, execErr := r.engine.ExecuteWithRetry(ctx, action, state)
	if execErr != nil {
		// Replan exhaustion is fatal to the step, not the task: the
		// failing result takes the ordinary failure route.
		if errors.Is(execErr, engine.ErrReplanExhausted) {
			r.logger.LogWarn(fmt.Sprintf("task %s: %v", state.TaskID, execErr))
		} else {
			r.logger.LogWarn(fmt.Sprintf("task %s: execution failed: %v", state.TaskID, execErr))
		}
	}
	return action, result
}

// recordStep runs iteration step 3: append the step to the history, lift
// the progress score, merge metrics, and capture artifacts.
func (r *Runner) recordStep(ctx context.Context, state *models.TaskState, action models.Action, result models.Result, validation models.ValidationResult) models.Step {
	step := models.Step{
		Number:     state.CurrentStep,
		Action:     action,
		Result:     result,
		Validation: validation,
		Timestamp:  r.clock(),
		Cost:       models.UsageFromMetadata(result.Metadata),
	}
	state.Steps = append(state.Steps, step)

	if score, ok := validation.Metrics[models.MetricProgressScore]; ok {
		state.RaiseProgress(score)
	}
	state.MergeMetrics(validation.Metrics)

	if result.Success && result.Output != "" {
		state.Artifacts[fmt.Sprintf("step_%d", step.Number)] = result.Output
	}

	if action.Reasoning != "" {
		state.AddReasoning(fmt.Sprintf("step %d: %s", step.Number, action.Reasoning))
	}
	state.AddReasoning(fmt.Sprintf("step %d: %s -> success=%v, score=%.2f",
		step.Number, action.Description, validation.Success, state.ProgressScore))

	if r.history != nil {
		if err := r.history.RecordStep(ctx, state.TaskID, step); err != nil {
			r.logger.LogWarn(fmt.Sprintf("task %s: history record failed: %v", state.TaskID, err))
		}
	}

	r.logger.LogDebug(fmt.Sprintf("task %s step %d: %s (success=%v, score=%.2f)",
		state.TaskID, step.Number, action.Description, validation.Success, state.ProgressScore))
	return step
}

// completionPromptMaxOutput bounds the output excerpt embedded in the
// minimal completion-check prompt.
const completionPromptMaxOutput = 400

// confirmedComplete issues the minimal completion check. All failures are
// swallowed and reported as "not complete".
func (r *Runner) confirmedComplete(ctx context.Context, state *models.TaskState, result models.Result) bool {
	output := result.Output
	if len(output) > completionPromptMaxOutput {
		output = output[:completionPromptMaxOutput]
	}
	prompt := fmt.Sprintf("Goal: %s\nLast output: %s\nIs this task complete? Answer yes or no.", state.Goal, output)

	reply, err := r.oracle.CompletionCheck(ctx, prompt)
	if err != nil {
		r.logger.LogDebug(fmt.Sprintf("task %s: completion check failed, assuming not complete: %v", state.TaskID, err))
		return false
	}
	return oracle.IsAffirmative(reply)
}

// trackFailure runs iteration step 5: feed the validation outcome to the
// loop detector and escalate when an identical-failure loop is detected.
// Returns true when the run must terminate.
func (r *Runner) trackFailure(ctx context.Context, state *models.TaskState, validation models.ValidationResult) bool {
	if validation.Success {
		r.detector.RecordSuccess(state.TaskID)
		state.ConsecutiveFailures = 0
		return false
	}

	signature := validation.ErrorSignature()
	state.FailureCount++
	state.ConsecutiveFailures++

	switch models.ClassifyFailure(signature, state.LastError()) {
	case models.FailureExternal:
		// Infrastructure flakiness is not loop evidence: keep it out of
		// both the detector window and the loop-eligible error log.
		r.logger.LogDebug(fmt.Sprintf("task %s: external failure ignored by loop detector: %s", state.TaskID, signature))
	case models.FailureDegrading:
		// Varying symptoms mean the agent is still exploring.
		r.detector.Reset(state.TaskID)
		state.RecordError(signature)
	default:
		state.RecordError(signature)
		r.detector.RecordFailure(state.TaskID, signature)
	}

	if !r.detector.IsLooping(state) {
		return false
	}

	reason, err := r.gateway.EscalateLoop(ctx, state, signature, r.detector.WindowSize())
	if err != nil {
		r.logger.LogError(fmt.Sprintf("task %s: %v", state.TaskID, err))
	}
	state.EscalationTriggered = true
	state.EscalationReason = reason
	r.logger.LogWarn(fmt.Sprintf("task %s: %s", state.TaskID, reason))
	return true
}

// checkConfidence runs iteration step 6: conditionally ask the confidence
// evaluator and escalate below the threshold. Returns true when the run
// must terminate.
func (r *Runner) checkConfidence(ctx context.Context, state *models.TaskState, action models.Action, validation models.ValidationResult) bool {
	completed := state.CurrentStep + 1

	due := completed-state.LastConfidenceCheckStep >= r.cfg.ConfidenceInterval
	flagged := action.FlaggedUncertain() || validation.Metrics[models.MetricUncertainty] > 0
	requested := state.ProgressMetrics[models.MetricConfidenceCheckRequest] > 0
	if !due && !flagged && !requested {
		return false
	}
	delete(state.ProgressMetrics, models.MetricConfidenceCheckRequest)

	score, err := r.oracle.EvaluateConfidence(ctx, oracle.ConfidenceRequest{
		TaskID:       state.TaskID,
		Goal:         state.Goal,
		Step:         state.CurrentStep,
		RecentErrors: append([]string(nil), state.LastErrors...),
		LastAction:   &action,
	})
	if err != nil {
		// An unavailable evaluator is not evidence of trouble.
		r.logger.LogWarn(fmt.Sprintf("task %s: confidence check failed: %v", state.TaskID, err))
		return false
	}

	state.LastConfidenceCheckStep = completed
	state.LastConfidenceScore = &score
	if score >= r.cfg.ConfidenceThreshold {
		return false
	}

	reason, gerr := r.gateway.EscalateLowConfidence(ctx, state, score, r.cfg.ConfidenceThreshold)
	if gerr != nil {
		r.logger.LogError(fmt.Sprintf("task %s: %v", state.TaskID, gerr))
	}
	state.EscalationTriggered = true
	state.EscalationReason = reason
	r.logger.LogWarn(fmt.Sprintf("task %s: %s", state.TaskID, reason))
	return true
}

// finalize stamps the completion time exactly once and assembles the
// TaskResult from the full step history.
func (r *Runner) finalize(ctx context.Context, state *models.TaskState, completionConfirmed bool) *models.TaskResult {
	completedAt := r.clock()
	state.Finalize(completedAt)

	var errs []string
	for _, step := range state.Steps {
		if sig := step.Validation.ErrorSignature(); sig != "" {
			errs = append(errs, sig)
		}
	}

	result := &models.TaskResult{
		TaskID:     state.TaskID,
		Success:    (state.CriteriaMet() || completionConfirmed) && !state.EscalationTriggered,
		Steps:      state.Steps,
		Artifacts:  state.Artifacts,
		Reasoning:  state.DecisionReasoning,
		Confidence: state.LastConfidenceScore,
		Errors:     errs,
		Metadata: models.TaskResultMeta{
			StartedAt:        state.StartedAt,
			CompletedAt:      *state.CompletedAt,
			EscalationReason: state.EscalationReason,
		},
	}

	if r.history != nil {
		if err := r.history.RecordResult(ctx, result); err != nil {
			r.logger.LogWarn(fmt.Sprintf("task %s: history record failed: %v", state.TaskID, err))
		}
	}

	r.logger.LogInfo(fmt.Sprintf("task %s: finished (success=%v, steps=%d, score=%.2f)",
		state.TaskID, result.Success, len(result.Steps), state.ProgressScore))
	return result
}
