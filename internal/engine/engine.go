// Package engine executes one planned action with bounded retries,
// replanning between attempts so a previously tried approach is never
// silently repeated.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/harrison/steward/internal/models"
)

// DefaultMaxRetries bounds both the execution attempts for one step and
// the replanning tries between attempts.
const DefaultMaxRetries = 3

// DefaultBackoffBase is the unit of the exponential backoff between
// attempts (base * 2^attempt).
const DefaultBackoffBase = time.Second

// ErrReplanExhausted is returned when the planner cannot produce a fresh
// action signature within the replanning bound. It is fatal to the step,
// not to the task: the controller receives it alongside a failing result
// and routes it through the normal failure path.
var ErrReplanExhausted = errors.New("replanning exhausted without a fresh action")

// ReplanExhaustedError carries the signature the planner kept repeating.
type ReplanExhaustedError struct {
	TaskID    string
	Signature string
	Tries     int
}

// Error implements the error interface.
func (e *ReplanExhaustedError) Error() string {
	return fmt.Sprintf("task %s: no fresh plan after %d replanning tries (stuck on signature %q)", e.TaskID, e.Tries, e.Signature)
}

// Unwrap lets errors.Is match ErrReplanExhausted.
func (e *ReplanExhaustedError) Unwrap() error { return ErrReplanExhausted }

// Planner is the slice of the oracle the engine needs: a fresh plan given
// the failed action and its result.
type Planner interface {
	PlanNextAction(ctx context.Context, state *models.TaskState, previous *models.Action, previousResult *models.Result, attempt int) (models.Action, error)
}

// ToolRequest is the payload sent to the tool-execution backend for a
// tool-backed action.
type ToolRequest struct {
	ToolName   string
	Operation  string
	Parameters map[string]any
	ProjectID  string
	TaskID     string
}

// ToolResponse is the backend's answer. Status "success" with an empty
// Error field marks a successful execution.
type ToolResponse struct {
	Status   string
	Result   string
	Error    string
	Metadata map[string]any
}

// StatusSuccess is the tool backend's success status.
const StatusSuccess = "success"

// ToolExecutor is the permission-checked, audited tool-execution backend.
// Only tool-backed actions go through it and produce an audit record.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, req ToolRequest) (ToolResponse, error)
}

// InternalHandler executes actions that carry no tool name. These are
// agent-specific and are not separately audited by the engine.
type InternalHandler interface {
	HandleAction(ctx context.Context, action models.Action, state *models.TaskState) (models.Result, error)
}

// Engine runs one action with bounded retries and replan-on-collision.
type Engine struct {
	planner     Planner
	tools       ToolExecutor
	internal    InternalHandler
	maxRetries  int
	backoffBase time.Duration

	// sleep is swapped out in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration)

	clock func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxRetries overrides the attempt and replanning bound.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// WithBackoffBase overrides the backoff unit.
func WithBackoffBase(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.backoffBase = d
		}
	}
}

// WithSleep overrides the sleep function (tests).
func WithSleep(fn func(ctx context.Context, d time.Duration)) Option {
	return func(e *Engine) { e.sleep = fn }
}

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) { e.clock = fn }
}

// New creates an engine. planner is required; tools and internal may be
// nil when the corresponding action kind is never planned.
func New(planner Planner, tools ToolExecutor, internal InternalHandler, opts ...Option) (*Engine, error) {
	if planner == nil {
		return nil, errors.New("engine requires a planner")
	}

	e := &Engine{
		planner:     planner,
		tools:       tools,
		internal:    internal,
		maxRetries:  DefaultMaxRetries,
		backoffBase: DefaultBackoffBase,
		sleep:       sleepContext,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ExecuteWithRetry executes the action, retrying up to the configured
// bound. It returns on the first successful attempt. Between failed
// attempts it sleeps an exponential backoff and requests a fresh plan; a
// plan whose signature was already attempted in this sequence triggers
// another replanning request. Exhausting the replanning bound returns the
// last failing result together with a ReplanExhaustedError. Exhausting all
// attempts returns the last result unchanged with a nil error; the caller
// interprets a still-failing result.
func (e *Engine) ExecuteWithRetry(ctx context.Context, action models.Action, state *models.TaskState) (models.Result, error) {
	attempted := map[string]bool{}
	current := action

	bo := backoff.NewExponentialBackOff()
	// The sleep after attempt n is base * 2^n, attempts counted from 1.
	bo.InitialInterval = 2 * e.backoffBase
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = e.backoffBase << 16
	bo.MaxElapsedTime = 0
	bo.Reset()

	var last models.Result
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		attempted[current.Signature()] = true

		last = e.executeOnce(ctx, current, state, attempt)
		if last.Success {
			return last, nil
		}

		if attempt == e.maxRetries {
			break
		}

		e.sleep(ctx, bo.NextBackOff())

		next, err := e.replan(ctx, current, last, state, attempted, attempt)
		if err != nil {
			// The last result keeps the underlying failure text; callers
			// classify and loop-detect on that, not on the replan error.
			return last, err
		}
		current = next
	}

	return last, nil
}

// replan requests fresh plans until one with an unattempted signature
// appears, bounded by maxRetries additional tries.
func (e *Engine) replan(ctx context.Context, failed models.Action, failedResult models.Result, state *models.TaskState, attempted map[string]bool, attempt int) (models.Action, error) {
	var lastSignature string
	for try := 0; try < e.maxRetries; try++ {
		next, err := e.planner.PlanNextAction(ctx, state, &failed, &failedResult, attempt+try)
		if err != nil {
			return models.Action{}, fmt.Errorf("replanning after failed attempt %d: %w", attempt, err)
		}

		lastSignature = next.Signature()
		if !attempted[lastSignature] {
			return next, nil
		}
	}

	return models.Action{}, &ReplanExhaustedError{
		TaskID:    state.TaskID,
		Signature: lastSignature,
		Tries:     e.maxRetries,
	}
}

// executeOnce dispatches one attempt: tool-backed actions go to the tool
// backend, everything else to the internal handler.
func (e *Engine) executeOnce(ctx context.Context, action models.Action, state *models.TaskState, attempt int) models.Result {
	start := e.clock()

	var result models.Result
	if action.IsToolAction() {
		result = e.executeTool(ctx, action, state)
	} else {
		result = e.executeInternal(ctx, action, state)
	}

	result.Attempt = attempt
	result.Duration = e.clock().Sub(start)
	return result
}

func (e *Engine) executeTool(ctx context.Context, action models.Action, state *models.TaskState) models.Result {
	if e.tools == nil {
		return models.Result{Success: false, Error: "no tool execution backend configured"}
	}

	resp, err := e.tools.ExecuteTool(ctx, ToolRequest{
		ToolName:   action.ToolName,
		Operation:  action.Operation,
		Parameters: action.Parameters,
		ProjectID:  state.ProjectID,
		TaskID:     state.TaskID,
	})
	if err != nil {
		return models.Result{Success: false, Error: err.Error()}
	}

	return models.Result{
		Success:  resp.Status == StatusSuccess && resp.Error == "",
		Output:   resp.Result,
		Error:    resp.Error,
		Metadata: resp.Metadata,
	}
}

func (e *Engine) executeInternal(ctx context.Context, action models.Action, state *models.TaskState) models.Result {
	if e.internal == nil {
		return models.Result{
			Success: false,
			Error:   fmt.Sprintf("not implemented: no internal handler for action %q", action.Description),
		}
	}

	result, err := e.internal.HandleAction(ctx, action, state)
	if err != nil {
		return models.Result{Success: false, Error: err.Error()}
	}
	return result
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
