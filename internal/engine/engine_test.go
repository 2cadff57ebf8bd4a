package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/steward/internal/models"
)

// queuePlanner returns queued actions in order, repeating the last one
// once the queue is exhausted.
type queuePlanner struct {
	actions []models.Action
	calls   int
}

func (p *queuePlanner) PlanNextAction(ctx context.Context, state *models.TaskState, prev *models.Action, prevResult *models.Result, attempt int) (models.Action, error) {
	p.calls++
	if len(p.actions) == 0 {
		return models.Action{}, errors.New("planner queue empty")
	}
	action := p.actions[0]
	if len(p.actions) > 1 {
		p.actions = p.actions[1:]
	}
	return action, nil
}

// scriptedTools fails signatures listed in failing and records every
// executed request.
type scriptedTools struct {
	failing  map[string]string // tool name -> error text
	executed []ToolRequest
}

func (s *scriptedTools) ExecuteTool(ctx context.Context, req ToolRequest) (ToolResponse, error) {
	s.executed = append(s.executed, req)
	if msg, bad := s.failing[req.ToolName]; bad {
		return ToolResponse{Status: "error", Error: msg}, nil
	}
	return ToolResponse{Status: StatusSuccess, Result: "ok:" + req.ToolName}, nil
}

func newTestEngine(t *testing.T, planner Planner, tools ToolExecutor, internal InternalHandler, sleeps *[]time.Duration) *Engine {
	t.Helper()
	e, err := New(planner, tools, internal,
		WithBackoffBase(10*time.Millisecond),
		WithSleep(func(ctx context.Context, d time.Duration) {
			if sleeps != nil {
				*sleeps = append(*sleeps, d)
			}
		}),
	)
	require.NoError(t, err)
	return e
}

func testState() *models.TaskState {
	return models.NewTaskState(models.TaskSpec{TaskID: "t", ProjectID: "p", Goal: "g", MaxSteps: 10}, time.Now())
}

func TestRequiresPlanner(t *testing.T) {
	_, err := New(nil, nil, nil)
	assert.Error(t, err)
}

func TestFirstAttemptSuccessReturnsImmediately(t *testing.T) {
	planner := &queuePlanner{}
	tools := &scriptedTools{}
	e := newTestEngine(t, planner, tools, nil, nil)

	action := models.Action{Description: "fetch", ToolName: "http_get"}
	result, err := e.ExecuteWithRetry(context.Background(), action, testState())

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Attempt)
	assert.Zero(t, planner.calls, "no replanning on success")
	assert.Len(t, tools.executed, 1)
}

func TestRetryWithFreshPlanSucceeds(t *testing.T) {
	planner := &queuePlanner{actions: []models.Action{
		{Description: "write via editor", ToolName: "editor"},
	}}
	tools := &scriptedTools{failing: map[string]string{"broken_tool": "exit status 1"}}
	var sleeps []time.Duration
	e := newTestEngine(t, planner, tools, nil, &sleeps)

	action := models.Action{Description: "write", ToolName: "broken_tool"}
	result, err := e.ExecuteWithRetry(context.Background(), action, testState())

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Attempt)
	require.Len(t, sleeps, 1)
	assert.Equal(t, 20*time.Millisecond, sleeps[0], "the sleep after attempt 1 is base * 2^1")
}

func TestBackoffDoublesPerAttempt(t *testing.T) {
	planner := &queuePlanner{actions: []models.Action{
		{Description: "try b", ToolName: "broken_tool", Operation: "b"},
		{Description: "try c", ToolName: "broken_tool", Operation: "c"},
	}}
	tools := &scriptedTools{failing: map[string]string{"broken_tool": "exit status 1"}}
	var sleeps []time.Duration
	e := newTestEngine(t, planner, tools, nil, &sleeps)

	action := models.Action{Description: "try a", ToolName: "broken_tool", Operation: "a"}
	result, err := e.ExecuteWithRetry(context.Background(), action, testState())

	require.NoError(t, err, "exhausted attempts return the last result, not an error")
	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Attempt)
	require.Len(t, sleeps, 2)
	assert.Equal(t, 20*time.Millisecond, sleeps[0])
	assert.Equal(t, 40*time.Millisecond, sleeps[1])
}

func TestReplanCollisionRequestsAnotherPlan(t *testing.T) {
	duplicate := models.Action{Description: "same approach", ToolName: "broken_tool"}
	fresh := models.Action{Description: "different approach", ToolName: "editor"}
	planner := &queuePlanner{actions: []models.Action{duplicate, fresh}}
	tools := &scriptedTools{failing: map[string]string{"broken_tool": "exit status 1"}}
	e := newTestEngine(t, planner, tools, nil, nil)

	// First attempt uses the same signature the planner will echo back.
	result, err := e.ExecuteWithRetry(context.Background(), duplicate, testState())

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, planner.calls, "collision forces a second planning request")
}

func TestNeverExecutesDuplicateSignature(t *testing.T) {
	planner := &queuePlanner{actions: []models.Action{
		{Description: "try b", ToolName: "broken_tool", Operation: "b"},
		{Description: "try c", ToolName: "broken_tool", Operation: "c"},
	}}
	tools := &scriptedTools{failing: map[string]string{"broken_tool": "exit status 1"}}
	e := newTestEngine(t, planner, tools, nil, nil)

	action := models.Action{Description: "try a", ToolName: "broken_tool", Operation: "a"}
	_, err := e.ExecuteWithRetry(context.Background(), action, testState())
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, req := range tools.executed {
		key := fmt.Sprintf("%s|%s", req.ToolName, req.Operation)
		assert.False(t, seen[key], "signature %s executed twice in one retry sequence", key)
		seen[key] = true
	}
}

func TestReplanExhaustionIsExplicitFailure(t *testing.T) {
	// The planner keeps proposing the already-attempted action.
	stuck := models.Action{Description: "same approach", ToolName: "broken_tool"}
	planner := &queuePlanner{actions: []models.Action{stuck}}
	tools := &scriptedTools{failing: map[string]string{"broken_tool": "exit status 1"}}
	e := newTestEngine(t, planner, tools, nil, nil)

	result, err := e.ExecuteWithRetry(context.Background(), stuck, testState())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReplanExhausted))
	var exhausted *ReplanExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "t", exhausted.TaskID)
	assert.False(t, result.Success, "a failing result accompanies the error")
	assert.Contains(t, result.Error, "exit status 1", "the underlying failure text survives exhaustion")
	assert.Len(t, tools.executed, 1, "the stuck approach is executed only once")
}

func TestPlannerErrorDuringReplanPropagates(t *testing.T) {
	planner := &queuePlanner{} // empty queue -> planner error
	tools := &scriptedTools{failing: map[string]string{"broken_tool": "exit status 1"}}
	e := newTestEngine(t, planner, tools, nil, nil)

	result, err := e.ExecuteWithRetry(context.Background(), models.Action{Description: "a", ToolName: "broken_tool"}, testState())

	require.Error(t, err)
	assert.False(t, result.Success)
}

type echoHandler struct{ calls int }

func (h *echoHandler) HandleAction(ctx context.Context, action models.Action, state *models.TaskState) (models.Result, error) {
	h.calls++
	return models.Result{Success: true, Output: "handled:" + action.Description}, nil
}

func TestInternalActionDispatchedToHandler(t *testing.T) {
	handler := &echoHandler{}
	e := newTestEngine(t, &queuePlanner{}, &scriptedTools{}, handler, nil)

	result, err := e.ExecuteWithRetry(context.Background(), models.Action{Description: "summarize"}, testState())

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "handled:summarize", result.Output)
	assert.Equal(t, 1, handler.calls)
}

func TestInternalActionWithoutHandlerIsNotImplemented(t *testing.T) {
	planner := &queuePlanner{actions: []models.Action{
		{Description: "alternative a"},
		{Description: "alternative b"},
	}}
	e := newTestEngine(t, planner, nil, nil, nil)

	result, err := e.ExecuteWithRetry(context.Background(), models.Action{Description: "summarize"}, testState())

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "not implemented")
}

func TestToolTransportErrorBecomesFailedResult(t *testing.T) {
	failing := toolFunc(func(ctx context.Context, req ToolRequest) (ToolResponse, error) {
		return ToolResponse{}, errors.New("backend unreachable")
	})
	planner := &queuePlanner{actions: []models.Action{
		{Description: "b", ToolName: "x", Operation: "b"},
		{Description: "c", ToolName: "x", Operation: "c"},
	}}
	e := newTestEngine(t, planner, failing, nil, nil)

	result, err := e.ExecuteWithRetry(context.Background(), models.Action{Description: "a", ToolName: "x"}, testState())

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "backend unreachable")
}

type toolFunc func(ctx context.Context, req ToolRequest) (ToolResponse, error)

func (f toolFunc) ExecuteTool(ctx context.Context, req ToolRequest) (ToolResponse, error) {
	return f(ctx, req)
}
