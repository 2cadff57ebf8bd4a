package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskSpecNormalizeDefaults(t *testing.T) {
	spec := TaskSpec{Goal: "ship the report"}
	spec.Normalize()

	assert.NotEmpty(t, spec.TaskID, "expected generated task ID")
	assert.Equal(t, DefaultMaxSteps, spec.MaxSteps)
	assert.NotNil(t, spec.Constraints)
}

func TestTaskSpecNormalizeKeepsExplicitValues(t *testing.T) {
	spec := TaskSpec{TaskID: "t-1", Goal: "g", MaxSteps: 3}
	spec.Normalize()

	assert.Equal(t, "t-1", spec.TaskID)
	assert.Equal(t, 3, spec.MaxSteps)
}

func TestTaskSpecValidate(t *testing.T) {
	spec := TaskSpec{}
	require.Error(t, spec.Validate())

	spec.Goal = "do something"
	require.NoError(t, spec.Validate())
}

func TestActionSignatureDeterministic(t *testing.T) {
	a := Action{
		Description: "write summary",
		ToolName:    "write_file",
		Operation:   "create",
		Parameters:  map[string]any{"path": "out.md", "mode": 0o644},
	}
	b := Action{
		Description: "write summary",
		ToolName:    "write_file",
		Operation:   "create",
		Parameters:  map[string]any{"mode": 0o644, "path": "out.md"},
	}

	assert.Equal(t, a.Signature(), b.Signature(), "signature must not depend on map iteration order")
}

func TestActionSignatureDistinguishesParameters(t *testing.T) {
	a := Action{Description: "d", ToolName: "t", Parameters: map[string]any{"path": "a"}}
	b := Action{Description: "d", ToolName: "t", Parameters: map[string]any{"path": "b"}}

	assert.NotEqual(t, a.Signature(), b.Signature())
}

func TestActionHighSignal(t *testing.T) {
	assert.True(t, Action{ToolName: "write_file"}.IsHighSignal())
	assert.False(t, Action{ToolName: "read_file"}.IsHighSignal())
	assert.True(t, Action{Metadata: map[string]any{MetaDeliverable: true}}.IsHighSignal())
}

func TestValidationResultErrorSignature(t *testing.T) {
	failed := ValidationResult{Issues: []string{"b failed", "a failed"}}
	assert.Equal(t, "a failed; b failed", failed.ErrorSignature(), "issues are sorted before joining")

	passed := ValidationResult{Success: true, Issues: []string{"stale"}}
	assert.Empty(t, passed.ErrorSignature())
}

func TestTaskStateRecordErrorBounded(t *testing.T) {
	state := NewTaskState(TaskSpec{TaskID: "t", Goal: "g", MaxSteps: 5}, time.Now())
	state.SetLastErrorsCap(3)

	state.RecordError("") // ignored
	for _, sig := range []string{"a", "b", "c", "d"} {
		state.RecordError(sig)
	}

	assert.Equal(t, []string{"b", "c", "d"}, state.LastErrors, "oldest entries drop past capacity")
	assert.Equal(t, "d", state.LastError())
}

func TestTaskStateProgressMonotonic(t *testing.T) {
	state := NewTaskState(TaskSpec{TaskID: "t", Goal: "g", MaxSteps: 5}, time.Now())

	state.RaiseProgress(0.7)
	state.RaiseProgress(0.3)
	assert.Equal(t, 0.7, state.ProgressScore)

	state.RaiseProgress(1.0)
	assert.Equal(t, 1.0, state.ProgressScore)
}

func TestTaskStateCriteriaMet(t *testing.T) {
	noCriteria := NewTaskState(TaskSpec{TaskID: "t", Goal: "g", MaxSteps: 5}, time.Now())
	assert.False(t, noCriteria.CriteriaMet())
	noCriteria.RaiseProgress(1.0)
	assert.True(t, noCriteria.CriteriaMet())

	withCriteria := NewTaskState(TaskSpec{
		TaskID:             "t",
		Goal:               "g",
		MaxSteps:           5,
		AcceptanceCriteria: []string{"one", "two"},
	}, time.Now())
	withCriteria.RaiseProgress(1.0)
	assert.False(t, withCriteria.CriteriaMet(), "explicit criteria are not satisfied by score alone")

	withCriteria.MergeMetrics(map[string]float64{MetricCriteriaCompleted: 2})
	assert.True(t, withCriteria.CriteriaMet())
}

func TestTaskStateFinalizeOnce(t *testing.T) {
	state := NewTaskState(TaskSpec{TaskID: "t", Goal: "g", MaxSteps: 5}, time.Now())

	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	state.Finalize(first)
	state.Finalize(first.Add(time.Hour))

	require.NotNil(t, state.CompletedAt)
	assert.Equal(t, first, *state.CompletedAt)
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name      string
		signature string
		previous  string
		want      FailureClass
	}{
		{"first failure is internal", "assertion failed", "", FailureInternal},
		{"repeat is internal", "assertion failed", "assertion failed", FailureInternal},
		{"differing signature is degrading", "type error", "assertion failed", FailureDegrading},
		{"timeout is external", "request timed out after 30s", "request timed out after 30s", FailureExternal},
		{"upstream 503 is external", "upstream returned 503", "", FailureExternal},
		{"connectivity is external", "connection refused by broker", "other", FailureExternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyFailure(tt.signature, tt.previous))
		})
	}
}

func TestUsageFromMetadata(t *testing.T) {
	u := UsageFromMetadata(map[string]any{
		"input_tokens":  int64(120),
		"output_tokens": 30,
		"cost_usd":      0.0042,
	})

	assert.Equal(t, int64(120), u.InputTokens)
	assert.Equal(t, int64(30), u.OutputTokens)
	assert.Equal(t, 0.0042, u.CostUSD)

	assert.Equal(t, Usage{}, UsageFromMetadata(nil))
}
