package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/steward/internal/models"
)

type fakeEvaluator struct {
	result *models.ValidationResult
	err    error
	calls  int
}

func (f *fakeEvaluator) EvaluateProgress(ctx context.Context, state *models.TaskState, result models.Result) (*models.ValidationResult, error) {
	f.calls++
	return f.result, f.err
}

func newState() *models.TaskState {
	return models.NewTaskState(models.TaskSpec{TaskID: "t", Goal: "g", MaxSteps: 10}, time.Now())
}

func TestTestTierAllPassing(t *testing.T) {
	v := NewValidator(DefaultThresholds(), nil)

	result := models.Result{
		Success:  true,
		Metadata: map[string]any{"tests": map[string]any{"passed": 5, "failed": 0}},
	}
	vr := v.Validate(context.Background(), newState(), result)

	assert.True(t, vr.Success)
	assert.Equal(t, 1.0, vr.Metrics[models.MetricProgressScore])
	assert.Empty(t, vr.Issues)
}

func TestTestTierFailuresCapped(t *testing.T) {
	v := NewValidator(DefaultThresholds(), nil)

	result := models.Result{
		Metadata: map[string]any{"tests": map[string]any{"passed": 19, "failed": 1, "total": 20}},
	}
	vr := v.Validate(context.Background(), newState(), result)

	assert.False(t, vr.Success)
	// 19/20 = 0.95 would overstate progress; the tier cap holds it down.
	assert.Equal(t, 0.9, vr.Metrics[models.MetricProgressScore])
	require.Len(t, vr.Issues, 1)
	assert.Contains(t, vr.Issues[0], "1 of 20 tests failing")
}

func TestTestTierWinsOverArtifacts(t *testing.T) {
	v := NewValidator(DefaultThresholds(), nil)

	// Both signals present: the test-tier outcome must come back unmodified.
	result := models.Result{
		Success: true,
		Output:  "report.md written",
		Metadata: map[string]any{
			"tests":     map[string]any{"passed": 2, "failed": 3},
			"artifacts": []string{"report.md"},
		},
	}
	vr := v.Validate(context.Background(), newState(), result)

	assert.False(t, vr.Success)
	assert.Equal(t, 0.4, vr.Metrics[models.MetricProgressScore])
	assert.Zero(t, vr.Metrics[models.MetricArtifactCount], "artifact tier must not contribute")
}

func TestTestCountsFromTaskMetrics(t *testing.T) {
	v := NewValidator(DefaultThresholds(), nil)

	state := newState()
	state.MergeMetrics(map[string]float64{
		models.MetricTestsPassed: 4,
		models.MetricTestsFailed: 0,
		models.MetricTestsTotal:  4,
	})
	vr := v.Validate(context.Background(), state, models.Result{Success: true})

	assert.True(t, vr.Success)
	assert.Equal(t, 1.0, vr.Metrics[models.MetricProgressScore])
}

func TestArtifactTierFixedScore(t *testing.T) {
	v := NewValidator(DefaultThresholds(), nil)

	result := models.Result{
		Success:  true,
		Metadata: map[string]any{"artifacts": []string{"a.md", "b.md"}},
	}
	vr := v.Validate(context.Background(), newState(), result)

	assert.True(t, vr.Success)
	assert.Equal(t, 0.7, vr.Metrics[models.MetricProgressScore])
	assert.Equal(t, 2.0, vr.Metrics[models.MetricArtifactCount])
}

func TestArtifactTierFromOutput(t *testing.T) {
	v := NewValidator(DefaultThresholds(), nil)

	vr := v.Validate(context.Background(), newState(), models.Result{Success: true, Output: "summary text"})

	assert.True(t, vr.Success)
	assert.Equal(t, 0.7, vr.Metrics[models.MetricProgressScore])
}

func TestArtifactTierExplicitZeroFails(t *testing.T) {
	v := NewValidator(DefaultThresholds(), nil)

	result := models.Result{Metadata: map[string]any{"artifacts": 0}}
	vr := v.Validate(context.Background(), newState(), result)

	assert.False(t, vr.Success)
	assert.Contains(t, vr.Issues, "no artifacts produced")
}

func TestOracleTierVerbatim(t *testing.T) {
	oracle := &fakeEvaluator{result: &models.ValidationResult{
		Success: true,
		Metrics: map[string]float64{models.MetricProgressScore: 0.55},
	}}
	v := NewValidator(DefaultThresholds(), oracle)

	vr := v.Validate(context.Background(), newState(), models.Result{Success: true})

	assert.Equal(t, 1, oracle.calls)
	assert.True(t, vr.Success)
	assert.Equal(t, 0.55, vr.Metrics[models.MetricProgressScore])
}

func TestOracleTierSkippedWhenDeterministicDataExists(t *testing.T) {
	oracle := &fakeEvaluator{result: &models.ValidationResult{Success: false}}
	v := NewValidator(DefaultThresholds(), oracle)

	result := models.Result{
		Metadata: map[string]any{"tests": map[string]any{"passed": 1, "failed": 0}},
	}
	v.Validate(context.Background(), newState(), result)

	assert.Zero(t, oracle.calls, "oracle must not be consulted when tier 1 has data")
}

func TestBareResultFallback(t *testing.T) {
	// Oracle errors count as "no opinion".
	oracle := &fakeEvaluator{err: errors.New("oracle unavailable")}
	v := NewValidator(DefaultThresholds(), oracle)

	ok := v.Validate(context.Background(), newState(), models.Result{Success: true})
	assert.True(t, ok.Success)
	assert.Equal(t, 1.0, ok.Metrics[models.MetricProgressScore])

	failed := v.Validate(context.Background(), newState(), models.Result{Error: "exit status 1"})
	assert.False(t, failed.Success)
	assert.Equal(t, []string{"exit status 1"}, failed.Issues)
}

func TestConfiguredThresholds(t *testing.T) {
	v := NewValidator(Thresholds{TestTierCap: 0.8, ArtifactTierScore: 0.5}, nil)

	result := models.Result{
		Metadata: map[string]any{"tests": map[string]any{"passed": 9, "failed": 1}},
	}
	vr := v.Validate(context.Background(), newState(), result)
	assert.Equal(t, 0.8, vr.Metrics[models.MetricProgressScore])

	artifact := v.Validate(context.Background(), newState(), models.Result{Success: true, Output: "x"})
	assert.Equal(t, 0.5, artifact.Metrics[models.MetricProgressScore])
}
