// Package progress judges whether an iteration made real progress without
// trusting the planner's self-report. Signals are consulted in strict
// priority order and the first tier with data wins; tiers are never
// blended or averaged.
package progress

import (
	"context"
	"fmt"

	"github.com/harrison/steward/internal/models"
)

// Evaluator is the slice of the planning oracle the validator needs: its
// own progress judgment, used only when no deterministic signal exists.
// A nil result with a nil error means the oracle has no opinion.
type Evaluator interface {
	EvaluateProgress(ctx context.Context, state *models.TaskState, result models.Result) (*models.ValidationResult, error)
}

// Thresholds names the score ceilings of the deterministic tiers. They are
// configuration, not hard-coded literals: artifact-backed progress is
// deliberately capped below the test-verified ceiling because artifacts
// prove activity, not correctness.
type Thresholds struct {
	// TestTierCap bounds the score of a failing test run (passed/total is
	// never reported as fully done).
	TestTierCap float64
	// ArtifactTierScore is the fixed score of artifact-backed progress.
	ArtifactTierScore float64
}

// DefaultThresholds returns the standard tier ceilings.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TestTierCap:       0.9,
		ArtifactTierScore: 0.7,
	}
}

// Validator applies the tiered progress decision:
//
//  1. test metrics (externally verifiable, highest trust)
//  2. artifact production
//  3. the oracle's own judgment
//  4. the raw action result
type Validator struct {
	thresholds Thresholds
	oracle     Evaluator
}

// NewValidator creates a validator. oracle may be nil, in which case the
// oracle tier is skipped entirely.
func NewValidator(thresholds Thresholds, oracle Evaluator) *Validator {
	if thresholds.TestTierCap <= 0 {
		thresholds.TestTierCap = DefaultThresholds().TestTierCap
	}
	if thresholds.ArtifactTierScore <= 0 {
		thresholds.ArtifactTierScore = DefaultThresholds().ArtifactTierScore
	}
	return &Validator{thresholds: thresholds, oracle: oracle}
}

// Validate returns the validator's judgment of one iteration.
func (v *Validator) Validate(ctx context.Context, state *models.TaskState, result models.Result) models.ValidationResult {
	if counts, ok := extractTestCounts(result, state); ok {
		return v.testTier(counts)
	}

	if count, ok := extractArtifactCount(result, state); ok {
		return v.artifactTier(count)
	}

	if v.oracle != nil {
		if vr, err := v.oracle.EvaluateProgress(ctx, state, result); err == nil && vr != nil {
			// The oracle's judgment is returned verbatim.
			return *vr
		}
	}

	return bareResultTier(result)
}

type testCounts struct {
	passed int
	failed int
	total  int
}

// extractTestCounts looks for pass/fail test counts in the result metadata
// first, then in the task's accumulated metrics. Counts with a zero total
// are not data.
func extractTestCounts(result models.Result, state *models.TaskState) (testCounts, bool) {
	if tests, ok := result.Metadata["tests"].(map[string]any); ok {
		counts := testCounts{
			passed: intFromAny(tests["passed"]),
			failed: intFromAny(tests["failed"]),
			total:  intFromAny(tests["total"]),
		}
		if counts.total == 0 {
			counts.total = counts.passed + counts.failed
		}
		if counts.total > 0 {
			return counts, true
		}
	}

	if state != nil {
		counts := testCounts{
			passed: int(state.ProgressMetrics[models.MetricTestsPassed]),
			failed: int(state.ProgressMetrics[models.MetricTestsFailed]),
			total:  int(state.ProgressMetrics[models.MetricTestsTotal]),
		}
		if counts.total == 0 {
			counts.total = counts.passed + counts.failed
		}
		if counts.total > 0 {
			return counts, true
		}
	}

	return testCounts{}, false
}

func (v *Validator) testTier(counts testCounts) models.ValidationResult {
	metrics := map[string]float64{
		models.MetricTestsPassed: float64(counts.passed),
		models.MetricTestsFailed: float64(counts.failed),
		models.MetricTestsTotal:  float64(counts.total),
	}

	if counts.failed == 0 && counts.total > 0 {
		metrics[models.MetricProgressScore] = 1.0
		return models.ValidationResult{Success: true, Metrics: metrics}
	}

	score := float64(counts.passed) / float64(counts.total)
	if score > v.thresholds.TestTierCap {
		score = v.thresholds.TestTierCap
	}
	metrics[models.MetricProgressScore] = score
	return models.ValidationResult{
		Success: false,
		Issues:  []string{fmt.Sprintf("%d of %d tests failing", counts.failed, counts.total)},
		Metrics: metrics,
	}
}

// extractArtifactCount reports whether any artifact signal exists: an
// explicit artifact list or count in the result metadata, output produced
// by a successful action, or entries already accumulated in the task's
// artifact map.
func extractArtifactCount(result models.Result, state *models.TaskState) (int, bool) {
	if raw, present := result.Metadata["artifacts"]; present {
		switch artifacts := raw.(type) {
		case []any:
			return len(artifacts), true
		case []string:
			return len(artifacts), true
		case map[string]any:
			return len(artifacts), true
		default:
			return intFromAny(raw), true
		}
	}

	if result.Success && result.Output != "" {
		return 1, true
	}

	if state != nil && len(state.Artifacts) > 0 {
		return len(state.Artifacts), true
	}

	return 0, false
}

func (v *Validator) artifactTier(count int) models.ValidationResult {
	metrics := map[string]float64{
		models.MetricArtifactCount: float64(count),
	}

	if count > 0 {
		metrics[models.MetricProgressScore] = v.thresholds.ArtifactTierScore
		return models.ValidationResult{Success: true, Metrics: metrics}
	}

	metrics[models.MetricProgressScore] = 0
	return models.ValidationResult{
		Success: false,
		Issues:  []string{"no artifacts produced"},
		Metrics: metrics,
	}
}

// bareResultTier mirrors the raw action result when no other signal is
// available.
func bareResultTier(result models.Result) models.ValidationResult {
	if result.Success {
		return models.ValidationResult{
			Success: true,
			Metrics: map[string]float64{models.MetricProgressScore: 1.0},
		}
	}

	issue := result.Error
	if issue == "" {
		issue = "action failed without error detail"
	}
	return models.ValidationResult{
		Success: false,
		Issues:  []string{issue},
		Metrics: map[string]float64{models.MetricProgressScore: 0},
	}
}

func intFromAny(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
