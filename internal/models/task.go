// Package models defines the records that describe one task's full
// iteration history: the task state mutated by the execution loop, the
// planned actions, their results, and the finalized task output.
package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxSteps is the iteration ceiling applied when a task spec does
// not set one.
const DefaultMaxSteps = 20

// DefaultLastErrorsCap bounds the task's rolling error-signature log.
const DefaultLastErrorsCap = 10

// TaskSpec is the caller-supplied description of a unit of work. It is the
// single boundary type: loosely-shaped inputs (YAML briefs, Markdown briefs,
// API payloads) are normalized into a TaskSpec before the runtime sees them.
type TaskSpec struct {
	TaskID             string            `yaml:"task_id"`
	ProjectID          string            `yaml:"project_id"`
	AgentID            string            `yaml:"agent_id"`
	Goal               string            `yaml:"goal"`
	AcceptanceCriteria []string          `yaml:"acceptance_criteria"`
	Constraints        map[string]string `yaml:"constraints"`
	MaxSteps           int               `yaml:"max_steps"`
}

// Normalize applies defaults: a generated task ID when none is supplied,
// an empty goal rather than a nil-ish one, and the default step ceiling.
func (s *TaskSpec) Normalize() {
	if s.TaskID == "" {
		s.TaskID = uuid.NewString()
	}
	if s.MaxSteps <= 0 {
		s.MaxSteps = DefaultMaxSteps
	}
	if s.Constraints == nil {
		s.Constraints = map[string]string{}
	}
}

// Validate checks that the spec describes a runnable task.
func (s *TaskSpec) Validate() error {
	if s.Goal == "" && len(s.AcceptanceCriteria) == 0 {
		return errors.New("task spec requires a goal or acceptance criteria")
	}
	if s.MaxSteps < 0 {
		return errors.New("max_steps must not be negative")
	}
	return nil
}

// TaskState is the full mutable record of one running task. It is owned
// exclusively by the controller driving that task; no other component
// mutates it. Steps is append-only and CurrentStep advances by exactly one
// per completed iteration, so len(Steps) == CurrentStep holds at every
// inspection point between iterations.
type TaskState struct {
	TaskID             string
	AgentID            string
	ProjectID          string
	Goal               string
	AcceptanceCriteria []string
	Constraints        map[string]string

	CurrentStep int
	MaxSteps    int
	StartedAt   time.Time
	CompletedAt *time.Time

	Steps     []Step
	Artifacts map[string]string

	FailureCount        int
	LastErrors          []string
	lastErrorsCap       int
	ConsecutiveFailures int

	ProgressScore     float64
	ProgressMetrics   map[string]float64
	DecisionReasoning []string

	EscalationTriggered bool
	EscalationReason    string
	TimeoutReached      bool
	ResourceLimitHit    bool

	LastConfidenceCheckStep int
	LastConfidenceScore     *float64
}

// NewTaskState creates the state record for one task from a normalized spec.
// Created exactly once per task at loop start.
func NewTaskState(spec TaskSpec, startedAt time.Time) *TaskState {
	return &TaskState{
		TaskID:             spec.TaskID,
		AgentID:            spec.AgentID,
		ProjectID:          spec.ProjectID,
		Goal:               spec.Goal,
		AcceptanceCriteria: append([]string(nil), spec.AcceptanceCriteria...),
		Constraints:        spec.Constraints,
		MaxSteps:           spec.MaxSteps,
		StartedAt:          startedAt,
		Artifacts:          map[string]string{},
		lastErrorsCap:      DefaultLastErrorsCap,
		ProgressMetrics:    map[string]float64{},
	}
}

// SetLastErrorsCap overrides the bound on the rolling error log. Values
// below one keep the default.
func (t *TaskState) SetLastErrorsCap(cap int) {
	if cap >= 1 {
		t.lastErrorsCap = cap
	}
}

// RecordError appends a failure signature to the bounded error log,
// silently dropping the oldest entry past capacity. Empty signatures are
// ignored so they never displace real ones.
func (t *TaskState) RecordError(signature string) {
	if signature == "" {
		return
	}
	t.LastErrors = append(t.LastErrors, signature)
	if len(t.LastErrors) > t.lastErrorsCap {
		t.LastErrors = t.LastErrors[len(t.LastErrors)-t.lastErrorsCap:]
	}
}

// LastError returns the most recently recorded failure signature, or ""
// when none has been recorded.
func (t *TaskState) LastError() string {
	if len(t.LastErrors) == 0 {
		return ""
	}
	return t.LastErrors[len(t.LastErrors)-1]
}

// RaiseProgress lifts the progress score to the given value if it is
// higher. The score is monotonically non-decreasing across the task's
// lifetime; lower readings never pull it back down.
func (t *TaskState) RaiseProgress(score float64) {
	if score > t.ProgressScore {
		t.ProgressScore = score
	}
}

// MergeMetrics folds iteration-level metrics into the task-level metric
// map, newest value winning per key.
func (t *TaskState) MergeMetrics(metrics map[string]float64) {
	for k, v := range metrics {
		t.ProgressMetrics[k] = v
	}
}

// AddReasoning appends an entry to the decision-reasoning trail.
func (t *TaskState) AddReasoning(entry string) {
	if entry != "" {
		t.DecisionReasoning = append(t.DecisionReasoning, entry)
	}
}

// CriteriaMet reports whether the task's acceptance criteria are satisfied:
// either no explicit criteria were supplied and the progress score has
// reached 1.0, or the completed-criteria metric covers every criterion.
func (t *TaskState) CriteriaMet() bool {
	if len(t.AcceptanceCriteria) == 0 {
		return t.ProgressScore >= 1.0
	}
	return t.ProgressMetrics[MetricCriteriaCompleted] >= float64(len(t.AcceptanceCriteria))
}

// Finalize stamps the completion time exactly once. The state is treated
// as immutable from then on.
func (t *TaskState) Finalize(completedAt time.Time) {
	if t.CompletedAt == nil {
		ts := completedAt
		t.CompletedAt = &ts
	}
}

// Metric keys shared between the validator, the oracle contract, and the
// controller. Oracles signal through these keys in validation metrics.
const (
	MetricProgressScore          = "progress_score"
	MetricTestsPassed            = "tests_passed"
	MetricTestsFailed            = "tests_failed"
	MetricTestsTotal             = "tests_total"
	MetricArtifactCount          = "artifact_count"
	MetricCriteriaCompleted      = "criteria_completed"
	MetricConfidenceCheckRequest = "confidence_check_requested"
	MetricUncertainty            = "uncertainty"
)
