package models

import (
	"sort"
	"strings"
	"time"
)

// Result is the outcome of one execution attempt of one action. Created
// once per attempt and tagged with the attempt number.
type Result struct {
	Success  bool
	Output   string
	Error    string
	Metadata map[string]any
	Attempt  int
	Duration time.Duration
}

// ValidationResult is the progress validator's independent judgment of one
// iteration. Created once per iteration.
type ValidationResult struct {
	Success bool
	Issues  []string
	Metrics map[string]float64
}

// ErrorSignature returns the deterministic fingerprint of a failed
// validation: the issues sorted and joined. Successful validations have an
// empty signature.
func (v ValidationResult) ErrorSignature() string {
	if v.Success || len(v.Issues) == 0 {
		return ""
	}
	issues := make([]string, len(v.Issues))
	copy(issues, v.Issues)
	sort.Strings(issues)
	return strings.Join(issues, "; ")
}

// Usage carries the token and cost counters accumulated by one step.
// Populated from result metadata when the tool backend reports them.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// Add folds another usage sample into the counters.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CostUSD += other.CostUSD
}

// UsageFromMetadata extracts usage counters from result metadata, reading
// the keys the tool backend reports ("input_tokens", "output_tokens",
// "cost_usd"). Missing or mistyped keys count as zero.
func UsageFromMetadata(metadata map[string]any) Usage {
	var u Usage
	if metadata == nil {
		return u
	}
	u.InputTokens = int64FromAny(metadata["input_tokens"])
	u.OutputTokens = int64FromAny(metadata["output_tokens"])
	if cost, ok := metadata["cost_usd"].(float64); ok {
		u.CostUSD = cost
	}
	return u
}

func int64FromAny(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// Step is the immutable record of one completed iteration: the action that
// was planned, the result of executing it, the validator's judgment, and
// the usage it consumed. Steps are appended to the task history and never
// edited afterwards.
type Step struct {
	Number     int
	Action     Action
	Result     Result
	Validation ValidationResult
	Timestamp  time.Time
	Cost       Usage
}

// TaskResultMeta carries the timestamps and escalation context of a
// finalized task.
type TaskResultMeta struct {
	StartedAt        time.Time
	CompletedAt      time.Time
	EscalationReason string
}

// TaskResult is the finalized output of one task run.
type TaskResult struct {
	TaskID     string
	Success    bool
	Steps      []Step
	Artifacts  map[string]string
	Reasoning  []string
	Confidence *float64
	Errors     []string
	Metadata   TaskResultMeta
}
