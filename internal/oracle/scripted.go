package oracle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/harrison/steward/internal/models"
)

// ErrScriptExhausted is returned by a scripted oracle whose action queue
// ran dry.
var ErrScriptExhausted = errors.New("oracle script exhausted")

// Scripted is a deterministic oracle driven by queued responses. Each
// queue is consumed one entry per call; when a queue still holds one
// entry, that entry is repeated for every further call. It is safe for
// concurrent use by independent tasks.
type Scripted struct {
	mu          sync.Mutex
	actions     []models.Action
	repeatLast  bool
	evaluations []*models.ValidationResult
	confidences []float64
	completions []string
}

// NewScripted creates an empty scripted oracle. With no queued responses
// it plans nothing, has no progress opinion, reports full confidence, and
// denies completion.
func NewScripted() *Scripted {
	return &Scripted{repeatLast: true}
}

// PlanActions queues planned actions in order.
func (s *Scripted) PlanActions(actions ...models.Action) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, actions...)
	return s
}

// Evaluations queues progress judgments; nil entries mean "no opinion".
func (s *Scripted) Evaluations(evaluations ...*models.ValidationResult) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluations = append(s.evaluations, evaluations...)
	return s
}

// Confidences queues confidence scores.
func (s *Scripted) Confidences(scores ...float64) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confidences = append(s.confidences, scores...)
	return s
}

// CompletionReplies queues completion-check answers.
func (s *Scripted) CompletionReplies(replies ...string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions = append(s.completions, replies...)
	return s
}

// SetRepeatLast controls whether a queue's final entry repeats forever
// (the default) or the queue errors out once consumed.
func (s *Scripted) SetRepeatLast(repeat bool) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repeatLast = repeat
	return s
}

// PlanNextAction pops the next scripted action.
func (s *Scripted) PlanNextAction(ctx context.Context, state *models.TaskState, previous *models.Action, previousResult *models.Result, attempt int) (models.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.actions) == 0 {
		return models.Action{}, ErrScriptExhausted
	}
	action := s.actions[0]
	if len(s.actions) > 1 || !s.repeatLast {
		s.actions = s.actions[1:]
	}
	return action, nil
}

// EvaluateProgress pops the next scripted judgment, or reports no opinion.
func (s *Scripted) EvaluateProgress(ctx context.Context, state *models.TaskState, result models.Result) (*models.ValidationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.evaluations) == 0 {
		return nil, nil
	}
	evaluation := s.evaluations[0]
	if len(s.evaluations) > 1 || !s.repeatLast {
		s.evaluations = s.evaluations[1:]
	}
	return evaluation, nil
}

// EvaluateConfidence pops the next scripted score, defaulting to full
// confidence.
func (s *Scripted) EvaluateConfidence(ctx context.Context, req ConfidenceRequest) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.confidences) == 0 {
		return 1.0, nil
	}
	score := s.confidences[0]
	if len(s.confidences) > 1 || !s.repeatLast {
		s.confidences = s.confidences[1:]
	}
	return score, nil
}

// CompletionCheck pops the next scripted reply, defaulting to "no".
func (s *Scripted) CompletionCheck(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.completions) == 0 {
		return "no", nil
	}
	reply := s.completions[0]
	if len(s.completions) > 1 || !s.repeatLast {
		s.completions = s.completions[1:]
	}
	return reply, nil
}

// IsAffirmative reports whether a completion-check reply confirms the
// task is done.
func IsAffirmative(reply string) bool {
	switch strings.ToLower(strings.TrimSpace(reply)) {
	case "yes", "y", "true", "complete", "completed", "done":
		return true
	default:
		return false
	}
}

// scriptFile is the on-disk shape of an oracle script.
type scriptFile struct {
	Actions []struct {
		Description string         `yaml:"description"`
		Tool        string         `yaml:"tool"`
		Operation   string         `yaml:"operation"`
		Parameters  map[string]any `yaml:"parameters"`
		Reasoning   string         `yaml:"reasoning"`
		Deliverable bool           `yaml:"deliverable"`
		Uncertain   bool           `yaml:"uncertain"`
	} `yaml:"actions"`
	Evaluations []*struct {
		Success bool               `yaml:"success"`
		Issues  []string           `yaml:"issues"`
		Metrics map[string]float64 `yaml:"metrics"`
	} `yaml:"evaluations"`
	Confidences []float64 `yaml:"confidences"`
	Completions []string  `yaml:"completions"`
}

// LoadScript reads a YAML oracle script from disk. Scripts are the replay
// harness behind `steward run`: they stand in for the external planner so
// a run is fully deterministic.
func LoadScript(path string) (*Scripted, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read oracle script: %w", err)
	}

	var file scriptFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse oracle script %s: %w", path, err)
	}

	s := NewScripted()
	for _, a := range file.Actions {
		action := models.Action{
			Description: a.Description,
			ToolName:    a.Tool,
			Operation:   a.Operation,
			Parameters:  a.Parameters,
			Reasoning:   a.Reasoning,
		}
		if a.Deliverable || a.Uncertain {
			action.Metadata = map[string]any{}
			if a.Deliverable {
				action.Metadata[models.MetaDeliverable] = true
			}
			if a.Uncertain {
				action.Metadata[models.MetaUncertain] = true
			}
		}
		s.PlanActions(action)
	}
	for _, e := range file.Evaluations {
		if e == nil {
			s.Evaluations(nil)
			continue
		}
		s.Evaluations(&models.ValidationResult{
			Success: e.Success,
			Issues:  e.Issues,
			Metrics: e.Metrics,
		})
	}
	s.Confidences(file.Confidences...)
	s.CompletionReplies(file.Completions...)
	return s, nil
}
