// Package escalation converts the runtime's two escalation triggers (loop
// detected, confidence too low) into a single external gate-creation call.
// The controller never waits for gate resolution; escalation always
// terminates the current run.
package escalation

import (
	"context"
	"fmt"

	"github.com/harrison/steward/internal/models"
)

// Escalation reasons passed to the gate sink.
const (
	ReasonLoop          = "loop_detected"
	ReasonLowConfidence = "low_confidence"
)

// GateSink is the external human-approval gate service. Gate persistence
// and lifecycle live entirely behind this interface.
type GateSink interface {
	CreateGate(ctx context.Context, reason string, gateContext map[string]string, agentID string) (string, error)
}

// GateError wraps a gate sink failure with the reason that was being
// escalated.
type GateError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *GateError) Error() string {
	return fmt.Sprintf("create gate for %s: %v", e.Reason, e.Err)
}

// Unwrap returns the sink error.
func (e *GateError) Unwrap() error { return e.Err }

// Gateway is the thin boundary in front of the gate sink.
type Gateway struct {
	sink GateSink
}

// NewGateway creates a gateway around the given sink.
func NewGateway(sink GateSink) *Gateway {
	return &Gateway{sink: sink}
}

// EscalateLoop creates a gate for a detected failure loop and returns the
// human-readable escalation reason embedding the gate identifier. The
// reason is usable even when gate creation fails; the error reports the
// sink failure separately so the run still terminates escalated.
func (g *Gateway) EscalateLoop(ctx context.Context, state *models.TaskState, signature string, windowSize int) (string, error) {
	gateCtx := g.baseContext(state)
	gateCtx["failure_signature"] = signature
	gateCtx["window_size"] = fmt.Sprintf("%d", windowSize)

	gateID, err := g.createGate(ctx, ReasonLoop, gateCtx, state.AgentID)
	if err != nil {
		return fmt.Sprintf("Loop detected: %d identical consecutive failures (%s); gate creation failed", windowSize, signature), err
	}
	return fmt.Sprintf("Loop detected: %d identical consecutive failures (%s); awaiting gate %s", windowSize, signature, gateID), nil
}

// EscalateLowConfidence creates a gate for a confidence score below the
// configured threshold.
func (g *Gateway) EscalateLowConfidence(ctx context.Context, state *models.TaskState, score, threshold float64) (string, error) {
	gateCtx := g.baseContext(state)
	gateCtx["confidence_score"] = fmt.Sprintf("%.2f", score)
	gateCtx["confidence_threshold"] = fmt.Sprintf("%.2f", threshold)

	gateID, err := g.createGate(ctx, ReasonLowConfidence, gateCtx, state.AgentID)
	if err != nil {
		return fmt.Sprintf("Low confidence: score %.2f below threshold %.2f; gate creation failed", score, threshold), err
	}
	return fmt.Sprintf("Low confidence: score %.2f below threshold %.2f; awaiting gate %s", score, threshold, gateID), nil
}

func (g *Gateway) baseContext(state *models.TaskState) map[string]string {
	return map[string]string{
		"task_id":      state.TaskID,
		"project_id":   state.ProjectID,
		"goal":         state.Goal,
		"current_step": fmt.Sprintf("%d", state.CurrentStep),
	}
}

func (g *Gateway) createGate(ctx context.Context, reason string, gateCtx map[string]string, agentID string) (string, error) {
	if g.sink == nil {
		return "", &GateError{Reason: reason, Err: fmt.Errorf("no gate sink configured")}
	}
	gateID, err := g.sink.CreateGate(ctx, reason, gateCtx, agentID)
	if err != nil {
		return "", &GateError{Reason: reason, Err: err}
	}
	return gateID, nil
}
