package engine

import (
	"context"
	"fmt"

	"github.com/harrison/steward/internal/models"
)

// HandlerFunc adapts a function into an InternalHandler.
type HandlerFunc func(ctx context.Context, action models.Action, state *models.TaskState) (models.Result, error)

// HandleAction implements InternalHandler.
func (f HandlerFunc) HandleAction(ctx context.Context, action models.Action, state *models.TaskState) (models.Result, error) {
	return f(ctx, action, state)
}

// HandlerMux dispatches internal (non-tool) actions to named handlers by
// the action's operation. An unregistered operation yields an explicit
// not-implemented result rather than an error.
type HandlerMux struct {
	handlers map[string]InternalHandler
}

// NewHandlerMux creates an empty mux.
func NewHandlerMux() *HandlerMux {
	return &HandlerMux{handlers: map[string]InternalHandler{}}
}

// Handle registers a handler for an operation, replacing any previous one.
func (m *HandlerMux) Handle(operation string, h InternalHandler) {
	m.handlers[operation] = h
}

// HandleAction implements InternalHandler.
func (m *HandlerMux) HandleAction(ctx context.Context, action models.Action, state *models.TaskState) (models.Result, error) {
	h, ok := m.handlers[action.Operation]
	if !ok {
		return models.Result{
			Success: false,
			Error:   fmt.Sprintf("not implemented: no internal handler for operation %q", action.Operation),
		}, nil
	}
	return h.HandleAction(ctx, action, state)
}
