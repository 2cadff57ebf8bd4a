// Package tools is a small local tool backend: a registry of named tools
// dispatched by the execution engine. It stands in for the platform's
// remote, permission-checked backend during local runs; the registry only
// ever touches files under its own workspace directory.
package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harrison/steward/internal/engine"
	"github.com/harrison/steward/internal/filelock"
)

// Tool executes one named capability.
type Tool interface {
	Name() string
	Execute(ctx context.Context, params map[string]any) (output string, err error)
}

// Registry dispatches tool requests to registered tools. It implements
// the engine's tool-backend contract.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Names returns the registered tool names, for diagnostics.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// ExecuteTool implements engine.ToolExecutor.
func (r *Registry) ExecuteTool(ctx context.Context, req engine.ToolRequest) (engine.ToolResponse, error) {
	tool, ok := r.tools[req.ToolName]
	if !ok {
		return engine.ToolResponse{
			Status: "error",
			Error:  fmt.Sprintf("unknown tool %q", req.ToolName),
		}, nil
	}

	output, err := tool.Execute(ctx, req.Parameters)
	if err != nil {
		return engine.ToolResponse{Status: "error", Error: err.Error()}, nil
	}
	return engine.ToolResponse{Status: engine.StatusSuccess, Result: output}, nil
}

// NewLocalRegistry returns a registry with the built-in local tools
// rooted at the given workspace directory.
func NewLocalRegistry(workspace string) *Registry {
	r := NewRegistry()
	r.Register(EchoTool{})
	r.Register(WriteFileTool{Workspace: workspace})
	r.Register(ReadFileTool{Workspace: workspace})
	return r
}

// EchoTool returns its "text" parameter unchanged.
type EchoTool struct{}

// Name implements Tool.
func (EchoTool) Name() string { return "echo" }

// Execute implements Tool.
func (EchoTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	text, _ := params["text"].(string)
	return text, nil
}

// WriteFileTool writes "content" to "path" inside the workspace.
type WriteFileTool struct {
	Workspace string
}

// Name implements Tool.
func (WriteFileTool) Name() string { return "write_file" }

// Execute implements Tool.
func (t WriteFileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path, err := workspacePath(t.Workspace, params)
	if err != nil {
		return "", err
	}
	content, _ := params["content"].(string)

	if err := filelock.AtomicWrite(path, []byte(content)); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

// ReadFileTool reads "path" from the workspace.
type ReadFileTool struct {
	Workspace string
}

// Name implements Tool.
func (ReadFileTool) Name() string { return "read_file" }

// Execute implements Tool.
func (t ReadFileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path, err := workspacePath(t.Workspace, params)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// workspacePath resolves the "path" parameter inside the workspace and
// rejects escapes.
func workspacePath(workspace string, params map[string]any) (string, error) {
	raw, _ := params["path"].(string)
	if raw == "" {
		return "", fmt.Errorf("missing required parameter \"path\"")
	}

	resolved := filepath.Join(workspace, filepath.Clean("/"+raw))
	rel, err := filepath.Rel(workspace, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", raw)
	}
	return resolved, nil
}
