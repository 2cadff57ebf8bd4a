package models

import (
	"fmt"
	"sort"
	"strings"
)

// Action is one planned step produced by the planning oracle. Actions are
// created fresh on every planning call and never mutated afterwards.
// An action with a ToolName is dispatched to the tool-execution backend;
// one without is handed to the agent's internal action handler.
type Action struct {
	Description string
	ToolName    string
	Operation   string
	Parameters  map[string]any
	Reasoning   string
	Metadata    map[string]any
}

// Signature returns a deterministic fingerprint of the action: the
// description, tool name, operation, and parameters sorted by key, joined
// into one string. Equal inputs always produce equal signatures, which is
// what the replan-collision check and the loop detector rely on. The value
// is kept human-readable because it is embedded in gate context and logs.
func (a Action) Signature() string {
	var sb strings.Builder
	sb.WriteString(a.Description)
	sb.WriteString("|")
	sb.WriteString(a.ToolName)
	sb.WriteString("|")
	sb.WriteString(a.Operation)

	keys := make([]string, 0, len(a.Parameters))
	for k := range a.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "|%s=%v", k, a.Parameters[k])
	}
	return sb.String()
}

// IsToolAction reports whether the action targets the tool backend.
func (a Action) IsToolAction() bool {
	return a.ToolName != ""
}

// Tool names whose completion plausibly finishes the whole task. Only
// these trigger the best-effort completion shortcut after a successful
// step; cheap read-style actions never do.
var highSignalTools = map[string]bool{
	"write_file":  true,
	"file_write":  true,
	"save_file":   true,
	"deliverable": true,
}

// MetaDeliverable marks an action as producing a task deliverable,
// regardless of its tool name.
const MetaDeliverable = "deliverable"

// IsHighSignal reports whether a successful execution of this action
// warrants the minimal completion check.
func (a Action) IsHighSignal() bool {
	if highSignalTools[a.ToolName] {
		return true
	}
	flagged, ok := a.Metadata[MetaDeliverable].(bool)
	return ok && flagged
}

// MetaUncertain is set by oracles that want an immediate confidence check
// regardless of the check interval.
const MetaUncertain = "uncertain"

// FlaggedUncertain reports whether the planning oracle marked this action
// as uncertain.
func (a Action) FlaggedUncertain() bool {
	flagged, ok := a.Metadata[MetaUncertain].(bool)
	return ok && flagged
}
