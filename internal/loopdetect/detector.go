// Package loopdetect decides whether an agent is repeating an identical
// failure. The check is exact-match over a small per-task window of
// failure signatures; semantically-equivalent failures phrased differently
// are left to failure classification upstream.
package loopdetect

import (
	"sync"

	"github.com/harrison/steward/internal/models"
)

// DefaultWindowSize is the number of identical consecutive failure
// signatures that counts as a loop.
const DefaultWindowSize = 3

// Detector keeps a bounded FIFO of failure signatures per task ID. It
// tolerates concurrent access across different task IDs; each task ID is
// assumed to have exactly one writer at a time.
type Detector struct {
	mu         sync.Mutex
	windowSize int
	windows    map[string][]string
}

// NewDetector creates a detector with the given window size. Sizes below
// one fall back to DefaultWindowSize.
func NewDetector(windowSize int) *Detector {
	if windowSize < 1 {
		windowSize = DefaultWindowSize
	}
	return &Detector{
		windowSize: windowSize,
		windows:    make(map[string][]string),
	}
}

// RecordFailure appends a failure signature to the task's window, dropping
// the oldest entry past capacity. Empty signatures are ignored; they never
// consume a slot.
func (d *Detector) RecordFailure(taskID, signature string) {
	if signature == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	window := append(d.windows[taskID], signature)
	if len(window) > d.windowSize {
		window = window[len(window)-d.windowSize:]
	}
	d.windows[taskID] = window
}

// RecordSuccess clears the task's window. A single success forgives all
// prior failures.
func (d *Detector) RecordSuccess(taskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.windows, taskID)
}

// Reset explicitly clears the task's window. Used after external or human
// intervention, and when a degrading failure shows the agent is still
// exploring.
func (d *Detector) Reset(taskID string) {
	d.RecordSuccess(taskID)
}

// IsLooping reports whether the task is repeating an identical failure:
// true iff exactly windowSize signatures are present and all of them are
// equal. When the detector's own window holds fewer entries (for example
// after a process restart), the trailing entries of the task's persisted
// error log are consulted instead, but only while the task is on a
// consecutive-failure streak of at least windowSize. A success zeroes the
// streak, so failures it already forgave never re-trigger a loop. The
// detector's window is the source of truth whenever it is full.
func (d *Detector) IsLooping(task *models.TaskState) bool {
	if task == nil {
		return false
	}

	d.mu.Lock()
	window := append([]string(nil), d.windows[task.TaskID]...)
	d.mu.Unlock()

	if len(window) == d.windowSize {
		return allIdentical(window)
	}

	if task.ConsecutiveFailures < d.windowSize {
		return false
	}
	tail := task.LastErrors
	if len(tail) < d.windowSize {
		return false
	}
	tail = tail[len(tail)-d.windowSize:]
	return allIdentical(tail)
}

// WindowSize returns the configured loop window size.
func (d *Detector) WindowSize() int {
	return d.windowSize
}

func allIdentical(signatures []string) bool {
	first := signatures[0]
	if first == "" {
		return false
	}
	for _, sig := range signatures[1:] {
		if sig != first {
			return false
		}
	}
	return true
}
