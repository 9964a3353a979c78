// Package schedule runs a bounded number of plugin invocations
// concurrently and streams results back as each task completes.
// Completion order is not submission order; callers correlate results by
// task identity.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gumshoe/internal/plugin"
)

// Status is the lifecycle state of a task. Terminal statuses are
// immutable; a task is owned exclusively by the pool while running.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	}
	return false
}

// Task is one scheduled unit of work: a single plugin invocation against
// a target.
type Task struct {
	ID             string            `json:"id"`
	Target         string            `json:"target"`
	Category       string            `json:"category"`
	PluginID       string            `json:"plugin_id"`
	Parameters     map[string]string `json:"parameters,omitempty"`
	Status         Status            `json:"status"`
	AttemptCount   int               `json:"attempt_count"`
	Depth          int               `json:"depth"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	StartedAt      time.Time         `json:"started_at,omitzero"`
	FinishedAt     time.Time         `json:"finished_at,omitzero"`

	// FailureReason records why a task reached failed/timed_out/cancelled.
	FailureReason string `json:"failure_reason,omitempty"`
}

// NewTask creates a pending task at the given chain depth.
func NewTask(pluginID, target, category string, depth int) Task {
	return Task{
		ID:       uuid.NewString(),
		Target:   target,
		Category: category,
		PluginID: pluginID,
		Status:   StatusPending,
		Depth:    depth,
	}
}

// Retry returns a fresh pending copy with the attempt counter bumped.
// Retries are a controller decision; the pool never retries on its own.
func (t Task) Retry() Task {
	return Task{
		ID:             uuid.NewString(),
		Target:         t.Target,
		Category:       t.Category,
		PluginID:       t.PluginID,
		Parameters:     t.Parameters,
		Status:         StatusPending,
		AttemptCount:   t.AttemptCount + 1,
		Depth:          t.Depth,
		TimeoutSeconds: t.TimeoutSeconds,
	}
}

// PluginResult is the successful output of one task.
type PluginResult struct {
	RawOutput  string             `json:"raw_output"`
	Structured *plugin.ParsedData `json:"structured"`
	Duration   time.Duration      `json:"duration"`
}

// Outcome pairs a task in its terminal state with its result or failure.
// Exactly one of Result and Err is set when Status is succeeded; failures
// carry Err and a terminal non-success status on the task.
type Outcome struct {
	Task   Task
	Result *PluginResult
	Err    error
}

// ToolUnavailableError marks a task rejected before execution because its
// required external binaries are missing. Distinct from a scheduler
// fault; surfaced as its own failure reason in reports.
type ToolUnavailableError struct {
	PluginID string
	Missing  []string
}

func (e *ToolUnavailableError) Error() string {
	return fmt.Sprintf("plugin %s: required tools unavailable: %s",
		e.PluginID, strings.Join(e.Missing, ", "))
}

// Stats counts pool activity across one investigation.
type Stats struct {
	Submitted      int           `json:"submitted"`
	Succeeded      int           `json:"succeeded"`
	Failed         int           `json:"failed"`
	TimedOut       int           `json:"timed_out"`
	Cancelled      int           `json:"cancelled"`
	Unavailable    int           `json:"unavailable"`
	TotalExecution time.Duration `json:"total_execution"`
}

// Add accumulates another stats block into this one.
func (s *Stats) Add(other Stats) {
	s.Submitted += other.Submitted
	s.Succeeded += other.Succeeded
	s.Failed += other.Failed
	s.TimedOut += other.TimedOut
	s.Cancelled += other.Cancelled
	s.Unavailable += other.Unavailable
	s.TotalExecution += other.TotalExecution
}
