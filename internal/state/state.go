// Package state persists investigation snapshots to SQLite and restores
// them for resume. It is the only component permitted to write
// InvestigationState to durable storage.
package state

import (
	"fmt"
	"strings"
	"time"

	"gumshoe/internal/intel"
	"gumshoe/internal/schedule"
)

// SchemaVersion is embedded in every snapshot so newer writers stay
// forward-readable by load (unknown fields are ignored).
const SchemaVersion = 1

// InvestigationStatus is the lifecycle state of a whole investigation.
type InvestigationStatus string

const (
	StatusRunning   InvestigationStatus = "running"
	StatusPaused    InvestigationStatus = "paused"
	StatusCompleted InvestigationStatus = "completed"
	StatusKilled    InvestigationStatus = "killed"
	StatusFailed    InvestigationStatus = "failed"
)

// Terminal reports whether the investigation reached a final status.
func (s InvestigationStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusKilled, StatusFailed:
		return true
	}
	return false
}

// InvestigationState is the durable snapshot of one investigation.
type InvestigationState struct {
	SchemaVersion     int                        `json:"schema_version"`
	InvestigationID   string                     `json:"investigation_id"`
	Target            string                     `json:"target"`
	Category          string                     `json:"category"`
	ProfileName       string                     `json:"profile_name"`
	CreatedAt         time.Time                  `json:"created_at"`
	UpdatedAt         time.Time                  `json:"updated_at"`
	Status            InvestigationStatus        `json:"status"`
	Tasks             []schedule.Task            `json:"tasks"`
	Artifacts         map[string]*intel.Artifact `json:"artifacts"`
	ChainKeys         []string                   `json:"chain_keys,omitempty"`
	ChainDepthReached int                        `json:"chain_depth_reached"`
	Stats             schedule.Stats             `json:"stats"`
}

// NewInvestigationState initializes a running snapshot for a fresh start.
func NewInvestigationState(target, category, profileName string) *InvestigationState {
	now := time.Now().UTC()
	return &InvestigationState{
		SchemaVersion:   SchemaVersion,
		InvestigationID: NewInvestigationID(target, category, now),
		Target:          target,
		Category:        category,
		ProfileName:     profileName,
		CreatedAt:       now,
		UpdatedAt:       now,
		Status:          StatusRunning,
		Artifacts:       make(map[string]*intel.Artifact),
	}
}

// NewInvestigationID builds the human-readable investigation identifier
// <cleantarget>_<category>_<timestamp>.
func NewInvestigationID(target, category string, at time.Time) string {
	var b strings.Builder
	for _, r := range target {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if clean == "" {
		clean = "target"
	}
	return fmt.Sprintf("%s_%s_%s", clean, category, at.Format("20060102_150405"))
}

// UpsertTask replaces the task with the same ID or appends it, keeping
// submission order.
func (s *InvestigationState) UpsertTask(task schedule.Task) {
	for i := range s.Tasks {
		if s.Tasks[i].ID == task.ID {
			s.Tasks[i] = task
			return
		}
	}
	s.Tasks = append(s.Tasks, task)
}

// ResumableTasks returns the tasks a resumed run must re-submit: those
// pending, running, or cancelled by a kill at snapshot time. Running and
// cancelled tasks reset to pending since their external process is gone.
func (s *InvestigationState) ResumableTasks() []schedule.Task {
	var out []schedule.Task
	for _, t := range s.Tasks {
		switch t.Status {
		case schedule.StatusPending:
			out = append(out, t)
		case schedule.StatusRunning, schedule.StatusCancelled:
			t.Status = schedule.StatusPending
			t.StartedAt = time.Time{}
			t.FinishedAt = time.Time{}
			t.FailureReason = ""
			out = append(out, t)
		}
	}
	return out
}

// Summary is what list() exposes per investigation.
type Summary struct {
	InvestigationID string              `json:"investigation_id"`
	Target          string              `json:"target"`
	Category        string              `json:"category"`
	ProfileName     string              `json:"profile_name"`
	Status          InvestigationStatus `json:"status"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	TaskCount       int                 `json:"task_count"`
	ArtifactCount   int                 `json:"artifact_count"`
	ChainDepth      int                 `json:"chain_depth"`
}
