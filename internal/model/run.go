package model

import "time"

// RunStatus represents the current state of a migration run.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusClustering  RunStatus = "clustering"
	RunStatusClassifying RunStatus = "classifying"
	RunStatusResolving   RunStatus = "resolving"
	RunStatusWriting     RunStatus = "writing"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
)

// Run represents a single batch migration run over one snapshot.
type Run struct {
	ID          string     `json:"id"`
	SnapshotDir string     `json:"snapshot_dir"`
	Status      RunStatus  `json:"status"`
	Result      *RunResult `json:"result,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a run: the success flag plus per-stage counts.
type RunResult struct {
	Success        bool           `json:"success"`
	Companies      int            `json:"companies"`
	Clusters       int            `json:"clusters"`
	Deals          int            `json:"deals"`
	Associations   int            `json:"associations"`
	Unresolved     int            `json:"unresolved"`
	ConfigErrors   int            `json:"config_errors"`
	QualityIssues  int            `json:"quality_issues"`
	Phases         []PhaseResult  `json:"phases"`
	OutcomeCounts  map[string]int `json:"outcome_counts,omitempty"`
	PipelineCounts map[string]int `json:"pipeline_counts,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// RunPhase represents a phase within a run.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// PhaseStatus represents the current state of a run phase.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusPartial  PhaseStatus = "partial"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// PhaseResult holds the outcome of a run phase.
type PhaseResult struct {
	Name     string         `json:"name"`
	Status   PhaseStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Rows     int            `json:"rows"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
