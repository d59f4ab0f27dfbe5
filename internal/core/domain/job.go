package domain

import (
	"time"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusWarning   JobStatus = "warning"
)

// Terminal reports whether the status is a final state. The store stamps
// CompletedAt the first time it observes a terminal status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobMetrics is the resource usage snapshot pushed alongside job updates.
type JobMetrics struct {
	CPUUsage     float64   `json:"cpu_usage"`
	MemoryUsage  float64   `json:"memory_usage"`
	StorageUsage float64   `json:"storage_usage"`
	NetworkUsage float64   `json:"network_usage"`
	Timestamp    time.Time `json:"timestamp"`
}

// Job is the client-side view of a remote render job. The ID is an opaque
// key assigned by the server and never changes.
type Job struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Status      JobStatus   `json:"status"`
	Progress    int         `json:"progress"` // 0-100
	Priority    int         `json:"priority"`
	WorkspaceID string      `json:"workspace_id"`
	Software    []string    `json:"software,omitempty"`
	Metrics     *JobMetrics `json:"metrics,omitempty"`
	SubmittedAt time.Time   `json:"submitted_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// JobPatch is a partial job used for both optimistic local mutation and
// inbound live updates. Nil fields are left untouched on merge.
type JobPatch struct {
	Name        *string     `json:"name,omitempty"`
	Description *string     `json:"description,omitempty"`
	Status      *JobStatus  `json:"status,omitempty"`
	Progress    *int        `json:"progress,omitempty"`
	Priority    *int        `json:"priority,omitempty"`
	WorkspaceID *string     `json:"workspace_id,omitempty"`
	Software    []string    `json:"software,omitempty"`
	Metrics     *JobMetrics `json:"metrics,omitempty"`
}

// ClampProgress bounds a progress value to the valid 0-100 range.
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
