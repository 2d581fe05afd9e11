package types

import "time"

// JobFamily distinguishes the two background work streams.
type JobFamily string

const (
	// JobFamilyLearning is per-user behavioral learning work.
	JobFamilyLearning JobFamily = "learning"

	// JobFamilyExtraction is per-document intelligence extraction work.
	JobFamilyExtraction JobFamily = "extraction"
)

// IsValidJobFamily reports whether s names a known job family.
func IsValidJobFamily(s string) bool {
	switch JobFamily(s) {
	case JobFamilyLearning, JobFamilyExtraction:
		return true
	}
	return false
}

// JobStatus tracks a job's lifecycle. Jobs are never deleted, only
// transitioned; retried work creates a new job row for the same subject.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobQueued     JobStatus = "queued"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status is a terminal state.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is one durable unit of background work. A job is claimed by exactly
// one worker via the store's atomic claim operation and processed to a
// terminal state by that worker.
type Job struct {
	// ID is the job identifier (UUID).
	ID string `json:"id"`

	// TenantID scopes the job to a tenant.
	TenantID string `json:"tenant_id"`

	// SubjectID is the user (learning) or document (extraction) the job
	// operates on.
	SubjectID string `json:"subject_id"`

	// Family selects the handler that processes the job.
	Family JobFamily `json:"family"`

	// Status is the current lifecycle state.
	Status JobStatus `json:"status"`

	// ProgressPercent is the last reported progress (0-100). Best effort.
	ProgressPercent int `json:"progress_percent"`

	// ProgressMessage is a human-readable progress note.
	ProgressMessage string `json:"progress_message,omitempty"`

	// ItemsTotal and ItemsDone track chunk/item counts for the job.
	ItemsTotal int `json:"items_total"`
	ItemsDone  int `json:"items_done"`

	// Metadata carries handler-specific parameters set at enqueue time.
	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ResultSummary describes the outcome of a completed job.
	ResultSummary string `json:"result_summary,omitempty"`

	// Error holds the failure reason for a failed job.
	Error string `json:"error,omitempty"`
}
