// Package model holds the Job and Worker record shapes shared by every
// hub component. These are the structs the Store marshals to and from
// Redis hashes; nothing in here talks to Redis directly.
package model

import "time"

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobClaimed    JobStatus = "claimed"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status has no outgoing edges.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is the persistent record for one unit of dispatched work.
type Job struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Priority int            `json:"priority"`
	Params   map[string]any `json:"params"`
	ClientID string         `json:"client_id,omitempty"`

	Status JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ClaimTimeout time.Duration `json:"claim_timeout,omitempty"`
	WorkerID     string        `json:"worker_id,omitempty"`

	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`

	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// ClampProgress keeps progress within the protocol's 0-100 bound.
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Standard reports whether a pending job belongs in the FIFO list (as
// opposed to the priority ordered set).
func (j *Job) Standard() bool { return j.Priority <= 0 }
