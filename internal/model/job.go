package model

import (
	"time"
)

// JobStatus job status
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"   // Waiting for a worker claim
	JobStatusRunning   JobStatus = "RUNNING"   // Claimed by a worker
	JobStatusCompleted JobStatus = "COMPLETED" // Finished successfully
	JobStatusFailed    JobStatus = "FAILED"    // Finished with an error
	JobStatusCancelled JobStatus = "CANCELLED" // Cancelled by admin or owner
)

// Terminal reports whether no further worker-driven mutation is accepted.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Resources requested compute for a job
type Resources struct {
	GPUCount int `json:"gpu_count"`
	CPUCount int `json:"cpu_count"`
	MemoryGB int `json:"memory_gb"`
}

// Job training job record
type Job struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Project          string     `json:"project"`
	Status           JobStatus  `json:"status"`
	Resources        Resources  `json:"resources"`
	WorkerCount      int        `json:"worker_count"` // >0 requests distributed execution across shards
	Platform         string     `json:"platform,omitempty"`
	AssignedWorkerID string     `json:"assigned_worker_id,omitempty"` // set only while RUNNING and non-sharded
	Progress         int        `json:"progress"`
	Error            string     `json:"error,omitempty"`
	Shards           []*Shard   `json:"shards,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// Distributed reports whether the job is split into shards.
func (j *Job) Distributed() bool {
	return j.WorkerCount > 0
}

// ShardStatus shard status, a miniature job lifecycle
type ShardStatus string

const (
	ShardStatusPending   ShardStatus = "PENDING"
	ShardStatusRunning   ShardStatus = "RUNNING"
	ShardStatusCompleted ShardStatus = "COMPLETED"
	ShardStatusFailed    ShardStatus = "FAILED"
	ShardStatusCancelled ShardStatus = "CANCELLED"
)

// Terminal reports whether the shard has reached a final state.
func (s ShardStatus) Terminal() bool {
	return s == ShardStatusCompleted || s == ShardStatusFailed || s == ShardStatusCancelled
}

// Shard independent claimable partition of a distributed job
type Shard struct {
	ID               string      `json:"id"` // <job_id>/<index>
	JobID            string      `json:"job_id"`
	Index            int         `json:"index"`
	Fraction         float64     `json:"fraction"` // 1/N of the training data
	Status           ShardStatus `json:"status"`
	AssignedWorkerID string      `json:"assigned_worker_id,omitempty"`
	Progress         int         `json:"progress"`
	Error            string      `json:"error,omitempty"`
	StartedAt        *time.Time  `json:"started_at,omitempty"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
}

// LogLine one entry of a job's append-only log
type LogLine struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// SubmitRequest submit job request
type SubmitRequest struct {
	UserID      string    `json:"user_id" binding:"required"`
	Project     string    `json:"project" binding:"required"`
	Resources   Resources `json:"resources"`
	WorkerCount int       `json:"worker_count"`
	Platform    string    `json:"platform,omitempty"`
}

// SubmitResponse submit job response
type SubmitResponse struct {
	ID     string    `json:"id"`
	Status JobStatus `json:"status"`
}

// JobEventType job lifecycle event type for the presentation layer
type JobEventType string

const (
	JobEventSubmitted JobEventType = "job.submitted"
	JobEventClaimed   JobEventType = "job.claimed"
	JobEventProgress  JobEventType = "job.progress"
	JobEventCompleted JobEventType = "job.completed"
	JobEventFailed    JobEventType = "job.failed"
	JobEventCancelled JobEventType = "job.cancelled"
	JobEventReclaimed JobEventType = "job.reclaimed"
)

// JobEvent notification emitted on every lifecycle transition
type JobEvent struct {
	Type      JobEventType `json:"type"`
	JobID     string       `json:"job_id"`
	ShardID   string       `json:"shard_id,omitempty"`
	WorkerID  string       `json:"worker_id,omitempty"`
	Status    JobStatus    `json:"status"`
	Progress  int          `json:"progress,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
