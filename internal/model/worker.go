package model

import (
	"time"
)

// WorkerStatus worker node status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "IDLE"    // Online, no assignment
	WorkerStatusBusy    WorkerStatus = "BUSY"    // Holding a job or shard
	WorkerStatusOffline WorkerStatus = "OFFLINE" // Heartbeat lapsed
)

// Capability hardware snapshot reported by the worker runtime
type Capability struct {
	GPUPresent  bool   `json:"gpu_present"`
	GPUName     string `json:"gpu_name,omitempty"`
	GPUMemoryGB int    `json:"gpu_memory_gb"`
	CPUCount    int    `json:"cpu_count"`
	MemoryGB    int    `json:"memory_gb"`
}

// Worker worker node information. Registration is implicit: the row is
// created on the first heartbeat or claim from an unknown worker id.
type Worker struct {
	ID                 string       `json:"id"`
	Platform           string       `json:"platform"` // free-tier provider tag (kaggle, colab, ...)
	Capability         Capability   `json:"capability"`
	Status             WorkerStatus `json:"status"`
	Disabled           bool         `json:"disabled"` // admin-set, never selected while true
	CurrentJobID       string       `json:"current_job_id,omitempty"`
	CurrentShardID     string       `json:"current_shard_id,omitempty"`
	ActiveJobs         int          `json:"active_jobs"`
	TotalJobsCompleted int          `json:"total_jobs_completed"`
	LastHeartbeat      time.Time    `json:"last_heartbeat"`
	RegisteredAt       time.Time    `json:"registered_at"`
}

// HeartbeatRequest heartbeat request; may carry progress and log lines
// for the worker's current assignment
type HeartbeatRequest struct {
	Status     WorkerStatus `json:"status,omitempty"`
	Platform   string       `json:"platform,omitempty"`
	Capability Capability   `json:"capability"`
	JobID      string       `json:"job_id,omitempty"`
	ShardID    string       `json:"shard_id,omitempty"`
	Progress   *int         `json:"progress,omitempty"`
	LogLines   []string     `json:"log_lines,omitempty"`
}

// HeartbeatResponse heartbeat ack; echoes the authoritative job status so a
// worker running a cancelled job observes it on its next heartbeat
type HeartbeatResponse struct {
	Status    string    `json:"status"`
	JobStatus JobStatus `json:"job_status,omitempty"`
}

// ClaimRequest claim request from a polling worker
type ClaimRequest struct {
	Platform   string     `json:"platform,omitempty"`
	Capability Capability `json:"capability"`
}

// Assignment job or shard handed to a worker on a successful claim
type Assignment struct {
	JobID    string    `json:"job_id"`
	ShardID  string    `json:"shard_id,omitempty"`
	Project  string    `json:"project"`
	UserID   string    `json:"user_id"`
	Resource Resources `json:"resources"`
	Fraction float64   `json:"fraction,omitempty"` // data fraction for shard assignments
}

// ClaimResponse claim response; Job is nil when no work is available
type ClaimResponse struct {
	Job    *Assignment `json:"job,omitempty"`
	Reason string      `json:"reason,omitempty"` // why no job was handed out (maintenance, busy, ...)
}

// ResultRequest terminal result submission from a worker
type ResultRequest struct {
	ShardID string `json:"shard_id,omitempty"`
	Error   string `json:"error,omitempty"` // non-empty marks the job/shard FAILED
}
