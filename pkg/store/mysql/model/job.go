package model

import (
	"time"
)

// Job database model for a training job
type Job struct {
	ID               uint64     `gorm:"primaryKey;autoIncrement" json:"-"`
	JobID            string     `gorm:"column:job_id;size:64;uniqueIndex" json:"job_id"`
	UserID           string     `gorm:"column:user_id;size:64;index" json:"user_id"`
	Project          string     `gorm:"size:128;index" json:"project"`
	Status           string     `gorm:"size:16;index" json:"status"`
	GPUCount         int        `gorm:"column:gpu_count" json:"gpu_count"`
	CPUCount         int        `gorm:"column:cpu_count" json:"cpu_count"`
	MemoryGB         int        `gorm:"column:memory_gb" json:"memory_gb"`
	WorkerCount      int        `gorm:"column:worker_count" json:"worker_count"`
	Platform         string     `gorm:"size:32" json:"platform"`
	AssignedWorkerID string     `gorm:"column:assigned_worker_id;size:64;index" json:"assigned_worker_id"`
	Progress         int        `json:"progress"`
	Error            string     `gorm:"type:text" json:"error"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	StartedAt        *time.Time `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at"`
}

// TableName table name
func (Job) TableName() string {
	return "jobs"
}

// Shard database model for one partition of a distributed job
type Shard struct {
	ID               uint64     `gorm:"primaryKey;autoIncrement" json:"-"`
	ShardID          string     `gorm:"column:shard_id;size:80;uniqueIndex" json:"shard_id"`
	JobID            string     `gorm:"column:job_id;size:64;index" json:"job_id"`
	ShardIndex       int        `gorm:"column:shard_index" json:"shard_index"`
	Fraction         float64    `json:"fraction"`
	Status           string     `gorm:"size:16;index" json:"status"`
	AssignedWorkerID string     `gorm:"column:assigned_worker_id;size:64;index" json:"assigned_worker_id"`
	Progress         int        `json:"progress"`
	Error            string     `gorm:"type:text" json:"error"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	StartedAt        *time.Time `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at"`
}

// TableName table name
func (Shard) TableName() string {
	return "shards"
}

// JobLog one line of a job's append-only log. The auto-increment primary
// key preserves insertion order.
type JobLog struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	JobID     string    `gorm:"column:job_id;size:64;index" json:"job_id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `gorm:"type:text" json:"message"`
}

// TableName table name
func (JobLog) TableName() string {
	return "job_logs"
}

// CapacityPolicy single-row process-wide claim policy (id is always 1,
// last write wins)
type CapacityPolicy struct {
	ID                    uint64          `gorm:"primaryKey" json:"-"`
	MaxGPUPerJob          int             `gorm:"column:max_gpu_per_job" json:"max_gpu_per_job"`
	GPUMemoryThresholdGB  int             `gorm:"column:gpu_memory_threshold_gb" json:"gpu_memory_threshold_gb"`
	MaxConcurrentJobs     int             `gorm:"column:max_concurrent_jobs" json:"max_concurrent_jobs"`
	WorkerTimeoutMinutes  int             `gorm:"column:worker_timeout_minutes" json:"worker_timeout_minutes"`
	LoadBalancingStrategy string          `gorm:"size:32" json:"load_balancing_strategy"`
	AllowedPlatforms      JSONStringArray `gorm:"type:json" json:"allowed_platforms"`
	AutoScale             bool            `json:"auto_scale"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// TableName table name
func (CapacityPolicy) TableName() string {
	return "capacity_policy"
}
