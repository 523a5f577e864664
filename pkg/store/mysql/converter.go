package mysql

import (
	"trainfleet/internal/model"
)

// ToJobDomain converts a database job row to the domain model
func ToJobDomain(row *Job) *model.Job {
	if row == nil {
		return nil
	}
	return &model.Job{
		ID:      row.JobID,
		UserID:  row.UserID,
		Project: row.Project,
		Status:  model.JobStatus(row.Status),
		Resources: model.Resources{
			GPUCount: row.GPUCount,
			CPUCount: row.CPUCount,
			MemoryGB: row.MemoryGB,
		},
		WorkerCount:      row.WorkerCount,
		Platform:         row.Platform,
		AssignedWorkerID: row.AssignedWorkerID,
		Progress:         row.Progress,
		Error:            row.Error,
		CreatedAt:        row.CreatedAt,
		StartedAt:        row.StartedAt,
		CompletedAt:      row.CompletedAt,
	}
}

// FromJobDomain converts a domain job to a database row
func FromJobDomain(job *model.Job) *Job {
	if job == nil {
		return nil
	}
	return &Job{
		JobID:            job.ID,
		UserID:           job.UserID,
		Project:          job.Project,
		Status:           string(job.Status),
		GPUCount:         job.Resources.GPUCount,
		CPUCount:         job.Resources.CPUCount,
		MemoryGB:         job.Resources.MemoryGB,
		WorkerCount:      job.WorkerCount,
		Platform:         job.Platform,
		AssignedWorkerID: job.AssignedWorkerID,
		Progress:         job.Progress,
		Error:            job.Error,
		CreatedAt:        job.CreatedAt,
		StartedAt:        job.StartedAt,
		CompletedAt:      job.CompletedAt,
	}
}

// ToShardDomain converts a database shard row to the domain model
func ToShardDomain(row *Shard) *model.Shard {
	if row == nil {
		return nil
	}
	return &model.Shard{
		ID:               row.ShardID,
		JobID:            row.JobID,
		Index:            row.ShardIndex,
		Fraction:         row.Fraction,
		Status:           model.ShardStatus(row.Status),
		AssignedWorkerID: row.AssignedWorkerID,
		Progress:         row.Progress,
		Error:            row.Error,
		StartedAt:        row.StartedAt,
		CompletedAt:      row.CompletedAt,
	}
}

// FromShardDomain converts a domain shard to a database row
func FromShardDomain(shard *model.Shard) *Shard {
	if shard == nil {
		return nil
	}
	return &Shard{
		ShardID:          shard.ID,
		JobID:            shard.JobID,
		ShardIndex:       shard.Index,
		Fraction:         shard.Fraction,
		Status:           string(shard.Status),
		AssignedWorkerID: shard.AssignedWorkerID,
		Progress:         shard.Progress,
		Error:            shard.Error,
		StartedAt:        shard.StartedAt,
		CompletedAt:      shard.CompletedAt,
	}
}

// ToLogDomain converts a database log row to the domain model
func ToLogDomain(row *JobLog) model.LogLine {
	return model.LogLine{
		Timestamp: row.Timestamp,
		Message:   row.Message,
	}
}

// ToPolicyDomain converts the policy row to the domain model
func ToPolicyDomain(row *CapacityPolicy) *model.CapacityPolicy {
	if row == nil {
		return nil
	}
	return &model.CapacityPolicy{
		MaxGPUPerJob:          row.MaxGPUPerJob,
		GPUMemoryThresholdGB:  row.GPUMemoryThresholdGB,
		MaxConcurrentJobs:     row.MaxConcurrentJobs,
		WorkerTimeoutMinutes:  row.WorkerTimeoutMinutes,
		LoadBalancingStrategy: row.LoadBalancingStrategy,
		AllowedPlatforms:      row.AllowedPlatforms,
		AutoScale:             row.AutoScale,
	}
}

// FromPolicyDomain converts the domain policy to a database row
func FromPolicyDomain(policy *model.CapacityPolicy) *CapacityPolicy {
	if policy == nil {
		return nil
	}
	return &CapacityPolicy{
		MaxGPUPerJob:          policy.MaxGPUPerJob,
		GPUMemoryThresholdGB:  policy.GPUMemoryThresholdGB,
		MaxConcurrentJobs:     policy.MaxConcurrentJobs,
		WorkerTimeoutMinutes:  policy.WorkerTimeoutMinutes,
		LoadBalancingStrategy: policy.LoadBalancingStrategy,
		AllowedPlatforms:      JSONStringArray(policy.AllowedPlatforms),
		AutoScale:             policy.AutoScale,
	}
}
