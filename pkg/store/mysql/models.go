package mysql

import "trainfleet/pkg/store/mysql/model"

// Re-export types from model package so callers don't import two packages

type (
	// Database models
	Job            = model.Job
	Shard          = model.Shard
	JobLog         = model.JobLog
	CapacityPolicy = model.CapacityPolicy

	// Custom JSON types
	JSONStringArray = model.JSONStringArray
)
