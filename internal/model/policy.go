package model

import (
	"time"
)

// Load-balancing strategy names
const (
	StrategyRoundRobin       = "round_robin"
	StrategyLeastLoaded      = "least_loaded"
	StrategyGPUPriority      = "gpu_priority"
	StrategyPlatformSpecific = "platform_specific"
)

// ValidStrategy reports whether name is a known load-balancing strategy.
func ValidStrategy(name string) bool {
	switch name {
	case StrategyRoundRobin, StrategyLeastLoaded, StrategyGPUPriority, StrategyPlatformSpecific:
		return true
	}
	return false
}

// CapacityPolicy process-wide claim policy, admin-editable, re-read at the
// start of every claim decision.
type CapacityPolicy struct {
	MaxGPUPerJob          int      `json:"max_gpu_per_job"`
	GPUMemoryThresholdGB  int      `json:"gpu_memory_threshold_gb"`
	MaxConcurrentJobs     int      `json:"max_concurrent_jobs"`
	WorkerTimeoutMinutes  int      `json:"worker_timeout_minutes"`
	LoadBalancingStrategy string   `json:"load_balancing_strategy"`
	AllowedPlatforms      []string `json:"allowed_platforms"` // empty = all platforms eligible
	AutoScale             bool     `json:"auto_scale"`        // advisory only, consumed by external tooling
}

// PlatformAllowed reports whether a platform tag may claim under this policy.
func (p *CapacityPolicy) PlatformAllowed(platform string) bool {
	if len(p.AllowedPlatforms) == 0 {
		return true
	}
	for _, tag := range p.AllowedPlatforms {
		if tag == platform {
			return true
		}
	}
	return false
}

// WorkerTimeout heartbeat staleness bound as a duration.
func (p *CapacityPolicy) WorkerTimeout() time.Duration {
	return time.Duration(p.WorkerTimeoutMinutes) * time.Minute
}

// Maintenance operator-controlled flag that suspends claims and submissions
type Maintenance struct {
	Enabled   bool      `json:"enabled"`
	Message   string    `json:"message,omitempty"`
	EnabledBy string    `json:"enabled_by,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// OverrideStatusRequest admin forced status override
type OverrideStatusRequest struct {
	Status JobStatus `json:"status" binding:"required"`
	Error  string    `json:"error,omitempty"`
}

// MaintenanceRequest admin maintenance toggle
type MaintenanceRequest struct {
	Enabled   bool   `json:"enabled"`
	Message   string `json:"message,omitempty"`
	EnabledBy string `json:"enabled_by,omitempty"`
}
