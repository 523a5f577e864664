package service

import (
	"context"
	"time"

	"trainfleet/internal/model"
	"trainfleet/pkg/errs"
	"trainfleet/pkg/logger"
	"trainfleet/pkg/store/mysql"
)

// AdminService covers operator actions: forced status overrides, job and
// worker removal, capacity policy edits and the maintenance toggle. Overrides
// are last-write-wins and bypass the transition table.
type AdminService struct {
	jobRepo    jobRepository
	shardRepo  shardRepository
	workerRepo workerRepository
	policyRepo policyRepository
	maintRepo  maintenanceRepository
	notifier   notifier
}

// NewAdminService creates a new admin service
func NewAdminService(jobRepo jobRepository, shardRepo shardRepository, workerRepo workerRepository, policyRepo policyRepository, maintRepo maintenanceRepository, notifier notifier) *AdminService {
	return &AdminService{
		jobRepo:    jobRepo,
		shardRepo:  shardRepo,
		workerRepo: workerRepo,
		policyRepo: policyRepo,
		maintRepo:  maintRepo,
		notifier:   notifier,
	}
}

// OverrideJobStatus force-sets a job's status regardless of its current
// state. Intended for operators unwedging stuck records; concurrent worker
// CAS writes lose against it by design of last-write-wins.
func (s *AdminService) OverrideJobStatus(ctx context.Context, jobID string, req *model.OverrideStatusRequest) error {
	if !req.Status.Valid() {
		return errs.Validationf("unknown status %q", req.Status)
	}
	if _, err := s.jobRepo.Get(ctx, jobID); err != nil {
		return err
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":     string(req.Status),
		"updated_at": now,
	}
	if req.Error != "" {
		updates["error"] = req.Error
	}
	switch req.Status {
	case model.JobStatusPending:
		updates["assigned_worker_id"] = ""
		updates["started_at"] = nil
		updates["completed_at"] = nil
	case model.JobStatusRunning:
		updates["started_at"] = now
		updates["completed_at"] = nil
	case model.JobStatusCompleted, model.JobStatusFailed, model.JobStatusCancelled:
		updates["completed_at"] = now
	}

	if err := s.jobRepo.OverrideStatus(ctx, jobID, updates); err != nil {
		return err
	}

	s.publishOverride(ctx, jobID, req.Status, now)

	logger.WarnCtx(ctx, "admin status override, job_id: %s, status: %s", jobID, req.Status)
	return nil
}

// publishOverride tells subscribers about a forced transition so dashboards
// and workers tracking the job converge on the admin's decision.
func (s *AdminService) publishOverride(ctx context.Context, jobID string, status model.JobStatus, now time.Time) {
	if s.notifier == nil {
		return
	}

	var eventType model.JobEventType
	switch status {
	case model.JobStatusPending:
		eventType = model.JobEventReclaimed
	case model.JobStatusRunning:
		eventType = model.JobEventClaimed
	case model.JobStatusCompleted:
		eventType = model.JobEventCompleted
	case model.JobStatusFailed:
		eventType = model.JobEventFailed
	default:
		eventType = model.JobEventCancelled
	}

	event := &model.JobEvent{
		Type:      eventType,
		JobID:     jobID,
		Status:    status,
		Timestamp: now,
	}
	if err := s.notifier.PublishJobEvent(ctx, event); err != nil {
		logger.WarnCtx(ctx, "failed to publish override event, job_id: %s, error: %v", jobID, err)
	}
}

// DeleteJob removes a job with its shards and logs
func (s *AdminService) DeleteJob(ctx context.Context, jobID string) error {
	if _, err := s.jobRepo.Get(ctx, jobID); err != nil {
		return err
	}
	if err := s.jobRepo.Delete(ctx, jobID); err != nil {
		return err
	}
	logger.InfoCtx(ctx, "job deleted, job_id: %s", jobID)
	return nil
}

// DisableWorker marks a worker ineligible for claims. Its in-flight job is
// left alone; the liveness sweep reclaims it if the worker stops reporting.
func (s *AdminService) DisableWorker(ctx context.Context, workerID string) error {
	return s.setDisabled(ctx, workerID, true)
}

// EnableWorker lifts a disable
func (s *AdminService) EnableWorker(ctx context.Context, workerID string) error {
	return s.setDisabled(ctx, workerID, false)
}

func (s *AdminService) setDisabled(ctx context.Context, workerID string, disabled bool) error {
	if _, err := s.workerRepo.Get(ctx, workerID); err != nil {
		return err
	}
	_, err := s.workerRepo.Upsert(ctx, workerID, func(w *model.Worker) {
		w.Disabled = disabled
	})
	if err != nil {
		return err
	}
	logger.InfoCtx(ctx, "worker disabled flag set, worker_id: %s, disabled: %v", workerID, disabled)
	return nil
}

// DeleteWorker removes a worker from the registry. Any job it holds is left
// RUNNING and reclaimed once its heartbeat lapses.
func (s *AdminService) DeleteWorker(ctx context.Context, workerID string) error {
	if _, err := s.workerRepo.Get(ctx, workerID); err != nil {
		return err
	}
	if err := s.workerRepo.Delete(ctx, workerID); err != nil {
		return err
	}
	logger.InfoCtx(ctx, "worker deleted, worker_id: %s", workerID)
	return nil
}

// GetPolicy returns the current capacity policy
func (s *AdminService) GetPolicy(ctx context.Context) (*model.CapacityPolicy, error) {
	row, err := s.policyRepo.Get(ctx)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errs.NotFoundf("capacity policy not seeded")
	}
	return mysql.ToPolicyDomain(row), nil
}

// SetPolicy validates and stores the capacity policy. Takes effect on the
// next claim decision; no restart needed.
func (s *AdminService) SetPolicy(ctx context.Context, policy *model.CapacityPolicy) error {
	if policy.MaxGPUPerJob <= 0 || policy.MaxConcurrentJobs <= 0 || policy.WorkerTimeoutMinutes <= 0 {
		return errs.Validationf("policy limits must be positive")
	}
	if policy.GPUMemoryThresholdGB < 0 {
		return errs.Validationf("negative gpu_memory_threshold_gb")
	}
	if !model.ValidStrategy(policy.LoadBalancingStrategy) {
		return errs.Validationf("unknown load_balancing_strategy %q", policy.LoadBalancingStrategy)
	}

	if err := s.policyRepo.Save(ctx, mysql.FromPolicyDomain(policy)); err != nil {
		return err
	}

	logger.InfoCtx(ctx, "capacity policy updated, strategy: %s, max_concurrent_jobs: %d",
		policy.LoadBalancingStrategy, policy.MaxConcurrentJobs)
	return nil
}

// GetMaintenance returns the maintenance flag
func (s *AdminService) GetMaintenance(ctx context.Context) (*model.Maintenance, error) {
	return s.maintRepo.Get(ctx)
}

// SetMaintenance toggles maintenance mode
func (s *AdminService) SetMaintenance(ctx context.Context, req *model.MaintenanceRequest) (*model.Maintenance, error) {
	flag := &model.Maintenance{
		Enabled:   req.Enabled,
		Message:   req.Message,
		EnabledBy: req.EnabledBy,
	}
	if req.Enabled {
		flag.StartedAt = time.Now()
	}
	if err := s.maintRepo.Set(ctx, flag); err != nil {
		return nil, err
	}
	logger.WarnCtx(ctx, "maintenance mode set, enabled: %v, by: %s", req.Enabled, req.EnabledBy)
	return flag, nil
}
