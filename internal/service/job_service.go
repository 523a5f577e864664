package service

import (
	"context"
	"fmt"
	"time"

	"trainfleet/internal/model"
	"trainfleet/pkg/errs"
	"trainfleet/pkg/logger"
	"trainfleet/pkg/status"
	"trainfleet/pkg/store/mysql"

	"github.com/google/uuid"
)

// Hard fleet cap on shards per distributed job, matching the largest free-tier
// fleet observed in practice.
const maxShardsPerJob = 4

// JobService owns the job store: submission, queries, log/progress ingestion,
// cancellation, terminal results and the shard planner.
type JobService struct {
	jobRepo    jobRepository
	shardRepo  shardRepository
	logRepo    logRepository
	policyRepo policyRepository
	workerRepo workerRepository
	notifier   notifier
	sanitizer  *status.Sanitizer
}

// NewJobService creates a new job service
func NewJobService(jobRepo jobRepository, shardRepo shardRepository, logRepo logRepository, policyRepo policyRepository, workerRepo workerRepository, notifier notifier) *JobService {
	return &JobService{
		jobRepo:    jobRepo,
		shardRepo:  shardRepo,
		logRepo:    logRepo,
		policyRepo: policyRepo,
		workerRepo: workerRepo,
		notifier:   notifier,
		sanitizer:  status.NewSanitizer(),
	}
}

// SubmitJob validates the spec against the capacity policy and creates the
// job in PENDING. Distributed jobs get their shard rows in the same
// transaction so they are never claimable half-planned.
func (s *JobService) SubmitJob(ctx context.Context, req *model.SubmitRequest) (*model.SubmitResponse, error) {
	policy, err := s.policy(ctx)
	if err != nil {
		return nil, err
	}

	if err := validateSubmit(req, policy); err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	now := time.Now()

	job := &model.Job{
		ID:          jobID,
		UserID:      req.UserID,
		Project:     req.Project,
		Status:      model.JobStatusPending,
		Resources:   req.Resources,
		WorkerCount: req.WorkerCount,
		Platform:    req.Platform,
		CreatedAt:   now,
	}

	row := mysql.FromJobDomain(job)
	shardRows := planShards(job, now)

	if err := s.jobRepo.CreateWithShards(ctx, row, shardRows); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	s.publish(ctx, &model.JobEvent{
		Type:      model.JobEventSubmitted,
		JobID:     jobID,
		Status:    model.JobStatusPending,
		Timestamp: now,
	})

	logger.InfoCtx(ctx, "job submitted, job_id: %s, project: %s, gpus: %d, shards: %d",
		jobID, req.Project, req.Resources.GPUCount, len(shardRows))

	return &model.SubmitResponse{
		ID:     jobID,
		Status: model.JobStatusPending,
	}, nil
}

// planShards builds the shard rows for a distributed job, one independent
// claimable unit per requested worker, each carrying 1/N of the data.
func planShards(job *model.Job, now time.Time) []*mysql.Shard {
	if !job.Distributed() {
		return nil
	}
	n := job.WorkerCount
	if n > maxShardsPerJob {
		n = maxShardsPerJob
	}
	shards := make([]*mysql.Shard, 0, n)
	for i := 0; i < n; i++ {
		shards = append(shards, &mysql.Shard{
			ShardID:    fmt.Sprintf("%s/%d", job.ID, i),
			JobID:      job.ID,
			ShardIndex: i,
			Fraction:   1.0 / float64(n),
			Status:     string(model.ShardStatusPending),
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	return shards
}

func validateSubmit(req *model.SubmitRequest, policy *model.CapacityPolicy) error {
	if req.Resources.GPUCount < 0 || req.Resources.CPUCount < 0 || req.Resources.MemoryGB < 0 {
		return errs.Validationf("negative resource request")
	}
	if req.Resources.GPUCount > policy.MaxGPUPerJob {
		return errs.Validationf("gpu_count %d exceeds max_gpu_per_job %d", req.Resources.GPUCount, policy.MaxGPUPerJob)
	}
	if req.WorkerCount < 0 {
		return errs.Validationf("negative worker_count")
	}
	if req.WorkerCount > maxShardsPerJob {
		return errs.Validationf("worker_count %d exceeds fleet cap %d", req.WorkerCount, maxShardsPerJob)
	}
	return nil
}

// GetJob returns the full job record including shards and logs
func (s *JobService) GetJob(ctx context.Context, jobID string) (*model.Job, []model.LogLine, error) {
	row, err := s.jobRepo.Get(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}

	job := mysql.ToJobDomain(row)

	if job.Distributed() {
		shardRows, err := s.shardRepo.ListByJob(ctx, jobID)
		if err != nil {
			return nil, nil, err
		}
		for _, sr := range shardRows {
			job.Shards = append(job.Shards, mysql.ToShardDomain(sr))
		}
	}

	logRows, err := s.logRepo.ListByJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	lines := make([]model.LogLine, 0, len(logRows))
	for _, lr := range logRows {
		lines = append(lines, mysql.ToLogDomain(lr))
	}

	return job, lines, nil
}

// ListJobs returns job summaries with optional filters
func (s *JobService) ListJobs(ctx context.Context, status, userID, project string, limit, offset int) ([]*model.Job, int64, error) {
	filters := make(map[string]interface{})
	if status != "" {
		filters["status"] = status
	}
	if userID != "" {
		filters["user_id"] = userID
	}
	if project != "" {
		filters["project"] = project
	}

	total, err := s.jobRepo.Count(ctx, filters)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.jobRepo.List(ctx, filters, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	jobs := make([]*model.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, mysql.ToJobDomain(row))
	}
	return jobs, total, nil
}

// AppendLog appends one line to the job's log. Allowed in any status: late
// lines from a racing worker are tolerated, the log is append-only either way.
func (s *JobService) AppendLog(ctx context.Context, jobID, message string) error {
	if _, err := s.jobRepo.Get(ctx, jobID); err != nil {
		return err
	}
	return s.logRepo.Append(ctx, jobID, message, time.Now())
}

// AppendLogBatch appends several lines preserving the caller's order
func (s *JobService) AppendLogBatch(ctx context.Context, jobID string, messages []string) error {
	if len(messages) == 0 {
		return nil
	}
	if _, err := s.jobRepo.Get(ctx, jobID); err != nil {
		return err
	}
	return s.logRepo.AppendBatch(ctx, jobID, messages, time.Now())
}

// SetProgress records worker-reported progress, clamped to [0,100]. Reports
// against a job that is no longer RUNNING are dropped silently: they are
// stale echoes from a reclaimed or cancelled assignment.
func (s *JobService) SetProgress(ctx context.Context, jobID, shardID string, percent int) error {
	percent = clampProgress(percent)

	if shardID != "" {
		applied, err := s.shardRepo.SetProgressIfRunning(ctx, shardID, percent)
		if err != nil {
			return err
		}
		if !applied {
			logger.DebugCtx(ctx, "stale shard progress dropped, shard_id: %s", shardID)
		}
		return nil
	}

	applied, err := s.jobRepo.SetProgressIfRunning(ctx, jobID, percent)
	if err != nil {
		return err
	}
	if !applied {
		logger.DebugCtx(ctx, "stale job progress dropped, job_id: %s", jobID)
	}
	return nil
}

func clampProgress(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

// CancelJob cancels a pending or running job. Terminal jobs are rejected.
func (s *JobService) CancelJob(ctx context.Context, jobID string) error {
	row, err := s.jobRepo.Get(ctx, jobID)
	if err != nil {
		return err
	}

	status := model.JobStatus(row.Status)
	if status.Terminal() {
		return errs.Validationf("job %s already finished (%s)", jobID, status)
	}

	now := time.Now()
	fields := map[string]interface{}{
		"assigned_worker_id": "",
		"completed_at":       now,
		"updated_at":         now,
	}

	err = s.jobRepo.Transition(ctx, jobID, string(status), string(model.JobStatusCancelled), fields)
	if errs.IsConflict(err) {
		// Status moved between read and write; retry once against the
		// other non-terminal state before giving up.
		other := model.JobStatusRunning
		if status == model.JobStatusRunning {
			other = model.JobStatusPending
		}
		err = s.jobRepo.Transition(ctx, jobID, string(other), string(model.JobStatusCancelled), fields)
	}
	if err != nil {
		return err
	}

	if row.WorkerCount > 0 {
		if err := s.shardRepo.CancelPending(ctx, jobID); err != nil {
			logger.WarnCtx(ctx, "failed to cancel pending shards, job_id: %s, error: %v", jobID, err)
		}
	}

	s.publish(ctx, &model.JobEvent{
		Type:      model.JobEventCancelled,
		JobID:     jobID,
		Status:    model.JobStatusCancelled,
		Timestamp: now,
	})

	logger.InfoCtx(ctx, "job cancelled, job_id: %s", jobID)
	return nil
}

// SubmitResult records a worker's terminal report for its job or shard and
// releases the worker.
func (s *JobService) SubmitResult(ctx context.Context, workerID, jobID string, req *model.ResultRequest) error {
	now := time.Now()
	failed := req.Error != ""

	// Worker tracebacks may carry tokens and paths; scrub before persisting
	errMsg := ""
	if failed {
		errMsg = s.sanitizer.Sanitize(req.Error)
	}

	if req.ShardID != "" {
		if err := s.finishShard(ctx, jobID, req.ShardID, errMsg, now); err != nil {
			if errs.IsConflict(err) {
				// The shard's fate was already decided (cancel, reclaim or
				// admin override). The report is moot but the worker still
				// goes back to the pool.
				s.releaseWorker(ctx, workerID, false)
			}
			return err
		}
	} else {
		toStatus := model.JobStatusCompleted
		fields := map[string]interface{}{
			"completed_at": now,
			"updated_at":   now,
			"progress":     100,
		}
		if failed {
			toStatus = model.JobStatusFailed
			fields["error"] = errMsg
			delete(fields, "progress")
		}
		if err := s.jobRepo.Transition(ctx, jobID, string(model.JobStatusRunning), string(toStatus), fields); err != nil {
			if errs.IsConflict(err) {
				// Lost the race against a cancel or admin override; the job
				// no longer belongs to this worker either way.
				s.releaseWorker(ctx, workerID, false)
			}
			return err
		}

		eventType := model.JobEventCompleted
		if failed {
			eventType = model.JobEventFailed
		}
		s.publish(ctx, &model.JobEvent{
			Type:      eventType,
			JobID:     jobID,
			WorkerID:  workerID,
			Status:    toStatus,
			Timestamp: now,
		})
	}

	s.releaseWorker(ctx, workerID, !failed)

	logger.InfoCtx(ctx, "result recorded, job_id: %s, shard_id: %s, worker_id: %s, failed: %v",
		jobID, req.ShardID, workerID, failed)
	return nil
}

// finishShard applies a shard's terminal state and re-derives the parent.
func (s *JobService) finishShard(ctx context.Context, jobID, shardID, errMsg string, now time.Time) error {
	toStatus := model.ShardStatusCompleted
	fields := map[string]interface{}{
		"completed_at": now,
		"updated_at":   now,
		"progress":     100,
	}
	if errMsg != "" {
		toStatus = model.ShardStatusFailed
		fields["error"] = errMsg
		delete(fields, "progress")
	}

	if err := s.shardRepo.Transition(ctx, shardID, string(model.ShardStatusRunning), string(toStatus), fields); err != nil {
		return err
	}

	return s.SyncDistributedJob(ctx, jobID)
}

// SyncDistributedJob re-derives the parent job's status from its shards and
// applies it through the normal CAS transition. Lost races are benign: a
// concurrent admin action already decided the job's fate.
func (s *JobService) SyncDistributedJob(ctx context.Context, jobID string) error {
	shardRows, err := s.shardRepo.ListByJob(ctx, jobID)
	if err != nil {
		return err
	}

	shards := make([]*model.Shard, 0, len(shardRows))
	for _, sr := range shardRows {
		shards = append(shards, mysql.ToShardDomain(sr))
	}

	derived := DeriveJobStatus(shards)
	now := time.Now()

	switch derived {
	case model.JobStatusCompleted:
		err = s.jobRepo.Transition(ctx, jobID, string(model.JobStatusRunning), string(model.JobStatusCompleted), map[string]interface{}{
			"completed_at": now,
			"updated_at":   now,
			"progress":     100,
		})
		if err == nil {
			s.publish(ctx, &model.JobEvent{
				Type:      model.JobEventCompleted,
				JobID:     jobID,
				Status:    model.JobStatusCompleted,
				Timestamp: now,
			})
		}
	case model.JobStatusFailed:
		// Fail-fast: one failed shard fails the job and cancels siblings
		// still waiting for a claim.
		err = s.jobRepo.Transition(ctx, jobID, string(model.JobStatusRunning), string(model.JobStatusFailed), map[string]interface{}{
			"completed_at": now,
			"updated_at":   now,
			"error":        firstShardError(shards),
		})
		if err == nil {
			if cancelErr := s.shardRepo.CancelPending(ctx, jobID); cancelErr != nil {
				logger.WarnCtx(ctx, "failed to cancel pending shards, job_id: %s, error: %v", jobID, cancelErr)
			}
			s.publish(ctx, &model.JobEvent{
				Type:      model.JobEventFailed,
				JobID:     jobID,
				Status:    model.JobStatusFailed,
				Timestamp: now,
			})
		}
	case model.JobStatusPending:
		// All shards back to PENDING (reclaimed before any finished)
		err = s.jobRepo.Transition(ctx, jobID, string(model.JobStatusRunning), string(model.JobStatusPending), map[string]interface{}{
			"started_at": nil,
			"updated_at": now,
		})
	default:
		return nil
	}

	if errs.IsConflict(err) {
		logger.DebugCtx(ctx, "derived status race lost, job_id: %s, derived: %s", jobID, derived)
		return nil
	}
	return err
}

// DeriveJobStatus computes a distributed job's status from its shards.
// Fail-fast: any failed shard fails the job. Completed only when every
// shard completed. Running while at least one shard runs or any shard has
// already finished (the job is past its first claim).
func DeriveJobStatus(shards []*model.Shard) model.JobStatus {
	if len(shards) == 0 {
		return model.JobStatusPending
	}

	completed := 0
	anyRunning := false
	for _, shard := range shards {
		switch shard.Status {
		case model.ShardStatusFailed:
			return model.JobStatusFailed
		case model.ShardStatusCompleted:
			completed++
		case model.ShardStatusRunning:
			anyRunning = true
		}
	}

	if completed == len(shards) {
		return model.JobStatusCompleted
	}
	if anyRunning || completed > 0 {
		return model.JobStatusRunning
	}
	return model.JobStatusPending
}

func firstShardError(shards []*model.Shard) string {
	for _, shard := range shards {
		if shard.Status == model.ShardStatusFailed && shard.Error != "" {
			return fmt.Sprintf("shard %d: %s", shard.Index, shard.Error)
		}
	}
	return "shard failed"
}

// Stats returns job counts by status
func (s *JobService) Stats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64)
	for _, status := range []model.JobStatus{
		model.JobStatusPending,
		model.JobStatusRunning,
		model.JobStatusCompleted,
		model.JobStatusFailed,
		model.JobStatusCancelled,
	} {
		count, err := s.jobRepo.CountByStatus(ctx, string(status))
		if err != nil {
			return nil, err
		}
		stats[string(status)] = count
	}
	return stats, nil
}

// GetStatus returns just the job's current status
func (s *JobService) GetStatus(ctx context.Context, jobID string) (model.JobStatus, error) {
	row, err := s.jobRepo.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	return model.JobStatus(row.Status), nil
}

func (s *JobService) policy(ctx context.Context) (*model.CapacityPolicy, error) {
	row, err := s.policyRepo.Get(ctx)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("capacity policy not seeded")
	}
	return mysql.ToPolicyDomain(row), nil
}

// releaseWorker clears the worker's assignment after a terminal report
func (s *JobService) releaseWorker(ctx context.Context, workerID string, completed bool) {
	_, err := s.workerRepo.Upsert(ctx, workerID, func(w *model.Worker) {
		w.CurrentJobID = ""
		w.CurrentShardID = ""
		if w.ActiveJobs > 0 {
			w.ActiveJobs--
		}
		if w.ActiveJobs == 0 {
			w.Status = model.WorkerStatusIdle
		}
		if completed {
			w.TotalJobsCompleted++
		}
		w.LastHeartbeat = time.Now()
	})
	if err != nil {
		// Reconciled by the next heartbeat; the job transition is the
		// authoritative commit point.
		logger.WarnCtx(ctx, "failed to release worker, worker_id: %s, error: %v", workerID, err)
	}
}

func (s *JobService) publish(ctx context.Context, event *model.JobEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PublishJobEvent(ctx, event); err != nil {
		logger.WarnCtx(ctx, "failed to publish job event, type: %s, job_id: %s, error: %v", event.Type, event.JobID, err)
	}
}
