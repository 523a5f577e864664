package jobs

import (
	"context"
	"time"

	"trainfleet/internal/model"
	"trainfleet/pkg/errs"
	"trainfleet/pkg/lock"
	"trainfleet/pkg/logger"
	"trainfleet/pkg/store/mysql"
)

// Narrow views of the stores so the sweep is testable with fakes.

type workerRegistry interface {
	GetAll(ctx context.Context) ([]*model.Worker, error)
	Upsert(ctx context.Context, workerID string, mutate func(*model.Worker)) (*model.Worker, error)
	Delete(ctx context.Context, workerID string) error
}

type jobStore interface {
	Transition(ctx context.Context, jobID, fromStatus, toStatus string, fields map[string]interface{}) error
	GetRunningByWorker(ctx context.Context, workerID string) ([]*mysql.Job, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]*mysql.Job, error)
}

type shardStore interface {
	Transition(ctx context.Context, shardID, fromStatus, toStatus string, fields map[string]interface{}) error
	ListByStatus(ctx context.Context, status string, limit int) ([]*mysql.Shard, error)
}

type policyStore interface {
	Get(ctx context.Context) (*mysql.CapacityPolicy, error)
}

type jobSyncer interface {
	SyncDistributedJob(ctx context.Context, jobID string) error
}

type notifier interface {
	PublishJobEvent(ctx context.Context, event *model.JobEvent) error
}

// LivenessSweep periodically marks workers with lapsed heartbeats OFFLINE,
// reclaims their in-flight jobs and shards back to PENDING, and garbage
// collects workers that stayed silent far past the timeout. The sweep is the
// crash-recovery path: a notebook that vanished mid-job loses its claim here
// and the work becomes claimable again.
type LivenessSweep struct {
	workerRepo workerRegistry
	jobRepo    jobStore
	shardRepo  shardStore
	policyRepo policyStore
	syncer     jobSyncer
	notifier   notifier
	lock       lock.DistributedLock

	interval time.Duration
	gcFactor int
}

// NewLivenessSweep creates the sweep job. gcFactor multiplies the worker
// timeout into the offline GC horizon.
func NewLivenessSweep(workerRepo workerRegistry, jobRepo jobStore, shardRepo shardStore, policyRepo policyStore, syncer jobSyncer, notifier notifier, sweepLock lock.DistributedLock, interval time.Duration, gcFactor int) *LivenessSweep {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if gcFactor <= 0 {
		gcFactor = 24
	}
	return &LivenessSweep{
		workerRepo: workerRepo,
		jobRepo:    jobRepo,
		shardRepo:  shardRepo,
		policyRepo: policyRepo,
		syncer:     syncer,
		notifier:   notifier,
		lock:       sweepLock,
		interval:   interval,
		gcFactor:   gcFactor,
	}
}

func (j *LivenessSweep) Name() string            { return "liveness-sweep" }
func (j *LivenessSweep) Interval() time.Duration { return j.interval }

// Run executes one sweep pass under the distributed lock.
func (j *LivenessSweep) Run(ctx context.Context) error {
	if j.lock != nil {
		acquired, err := j.lock.TryLock(ctx)
		if err != nil {
			return err
		}
		if !acquired {
			return nil
		}
		defer func() {
			if err := j.lock.Unlock(ctx); err != nil {
				logger.WarnCtx(ctx, "failed to release sweep lock: %v", err)
			}
		}()
	}

	policyRow, err := j.policyRepo.Get(ctx)
	if err != nil {
		return err
	}
	if policyRow == nil {
		logger.WarnCtx(ctx, "capacity policy not seeded, skipping liveness sweep")
		return nil
	}
	policy := mysql.ToPolicyDomain(policyRow)

	timeout := policy.WorkerTimeout()
	gcHorizon := time.Duration(j.gcFactor) * timeout

	workers, err := j.workerRepo.GetAll(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, worker := range workers {
		silence := now.Sub(worker.LastHeartbeat)
		if silence <= timeout {
			continue
		}

		if worker.Status != model.WorkerStatusOffline {
			j.markOffline(ctx, worker, now)
		}

		if silence > gcHorizon {
			if err := j.workerRepo.Delete(ctx, worker.ID); err != nil {
				logger.WarnCtx(ctx, "failed to gc worker, worker_id: %s, error: %v", worker.ID, err)
				continue
			}
			logger.InfoCtx(ctx, "offline worker garbage collected, worker_id: %s, silent: %v", worker.ID, silence.Round(time.Second))
		}
	}

	j.reclaimOrphans(ctx, workers, timeout, now)

	return nil
}

// orphanScanLimit bounds one sweep's orphan query; leftovers are picked up
// by the next pass.
const orphanScanLimit = 500

// reclaimOrphans walks RUNNING jobs and shards from the store side and
// returns to PENDING any whose assigned worker is absent from the registry
// or no longer alive. This catches what the registry-driven pass cannot:
// a crash between the claim CAS and the worker upsert, and workers deleted
// by an admin or GC'd while still holding work.
func (j *LivenessSweep) reclaimOrphans(ctx context.Context, workers []*model.Worker, timeout time.Duration, now time.Time) {
	alive := make(map[string]bool, len(workers))
	for _, w := range workers {
		if w.Status != model.WorkerStatusOffline && now.Sub(w.LastHeartbeat) <= timeout {
			alive[w.ID] = true
		}
	}

	jobRows, err := j.jobRepo.ListByStatus(ctx, string(model.JobStatusRunning), orphanScanLimit)
	if err != nil {
		logger.WarnCtx(ctx, "failed to list running jobs for orphan scan: %v", err)
	} else {
		for _, row := range jobRows {
			if row.WorkerCount > 0 {
				// Distributed parents are derived from shards, not reclaimed directly
				continue
			}
			if alive[row.AssignedWorkerID] {
				continue
			}
			if j.reclaimJobID(ctx, row.JobID, row.AssignedWorkerID, now) {
				logger.InfoCtx(ctx, "orphaned job reclaimed, job_id: %s, worker_id: %s", row.JobID, row.AssignedWorkerID)
			}
		}
	}

	shardRows, err := j.shardRepo.ListByStatus(ctx, string(model.ShardStatusRunning), orphanScanLimit)
	if err != nil {
		logger.WarnCtx(ctx, "failed to list running shards for orphan scan: %v", err)
		return
	}
	for _, row := range shardRows {
		if alive[row.AssignedWorkerID] {
			continue
		}
		if j.reclaimShardID(ctx, row.ShardID, row.JobID, row.AssignedWorkerID, now) {
			logger.InfoCtx(ctx, "orphaned shard reclaimed, shard_id: %s, worker_id: %s", row.ShardID, row.AssignedWorkerID)
		}
	}
}

// markOffline flips the worker OFFLINE and reclaims everything it held.
func (j *LivenessSweep) markOffline(ctx context.Context, worker *model.Worker, now time.Time) {
	logger.WarnCtx(ctx, "worker heartbeat lapsed, marking offline, worker_id: %s, last_heartbeat: %v",
		worker.ID, worker.LastHeartbeat.Format(time.RFC3339))

	if worker.CurrentShardID != "" {
		j.reclaimShard(ctx, worker, now)
	}
	j.reclaimJobs(ctx, worker, now)

	if _, err := j.workerRepo.Upsert(ctx, worker.ID, func(w *model.Worker) {
		w.Status = model.WorkerStatusOffline
		w.CurrentJobID = ""
		w.CurrentShardID = ""
		w.ActiveJobs = 0
	}); err != nil {
		logger.WarnCtx(ctx, "failed to mark worker offline, worker_id: %s, error: %v", worker.ID, err)
	}
}

// reclaimShard returns the worker's shard to PENDING and re-derives the
// parent. A CAS conflict means the shard already finished; nothing to do.
func (j *LivenessSweep) reclaimShard(ctx context.Context, worker *model.Worker, now time.Time) {
	if j.reclaimShardID(ctx, worker.CurrentShardID, worker.CurrentJobID, worker.ID, now) {
		logger.InfoCtx(ctx, "shard reclaimed from dead worker, shard_id: %s, worker_id: %s", worker.CurrentShardID, worker.ID)
	}
}

// reclaimShardID performs the shard CAS back to PENDING, syncs the parent
// and publishes the reclaim event. Reports whether the reclaim happened.
func (j *LivenessSweep) reclaimShardID(ctx context.Context, shardID, jobID, workerID string, now time.Time) bool {
	fields := map[string]interface{}{
		"assigned_worker_id": "",
		"started_at":         nil,
		"progress":           0,
		"updated_at":         now,
	}
	err := j.shardRepo.Transition(ctx, shardID, string(model.ShardStatusRunning), string(model.ShardStatusPending), fields)
	if err != nil {
		if !errs.IsConflict(err) && !errs.IsNotFound(err) {
			logger.WarnCtx(ctx, "failed to reclaim shard, shard_id: %s, error: %v", shardID, err)
		}
		return false
	}

	if jobID != "" {
		if err := j.syncer.SyncDistributedJob(ctx, jobID); err != nil {
			logger.WarnCtx(ctx, "failed to sync job after shard reclaim, job_id: %s, error: %v", jobID, err)
		}
	}

	j.publishReclaim(ctx, jobID, shardID, workerID, now)
	return true
}

// reclaimJobs returns every RUNNING job assigned to the worker to PENDING.
// Queried from the store rather than trusting the registry snapshot, so jobs
// survive even when the worker record is stale.
func (j *LivenessSweep) reclaimJobs(ctx context.Context, worker *model.Worker, now time.Time) {
	rows, err := j.jobRepo.GetRunningByWorker(ctx, worker.ID)
	if err != nil {
		logger.WarnCtx(ctx, "failed to list running jobs for worker, worker_id: %s, error: %v", worker.ID, err)
		return
	}

	for _, row := range rows {
		if row.WorkerCount > 0 {
			// Distributed parents are derived from shards, not reclaimed directly
			continue
		}
		if j.reclaimJobID(ctx, row.JobID, worker.ID, now) {
			logger.InfoCtx(ctx, "job reclaimed from dead worker, job_id: %s, worker_id: %s", row.JobID, worker.ID)
		}
	}
}

// reclaimJobID performs the job CAS back to PENDING and publishes the
// reclaim event. Reports whether the reclaim happened.
func (j *LivenessSweep) reclaimJobID(ctx context.Context, jobID, workerID string, now time.Time) bool {
	fields := map[string]interface{}{
		"assigned_worker_id": "",
		"started_at":         nil,
		"progress":           0,
		"updated_at":         now,
	}
	err := j.jobRepo.Transition(ctx, jobID, string(model.JobStatusRunning), string(model.JobStatusPending), fields)
	if err != nil {
		if !errs.IsConflict(err) && !errs.IsNotFound(err) {
			logger.WarnCtx(ctx, "failed to reclaim job, job_id: %s, error: %v", jobID, err)
		}
		return false
	}

	j.publishReclaim(ctx, jobID, "", workerID, now)
	return true
}

func (j *LivenessSweep) publishReclaim(ctx context.Context, jobID, shardID, workerID string, now time.Time) {
	if j.notifier == nil {
		return
	}
	event := &model.JobEvent{
		Type:      model.JobEventReclaimed,
		JobID:     jobID,
		ShardID:   shardID,
		WorkerID:  workerID,
		Status:    model.JobStatusPending,
		Timestamp: now,
	}
	if err := j.notifier.PublishJobEvent(ctx, event); err != nil {
		logger.WarnCtx(ctx, "failed to publish reclaim event, job_id: %s, error: %v", jobID, err)
	}
}
