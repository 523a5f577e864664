package service

import (
	"context"
	"sort"
	"time"

	"trainfleet/internal/model"
	"trainfleet/pkg/errs"
	"trainfleet/pkg/logger"
)

// WorkerService manages the worker registry: heartbeats, listing and the
// piggy-backed progress/log ingestion a heartbeat may carry.
type WorkerService struct {
	workerRepo workerRepository
	jobService *JobService
}

// NewWorkerService creates a new worker service
func NewWorkerService(workerRepo workerRepository, jobService *JobService) *WorkerService {
	return &WorkerService{
		workerRepo: workerRepo,
		jobService: jobService,
	}
}

// Heartbeat refreshes the worker's liveness and absorbs any progress or log
// lines riding along. Registration is implicit: an unknown worker id creates
// the registry entry on first contact.
func (s *WorkerService) Heartbeat(ctx context.Context, workerID string, req *model.HeartbeatRequest) (*model.HeartbeatResponse, error) {
	now := time.Now()

	worker, err := s.workerRepo.Upsert(ctx, workerID, func(w *model.Worker) {
		w.LastHeartbeat = now
		if req.Platform != "" {
			w.Platform = req.Platform
		}
		if req.Capability != (model.Capability{}) {
			w.Capability = req.Capability
		}
		// Self-reported status is advisory; disabled and busy bookkeeping
		// stay under coordinator control.
		if !w.Disabled && w.ActiveJobs == 0 && req.Status == model.WorkerStatusIdle {
			w.Status = model.WorkerStatusIdle
		}
		if w.Status == model.WorkerStatusOffline && !w.Disabled {
			// A heartbeat from an OFFLINE worker brings it back
			if w.ActiveJobs > 0 {
				w.Status = model.WorkerStatusBusy
			} else {
				w.Status = model.WorkerStatusIdle
			}
		}
	})
	if err != nil {
		return nil, err
	}

	resp := &model.HeartbeatResponse{Status: "ok"}

	jobID := req.JobID
	if jobID == "" {
		jobID = worker.CurrentJobID
	}
	if jobID == "" {
		return resp, nil
	}

	if len(req.LogLines) > 0 {
		if err := s.jobService.AppendLogBatch(ctx, jobID, req.LogLines); err != nil {
			if !errs.IsNotFound(err) {
				return nil, err
			}
			logger.DebugCtx(ctx, "log lines for unknown job dropped, job_id: %s, worker_id: %s", jobID, workerID)
		}
	}

	if req.Progress != nil {
		if err := s.jobService.SetProgress(ctx, jobID, req.ShardID, *req.Progress); err != nil && !errs.IsNotFound(err) {
			return nil, err
		}
	}

	// Echo the authoritative status so a worker whose job was cancelled or
	// reclaimed out from under it finds out on the next beat.
	status, err := s.jobService.GetStatus(ctx, jobID)
	if err != nil && !errs.IsNotFound(err) {
		return nil, err
	}
	if err == nil {
		resp.JobStatus = status
	}

	// The claim bookkeeping on the worker row is best-effort; the heartbeat
	// is where it gets reconciled. A tracked job that is gone or no longer
	// RUNNING means the assignment is over, whatever the worker missed.
	if worker.CurrentJobID == jobID && (errs.IsNotFound(err) || status != model.JobStatusRunning) {
		s.clearAssignment(ctx, workerID)
	}

	return resp, nil
}

// clearAssignment drops a stale assignment so the worker can claim again
func (s *WorkerService) clearAssignment(ctx context.Context, workerID string) {
	if _, err := s.workerRepo.Upsert(ctx, workerID, func(w *model.Worker) {
		w.CurrentJobID = ""
		w.CurrentShardID = ""
		w.ActiveJobs = 0
		if !w.Disabled {
			w.Status = model.WorkerStatusIdle
		}
	}); err != nil {
		logger.WarnCtx(ctx, "failed to clear stale assignment, worker_id: %s, error: %v", workerID, err)
	}
}

// GetWorker returns one worker by id
func (s *WorkerService) GetWorker(ctx context.Context, workerID string) (*model.Worker, error) {
	return s.workerRepo.Get(ctx, workerID)
}

// ListWorkers returns all registered workers ordered by id
func (s *WorkerService) ListWorkers(ctx context.Context) ([]*model.Worker, error) {
	workers, err := s.workerRepo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(workers, func(i, j int) bool {
		return workers[i].ID < workers[j].ID
	})
	return workers, nil
}
