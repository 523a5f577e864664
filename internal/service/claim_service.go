package service

import (
	"context"
	"sync"
	"time"

	"trainfleet/internal/model"
	"trainfleet/internal/scheduler"
	"trainfleet/pkg/errs"
	"trainfleet/pkg/logger"
	"trainfleet/pkg/store/mysql"
)

// ClaimService is the single choke point through which a polling worker
// acquires work. No locks are held across calls: the CAS status transition
// in the job store is the only synchronization primitive, and a lost race
// simply moves the coordinator to the next ranked candidate.
type ClaimService struct {
	jobRepo    jobRepository
	shardRepo  shardRepository
	workerRepo workerRepository
	policyRepo policyRepository
	maintRepo  maintenanceRepository
	notifier   notifier

	retryLimit     int
	candidateLimit int

	// Strategies are cached per name so stateful rankers (the round-robin
	// cursor) survive across claim calls.
	mu         sync.Mutex
	strategies map[string]scheduler.Strategy
}

// NewClaimService creates a new claim coordinator
func NewClaimService(jobRepo jobRepository, shardRepo shardRepository, workerRepo workerRepository, policyRepo policyRepository, maintRepo maintenanceRepository, notifier notifier, retryLimit, candidateLimit int) *ClaimService {
	if retryLimit <= 0 {
		retryLimit = 3
	}
	if candidateLimit <= 0 {
		candidateLimit = 50
	}
	return &ClaimService{
		jobRepo:        jobRepo,
		shardRepo:      shardRepo,
		workerRepo:     workerRepo,
		policyRepo:     policyRepo,
		maintRepo:      maintRepo,
		notifier:       notifier,
		retryLimit:     retryLimit,
		candidateLimit: candidateLimit,
		strategies:     make(map[string]scheduler.Strategy),
	}
}

// Claim attempts to hand the worker its next job or shard. Returns a
// response with a nil Job when nothing is claimable; returns
// errs.ErrMaintenance / errs.ErrCapacity when the corresponding
// precondition fails so the transport layer can decide how to present it.
func (s *ClaimService) Claim(ctx context.Context, workerID string, req *model.ClaimRequest) (*model.ClaimResponse, error) {
	now := time.Now()

	// Precondition 1: maintenance mode
	maint, err := s.maintRepo.Get(ctx)
	if err != nil {
		return nil, err
	}
	if maint.Enabled {
		return nil, errs.ErrMaintenance
	}

	// A claim doubles as a heartbeat; registration is implicit here too
	worker, err := s.workerRepo.Upsert(ctx, workerID, func(w *model.Worker) {
		if req.Platform != "" {
			w.Platform = req.Platform
		}
		w.Capability = req.Capability
		w.LastHeartbeat = now
		if !w.Disabled && w.Status == model.WorkerStatusOffline {
			w.Status = model.WorkerStatusIdle
		}
	})
	if err != nil {
		return nil, err
	}

	// Precondition 2: disabled workers are never selected
	if worker.Disabled {
		return &model.ClaimResponse{Reason: "worker disabled"}, nil
	}

	// Single-slot notebooks: a busy worker gets nothing until it reports
	if worker.ActiveJobs > 0 {
		return &model.ClaimResponse{Reason: "worker busy"}, nil
	}

	// Policy is re-read on every claim so admin edits apply immediately
	policy, err := s.policy(ctx)
	if err != nil {
		return nil, err
	}

	// Precondition 3: platform allow-list
	if !policy.PlatformAllowed(worker.Platform) {
		return &model.ClaimResponse{Reason: "platform not allowed"}, nil
	}

	// Precondition 4: global running ceiling
	running, err := s.jobRepo.CountByStatus(ctx, string(model.JobStatusRunning))
	if err != nil {
		return nil, err
	}
	if running >= int64(policy.MaxConcurrentJobs) {
		return nil, errs.Capacityf("max_concurrent_jobs %d reached", policy.MaxConcurrentJobs)
	}

	candidates, err := s.gatherCandidates(ctx, worker, policy)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return &model.ClaimResponse{Reason: "no pending jobs"}, nil
	}

	ranked := s.strategy(policy.LoadBalancingStrategy).Rank(candidates, worker)

	// Bounded retry against ranked candidates: losing a CAS race is the
	// expected contention outcome, not an error.
	attempts := s.retryLimit
	if attempts > len(ranked) {
		attempts = len(ranked)
	}
	for i := 0; i < attempts; i++ {
		assignment, err := s.tryClaim(ctx, worker, ranked[i], now)
		if errs.IsConflict(err) {
			logger.DebugCtx(ctx, "claim race lost, candidate: %s, worker_id: %s", ranked[i].ID(), workerID)
			continue
		}
		if err != nil {
			return nil, err
		}
		return &model.ClaimResponse{Job: assignment}, nil
	}

	return &model.ClaimResponse{Reason: "claim contention"}, nil
}

// gatherCandidates collects claimable units the worker can satisfy:
// non-distributed PENDING jobs plus PENDING shards of distributed jobs
// (whose parent may already be RUNNING). Filtering happens before ranking.
func (s *ClaimService) gatherCandidates(ctx context.Context, worker *model.Worker, policy *model.CapacityPolicy) ([]scheduler.Candidate, error) {
	jobRows, err := s.jobRepo.ListByStatus(ctx, string(model.JobStatusPending), s.candidateLimit)
	if err != nil {
		return nil, err
	}

	candidates := make([]scheduler.Candidate, 0, len(jobRows))
	for _, row := range jobRows {
		if row.WorkerCount > 0 {
			continue // distributed jobs are claimed per shard below
		}
		job := mysql.ToJobDomain(row)
		if !satisfiable(job, worker, policy) {
			continue
		}
		candidates = append(candidates, scheduler.Candidate{Job: job})
	}

	shardRows, err := s.shardRepo.ListByStatus(ctx, string(model.ShardStatusPending), s.candidateLimit)
	if err != nil {
		return nil, err
	}

	parents := make(map[string]*model.Job, len(shardRows))
	for _, sr := range shardRows {
		parent, ok := parents[sr.JobID]
		if !ok {
			parentRow, err := s.jobRepo.Get(ctx, sr.JobID)
			if err != nil {
				if errs.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			parent = mysql.ToJobDomain(parentRow)
			parents[sr.JobID] = parent
		}
		// A shard is only claimable while its parent is still in flight
		if parent.Status != model.JobStatusPending && parent.Status != model.JobStatusRunning {
			continue
		}
		if !satisfiable(parent, worker, policy) {
			continue
		}
		candidates = append(candidates, scheduler.Candidate{Job: parent, Shard: mysql.ToShardDomain(sr)})
	}

	return candidates, nil
}

// satisfiable checks whether the worker can run the job under the policy
func satisfiable(job *model.Job, worker *model.Worker, policy *model.CapacityPolicy) bool {
	if job.Resources.GPUCount > 0 {
		if !worker.Capability.GPUPresent {
			return false
		}
		if worker.Capability.GPUMemoryGB < policy.GPUMemoryThresholdGB {
			return false
		}
	}
	// Jobs may pin themselves to a platform (e.g. known bigger VRAM)
	if job.Platform != "" && job.Platform != worker.Platform {
		return false
	}
	return true
}

// tryClaim attempts the atomic transition for one candidate. The job/shard
// CAS is the authoritative commit point; the worker-busy update afterwards
// is best-effort and reconciled by the next heartbeat or sweep.
func (s *ClaimService) tryClaim(ctx context.Context, worker *model.Worker, cand scheduler.Candidate, now time.Time) (*model.Assignment, error) {
	if cand.Shard != nil {
		err := s.shardRepo.Transition(ctx, cand.Shard.ID, string(model.ShardStatusPending), string(model.ShardStatusRunning), map[string]interface{}{
			"assigned_worker_id": worker.ID,
			"started_at":         now,
			"updated_at":         now,
		})
		if err != nil {
			return nil, err
		}

		// First claimed shard moves the parent to RUNNING; a conflict
		// just means another shard got there first.
		err = s.jobRepo.Transition(ctx, cand.Job.ID, string(model.JobStatusPending), string(model.JobStatusRunning), map[string]interface{}{
			"started_at": now,
			"updated_at": now,
		})
		if err != nil && !errs.IsConflict(err) {
			return nil, err
		}
	} else {
		err := s.jobRepo.Transition(ctx, cand.Job.ID, string(model.JobStatusPending), string(model.JobStatusRunning), map[string]interface{}{
			"assigned_worker_id": worker.ID,
			"started_at":         now,
			"updated_at":         now,
		})
		if err != nil {
			return nil, err
		}
	}

	shardID := ""
	fraction := 0.0
	if cand.Shard != nil {
		shardID = cand.Shard.ID
		fraction = cand.Shard.Fraction
	}

	if _, err := s.workerRepo.Upsert(ctx, worker.ID, func(w *model.Worker) {
		w.Status = model.WorkerStatusBusy
		w.CurrentJobID = cand.Job.ID
		w.CurrentShardID = shardID
		w.ActiveJobs++
		w.LastHeartbeat = now
	}); err != nil {
		logger.WarnCtx(ctx, "failed to mark worker busy, worker_id: %s, error: %v", worker.ID, err)
	}

	s.publishClaim(ctx, cand, worker.ID, shardID, now)

	logger.InfoCtx(ctx, "claim succeeded, job_id: %s, shard_id: %s, worker_id: %s",
		cand.Job.ID, shardID, worker.ID)

	return &model.Assignment{
		JobID:    cand.Job.ID,
		ShardID:  shardID,
		Project:  cand.Job.Project,
		UserID:   cand.Job.UserID,
		Resource: cand.Job.Resources,
		Fraction: fraction,
	}, nil
}

func (s *ClaimService) publishClaim(ctx context.Context, cand scheduler.Candidate, workerID, shardID string, now time.Time) {
	if s.notifier == nil {
		return
	}
	event := &model.JobEvent{
		Type:      model.JobEventClaimed,
		JobID:     cand.Job.ID,
		ShardID:   shardID,
		WorkerID:  workerID,
		Status:    model.JobStatusRunning,
		Timestamp: now,
	}
	if err := s.notifier.PublishJobEvent(ctx, event); err != nil {
		logger.WarnCtx(ctx, "failed to publish claim event, job_id: %s, error: %v", cand.Job.ID, err)
	}
}

func (s *ClaimService) strategy(name string) scheduler.Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	strat, ok := s.strategies[name]
	if !ok {
		strat = scheduler.New(name)
		s.strategies[name] = strat
	}
	return strat
}

func (s *ClaimService) policy(ctx context.Context) (*model.CapacityPolicy, error) {
	row, err := s.policyRepo.Get(ctx)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errs.Validationf("capacity policy not seeded")
	}
	return mysql.ToPolicyDomain(row), nil
}
