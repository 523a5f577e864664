package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"trainfleet/internal/model"
	"trainfleet/pkg/errs"
	"trainfleet/pkg/store/mysql"
)

// fakeStore is an in-memory stand-in for the MySQL repositories. Transition
// honors the same compare-and-swap contract as the real thing, which is what
// the concurrency scenarios below depend on.
type fakeStore struct {
	mu     sync.Mutex
	jobs   map[string]*mysql.Job
	shards map[string]*mysql.Shard
	logs   []*mysql.JobLog
	policy *mysql.CapacityPolicy
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:   make(map[string]*mysql.Job),
		shards: make(map[string]*mysql.Shard),
		policy: &mysql.CapacityPolicy{
			ID:                    1,
			MaxGPUPerJob:          4,
			GPUMemoryThresholdGB:  0,
			MaxConcurrentJobs:     100,
			WorkerTimeoutMinutes:  5,
			LoadBalancingStrategy: model.StrategyRoundRobin,
		},
	}
}

func copyJob(row *mysql.Job) *mysql.Job {
	c := *row
	return &c
}

func copyShard(row *mysql.Shard) *mysql.Shard {
	c := *row
	return &c
}

func asTimePtr(v interface{}) *time.Time {
	if v == nil {
		return nil
	}
	t := v.(time.Time)
	return &t
}

func applyJobFields(row *mysql.Job, fields map[string]interface{}) {
	for key, v := range fields {
		switch key {
		case "status":
			row.Status = v.(string)
		case "assigned_worker_id":
			row.AssignedWorkerID = v.(string)
		case "progress":
			row.Progress = v.(int)
		case "error":
			row.Error = v.(string)
		case "started_at":
			row.StartedAt = asTimePtr(v)
		case "completed_at":
			row.CompletedAt = asTimePtr(v)
		case "updated_at":
			row.UpdatedAt = v.(time.Time)
		}
	}
}

func applyShardFields(row *mysql.Shard, fields map[string]interface{}) {
	for key, v := range fields {
		switch key {
		case "status":
			row.Status = v.(string)
		case "assigned_worker_id":
			row.AssignedWorkerID = v.(string)
		case "progress":
			row.Progress = v.(int)
		case "error":
			row.Error = v.(string)
		case "started_at":
			row.StartedAt = asTimePtr(v)
		case "completed_at":
			row.CompletedAt = asTimePtr(v)
		case "updated_at":
			row.UpdatedAt = v.(time.Time)
		}
	}
}

// jobRepository

func (f *fakeStore) Create(_ context.Context, job *mysql.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.JobID] = copyJob(job)
	return nil
}

func (f *fakeStore) CreateWithShards(_ context.Context, job *mysql.Job, shards []*mysql.Shard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.JobID] = copyJob(job)
	for _, s := range shards {
		f.shards[s.ShardID] = copyShard(s)
	}
	return nil
}

func (f *fakeStore) Get(_ context.Context, jobID string) (*mysql.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.jobs[jobID]
	if !ok {
		return nil, errs.NotFoundf("job %s not found", jobID)
	}
	return copyJob(row), nil
}

func (f *fakeStore) Transition(_ context.Context, jobID, fromStatus, toStatus string, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.jobs[jobID]
	if !ok {
		return errs.NotFoundf("job %s not found", jobID)
	}
	if row.Status != fromStatus {
		return errs.Conflictf("job %s is %s, expected %s", jobID, row.Status, fromStatus)
	}
	row.Status = toStatus
	applyJobFields(row, fields)
	return nil
}

func (f *fakeStore) OverrideStatus(_ context.Context, jobID string, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.jobs[jobID]
	if !ok {
		return errs.NotFoundf("job %s not found", jobID)
	}
	applyJobFields(row, updates)
	return nil
}

func (f *fakeStore) SetProgressIfRunning(_ context.Context, jobID string, progress int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.jobs[jobID]
	if !ok || row.Status != string(model.JobStatusRunning) {
		return false, nil
	}
	row.Progress = progress
	return true, nil
}

func (f *fakeStore) ListByStatus(_ context.Context, status string, limit int) ([]*mysql.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := make([]*mysql.Job, 0)
	for _, row := range f.jobs {
		if row.Status == status {
			rows = append(rows, copyJob(row))
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (f *fakeStore) List(_ context.Context, filters map[string]interface{}, limit, offset int) ([]*mysql.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := make([]*mysql.Job, 0)
	for _, row := range f.jobs {
		if matchesFilters(row, filters) {
			rows = append(rows, copyJob(row))
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	if offset > len(rows) {
		offset = len(rows)
	}
	rows = rows[offset:]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func matchesFilters(row *mysql.Job, filters map[string]interface{}) bool {
	for key, v := range filters {
		switch key {
		case "status":
			if row.Status != v.(string) {
				return false
			}
		case "user_id":
			if row.UserID != v.(string) {
				return false
			}
		case "project":
			if row.Project != v.(string) {
				return false
			}
		}
	}
	return true
}

func (f *fakeStore) Count(_ context.Context, filters map[string]interface{}) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, row := range f.jobs {
		if matchesFilters(row, filters) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountByStatus(_ context.Context, status string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, row := range f.jobs {
		if row.Status == status {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) Delete(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, jobID)
	for id, s := range f.shards {
		if s.JobID == jobID {
			delete(f.shards, id)
		}
	}
	kept := f.logs[:0]
	for _, l := range f.logs {
		if l.JobID != jobID {
			kept = append(kept, l)
		}
	}
	f.logs = kept
	return nil
}

// shardRepository

func (f *fakeStore) GetShard(_ context.Context, shardID string) (*mysql.Shard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.shards[shardID]
	if !ok {
		return nil, errs.NotFoundf("shard %s not found", shardID)
	}
	return copyShard(row), nil
}

func (f *fakeStore) ListShardsByJob(_ context.Context, jobID string) ([]*mysql.Shard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := make([]*mysql.Shard, 0)
	for _, row := range f.shards {
		if row.JobID == jobID {
			rows = append(rows, copyShard(row))
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ShardIndex < rows[j].ShardIndex })
	return rows, nil
}

func (f *fakeStore) ListShardsByStatus(_ context.Context, status string, limit int) ([]*mysql.Shard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := make([]*mysql.Shard, 0)
	for _, row := range f.shards {
		if row.Status == status {
			rows = append(rows, copyShard(row))
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ShardID < rows[j].ShardID })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (f *fakeStore) TransitionShard(_ context.Context, shardID, fromStatus, toStatus string, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.shards[shardID]
	if !ok {
		return errs.NotFoundf("shard %s not found", shardID)
	}
	if row.Status != fromStatus {
		return errs.Conflictf("shard %s is %s, expected %s", shardID, row.Status, fromStatus)
	}
	row.Status = toStatus
	applyShardFields(row, fields)
	return nil
}

func (f *fakeStore) SetShardProgressIfRunning(_ context.Context, shardID string, progress int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.shards[shardID]
	if !ok || row.Status != string(model.ShardStatusRunning) {
		return false, nil
	}
	row.Progress = progress
	return true, nil
}

func (f *fakeStore) CancelPending(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.shards {
		if row.JobID == jobID && row.Status == string(model.ShardStatusPending) {
			row.Status = string(model.ShardStatusCancelled)
		}
	}
	return nil
}

// logRepository

func (f *fakeStore) Append(_ context.Context, jobID, message string, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, &mysql.JobLog{JobID: jobID, Message: message, Timestamp: ts})
	return nil
}

func (f *fakeStore) AppendBatch(_ context.Context, jobID string, messages []string, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msg := range messages {
		f.logs = append(f.logs, &mysql.JobLog{JobID: jobID, Message: msg, Timestamp: ts})
	}
	return nil
}

func (f *fakeStore) ListLogsByJob(_ context.Context, jobID string) ([]*mysql.JobLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := make([]*mysql.JobLog, 0)
	for _, l := range f.logs {
		if l.JobID == jobID {
			rows = append(rows, l)
		}
	}
	return rows, nil
}

// policyRepository

func (f *fakeStore) GetPolicy(_ context.Context) (*mysql.CapacityPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.policy == nil {
		return nil, nil
	}
	c := *f.policy
	return &c, nil
}

func (f *fakeStore) SavePolicy(_ context.Context, policy *mysql.CapacityPolicy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *policy
	f.policy = &c
	return nil
}

// Adapter views so one fakeStore serves all repository interfaces without
// method name clashes.

type fakeJobRepo struct{ *fakeStore }

type fakeShardRepo struct{ *fakeStore }

func (f fakeShardRepo) Get(ctx context.Context, shardID string) (*mysql.Shard, error) {
	return f.GetShard(ctx, shardID)
}

func (f fakeShardRepo) ListByJob(ctx context.Context, jobID string) ([]*mysql.Shard, error) {
	return f.ListShardsByJob(ctx, jobID)
}

func (f fakeShardRepo) ListByStatus(ctx context.Context, status string, limit int) ([]*mysql.Shard, error) {
	return f.ListShardsByStatus(ctx, status, limit)
}

func (f fakeShardRepo) Transition(ctx context.Context, shardID, fromStatus, toStatus string, fields map[string]interface{}) error {
	return f.TransitionShard(ctx, shardID, fromStatus, toStatus, fields)
}

func (f fakeShardRepo) SetProgressIfRunning(ctx context.Context, shardID string, progress int) (bool, error) {
	return f.SetShardProgressIfRunning(ctx, shardID, progress)
}

type fakeLogRepo struct{ *fakeStore }

func (f fakeLogRepo) ListByJob(ctx context.Context, jobID string) ([]*mysql.JobLog, error) {
	return f.ListLogsByJob(ctx, jobID)
}

type fakePolicyRepo struct{ *fakeStore }

func (f fakePolicyRepo) Get(ctx context.Context) (*mysql.CapacityPolicy, error) {
	return f.GetPolicy(ctx)
}

func (f fakePolicyRepo) Save(ctx context.Context, policy *mysql.CapacityPolicy) error {
	return f.SavePolicy(ctx, policy)
}

// fakeWorkerRepo in-memory worker registry with the same Upsert contract as
// the Redis-backed one.
type fakeWorkerRepo struct {
	mu      sync.Mutex
	workers map[string]*model.Worker
}

func newFakeWorkerRepo() *fakeWorkerRepo {
	return &fakeWorkerRepo{workers: make(map[string]*model.Worker)}
}

func (f *fakeWorkerRepo) Save(_ context.Context, worker *model.Worker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *worker
	f.workers[worker.ID] = &c
	return nil
}

func (f *fakeWorkerRepo) Get(_ context.Context, workerID string) (*model.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workers[workerID]
	if !ok {
		return nil, errs.NotFoundf("worker %s not found", workerID)
	}
	c := *w
	return &c, nil
}

func (f *fakeWorkerRepo) GetAll(_ context.Context) ([]*model.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Worker, 0, len(f.workers))
	for _, w := range f.workers {
		c := *w
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeWorkerRepo) Delete(_ context.Context, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.workers, workerID)
	return nil
}

func (f *fakeWorkerRepo) Upsert(_ context.Context, workerID string, mutate func(*model.Worker)) (*model.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workers[workerID]
	if !ok {
		w = &model.Worker{
			ID:           workerID,
			Status:       model.WorkerStatusIdle,
			RegisteredAt: time.Now(),
		}
		f.workers[workerID] = w
	}
	mutate(w)
	c := *w
	return &c, nil
}

// fakeMaintRepo in-memory maintenance flag
type fakeMaintRepo struct {
	mu   sync.Mutex
	flag model.Maintenance
}

func (f *fakeMaintRepo) Get(_ context.Context) (*model.Maintenance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.flag
	return &c, nil
}

func (f *fakeMaintRepo) Set(_ context.Context, flag *model.Maintenance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flag = *flag
	return nil
}

// fakeNotifier records published events
type fakeNotifier struct {
	mu     sync.Mutex
	events []*model.JobEvent
}

func (f *fakeNotifier) PublishJobEvent(_ context.Context, event *model.JobEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeNotifier) byType(t model.JobEventType) []*model.JobEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.JobEvent, 0)
	for _, e := range f.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// test harness bundling the fakes with wired services

type testEnv struct {
	store    *fakeStore
	workers  *fakeWorkerRepo
	maint    *fakeMaintRepo
	notifier *fakeNotifier

	jobService   *JobService
	claimService *ClaimService
	adminService *AdminService
	workerSvc    *WorkerService
}

// shardOverride force-sets a shard's status behind the services' backs,
// standing in for a reclaim or admin action racing the worker.
func (e *testEnv) shardOverride(shardID string, status model.ShardStatus) error {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	row, ok := e.store.shards[shardID]
	if !ok {
		return errs.NotFoundf("shard %s not found", shardID)
	}
	row.Status = string(status)
	return nil
}

func newTestEnv() *testEnv {
	store := newFakeStore()
	workers := newFakeWorkerRepo()
	maint := &fakeMaintRepo{}
	notifier := &fakeNotifier{}

	jobRepo := fakeJobRepo{store}
	shardRepo := fakeShardRepo{store}
	logRepo := fakeLogRepo{store}
	policyRepo := fakePolicyRepo{store}

	jobService := NewJobService(jobRepo, shardRepo, logRepo, policyRepo, workers, notifier)
	claimService := NewClaimService(jobRepo, shardRepo, workers, policyRepo, maint, notifier, 3, 50)
	adminService := NewAdminService(jobRepo, shardRepo, workers, policyRepo, maint, notifier)
	workerSvc := NewWorkerService(workers, jobService)

	return &testEnv{
		store:        store,
		workers:      workers,
		maint:        maint,
		notifier:     notifier,
		jobService:   jobService,
		claimService: claimService,
		adminService: adminService,
		workerSvc:    workerSvc,
	}
}
