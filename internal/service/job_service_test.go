package service

import (
	"context"
	"strings"
	"testing"

	"trainfleet/internal/model"
	"trainfleet/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitJob_CreatesPendingJob(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	resp, err := env.jobService.SubmitJob(ctx, &model.SubmitRequest{
		UserID:    "alice",
		Project:   "mnist",
		Resources: model.Resources{GPUCount: 1, CPUCount: 2, MemoryGB: 8},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, model.JobStatusPending, resp.Status)

	job, _, err := env.jobService.GetJob(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", job.UserID)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Empty(t, job.Shards)

	assert.Len(t, env.notifier.byType(model.JobEventSubmitted), 1)
}

func TestSubmitJob_Validation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	tests := []struct {
		name string
		req  *model.SubmitRequest
	}{
		{"negative gpu", &model.SubmitRequest{UserID: "u", Project: "p", Resources: model.Resources{GPUCount: -1}}},
		{"gpu over policy max", &model.SubmitRequest{UserID: "u", Project: "p", Resources: model.Resources{GPUCount: 5}}},
		{"negative worker count", &model.SubmitRequest{UserID: "u", Project: "p", WorkerCount: -1}},
		{"worker count over fleet cap", &model.SubmitRequest{UserID: "u", Project: "p", WorkerCount: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.jobService.SubmitJob(ctx, tt.req)
			assert.True(t, errs.IsValidation(err), "want validation error, got %v", err)
		})
	}
}

func TestSubmitJob_PlansShards(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	resp, err := env.jobService.SubmitJob(ctx, &model.SubmitRequest{
		UserID:      "alice",
		Project:     "big-train",
		Resources:   model.Resources{GPUCount: 1},
		WorkerCount: 3,
	})
	require.NoError(t, err)

	job, _, err := env.jobService.GetJob(ctx, resp.ID)
	require.NoError(t, err)
	require.Len(t, job.Shards, 3)

	for i, shard := range job.Shards {
		assert.Equal(t, resp.ID+"/"+string(rune('0'+i)), shard.ID)
		assert.Equal(t, i, shard.Index)
		assert.InDelta(t, 1.0/3.0, shard.Fraction, 1e-9)
		assert.Equal(t, model.ShardStatusPending, shard.Status)
	}
}

func TestListJobs_FiltersAndPagination(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		submitJob(t, env, &model.SubmitRequest{UserID: "alice", Project: "p1"})
	}
	submitJob(t, env, &model.SubmitRequest{UserID: "bob", Project: "p2"})

	jobs, total, err := env.jobService.ListJobs(ctx, "", "alice", "", 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, jobs, 3)

	jobs, total, err = env.jobService.ListJobs(ctx, "", "alice", "", 2, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, jobs, 1)

	jobs, _, err = env.jobService.ListJobs(ctx, string(model.JobStatusRunning), "", "", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestSetProgress_ClampsAndDropsStale(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	jobID := submitJob(t, env, &model.SubmitRequest{UserID: "u", Project: "p"})
	resp, err := env.claimService.Claim(ctx, "w1", gpuWorkerReq(16))
	require.NoError(t, err)
	require.NotNil(t, resp.Job)

	require.NoError(t, env.jobService.SetProgress(ctx, jobID, "", 150))
	job, _, _ := env.jobService.GetJob(ctx, jobID)
	assert.Equal(t, 100, job.Progress)

	require.NoError(t, env.jobService.SetProgress(ctx, jobID, "", -5))
	job, _, _ = env.jobService.GetJob(ctx, jobID)
	assert.Equal(t, 0, job.Progress)

	require.NoError(t, env.jobService.SetProgress(ctx, jobID, "", 42))
	job, _, _ = env.jobService.GetJob(ctx, jobID)
	assert.Equal(t, 42, job.Progress)

	// Progress against a finished job is dropped, not an error
	require.NoError(t, env.jobService.SubmitResult(ctx, "w1", jobID, &model.ResultRequest{}))
	require.NoError(t, env.jobService.SetProgress(ctx, jobID, "", 55))
	job, _, _ = env.jobService.GetJob(ctx, jobID)
	assert.Equal(t, 100, job.Progress, "terminal progress stays at 100")
}

func TestAppendLog_OrderPreserved(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	jobID := submitJob(t, env, &model.SubmitRequest{UserID: "u", Project: "p"})

	require.NoError(t, env.jobService.AppendLog(ctx, jobID, "epoch 1"))
	require.NoError(t, env.jobService.AppendLogBatch(ctx, jobID, []string{"epoch 2", "epoch 3"}))

	_, lines, err := env.jobService.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, "epoch 1", lines[0].Message)
	assert.Equal(t, "epoch 2", lines[1].Message)
	assert.Equal(t, "epoch 3", lines[2].Message)

	err = env.jobService.AppendLog(ctx, "nope", "lost line")
	assert.True(t, errs.IsNotFound(err))
}

func TestCancelJob(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	jobID := submitJob(t, env, &model.SubmitRequest{UserID: "u", Project: "p"})
	require.NoError(t, env.jobService.CancelJob(ctx, jobID))

	st, err := env.jobService.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, st)

	// Cancelling a terminal job is rejected
	err = env.jobService.CancelJob(ctx, jobID)
	assert.True(t, errs.IsValidation(err))

	assert.Len(t, env.notifier.byType(model.JobEventCancelled), 1)
}

func TestCancelJob_RunningJobWithPendingShards(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	jobID := submitJob(t, env, &model.SubmitRequest{UserID: "u", Project: "p", WorkerCount: 2})

	// One shard claimed, one still pending
	resp, err := env.claimService.Claim(ctx, "w1", gpuWorkerReq(16))
	require.NoError(t, err)
	require.NotNil(t, resp.Job)

	require.NoError(t, env.jobService.CancelJob(ctx, jobID))

	job, _, err := env.jobService.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, job.Status)

	// The unclaimed shard was cancelled with the parent
	for _, shard := range job.Shards {
		if shard.ID == resp.Job.ShardID {
			assert.Equal(t, model.ShardStatusRunning, shard.Status)
		} else {
			assert.Equal(t, model.ShardStatusCancelled, shard.Status)
		}
	}
}

func TestSubmitResult_Success(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	jobID := submitJob(t, env, &model.SubmitRequest{UserID: "u", Project: "p"})
	_, err := env.claimService.Claim(ctx, "w1", gpuWorkerReq(16))
	require.NoError(t, err)

	require.NoError(t, env.jobService.SubmitResult(ctx, "w1", jobID, &model.ResultRequest{}))

	job, _, err := env.jobService.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.NotNil(t, job.CompletedAt)

	worker, err := env.workers.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, model.WorkerStatusIdle, worker.Status)
	assert.Empty(t, worker.CurrentJobID)
	assert.Equal(t, 0, worker.ActiveJobs)
	assert.Equal(t, 1, worker.TotalJobsCompleted)

	assert.Len(t, env.notifier.byType(model.JobEventCompleted), 1)
}

func TestSubmitResult_FailureStoresSanitizedError(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	jobID := submitJob(t, env, &model.SubmitRequest{UserID: "u", Project: "p"})
	_, err := env.claimService.Claim(ctx, "w1", gpuWorkerReq(16))
	require.NoError(t, err)

	raw := "RuntimeError: CUDA out of memory while reading /kaggle/input/private-comp/train.csv"
	require.NoError(t, env.jobService.SubmitResult(ctx, "w1", jobID, &model.ResultRequest{Error: raw}))

	job, _, err := env.jobService.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.True(t, strings.HasPrefix(job.Error, "OUT_OF_MEMORY: "), "error should carry the failure class, got %q", job.Error)
	assert.NotContains(t, job.Error, "private-comp", "dataset paths must be scrubbed")

	worker, _ := env.workers.Get(ctx, "w1")
	assert.Equal(t, 0, worker.TotalJobsCompleted, "failures do not count as completions")

	assert.Len(t, env.notifier.byType(model.JobEventFailed), 1)
}

func TestSubmitResult_RejectsNonRunningJob(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	jobID := submitJob(t, env, &model.SubmitRequest{UserID: "u", Project: "p"})

	err := env.jobService.SubmitResult(ctx, "w1", jobID, &model.ResultRequest{})
	assert.True(t, errs.IsConflict(err), "result against a PENDING job must lose the CAS")
}

func TestSubmitResult_LostRaceStillReleasesWorker(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	jobID := submitJob(t, env, &model.SubmitRequest{UserID: "u", Project: "p"})
	_, err := env.claimService.Claim(ctx, "w1", gpuWorkerReq(16))
	require.NoError(t, err)

	// User cancels while the worker is mid-run; the worker's report arrives
	// after the fact and loses the CAS.
	require.NoError(t, env.jobService.CancelJob(ctx, jobID))
	err = env.jobService.SubmitResult(ctx, "w1", jobID, &model.ResultRequest{})
	assert.True(t, errs.IsConflict(err))

	// The worker must not stay pinned to a job it no longer holds
	worker, err := env.workers.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Empty(t, worker.CurrentJobID)
	assert.Equal(t, 0, worker.ActiveJobs)
	assert.Equal(t, model.WorkerStatusIdle, worker.Status)
	assert.Equal(t, 0, worker.TotalJobsCompleted)

	// And it can pick up the next job right away
	nextID := submitJob(t, env, &model.SubmitRequest{UserID: "u", Project: "p"})
	resp, err := env.claimService.Claim(ctx, "w1", gpuWorkerReq(16))
	require.NoError(t, err)
	require.NotNil(t, resp.Job)
	assert.Equal(t, nextID, resp.Job.JobID)
}

func TestSubmitResult_ShardConflictReleasesWorker(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	jobID := submitJob(t, env, &model.SubmitRequest{UserID: "u", Project: "p", WorkerCount: 2})

	r1, err := env.claimService.Claim(ctx, "w1", gpuWorkerReq(16))
	require.NoError(t, err)
	r2, err := env.claimService.Claim(ctx, "w2", gpuWorkerReq(16))
	require.NoError(t, err)

	// First shard fails, which fail-fasts the job and leaves the sibling
	// shard's terminal report with nothing to land on.
	require.NoError(t, env.jobService.SubmitResult(ctx, "w1", jobID, &model.ResultRequest{
		ShardID: r1.Job.ShardID,
		Error:   "exploded",
	}))
	require.NoError(t, env.shardOverride(r2.Job.ShardID, model.ShardStatusCancelled))

	err = env.jobService.SubmitResult(ctx, "w2", jobID, &model.ResultRequest{ShardID: r2.Job.ShardID})
	assert.True(t, errs.IsConflict(err))

	worker, err := env.workers.Get(ctx, "w2")
	require.NoError(t, err)
	assert.Empty(t, worker.CurrentJobID)
	assert.Equal(t, 0, worker.ActiveJobs)
	assert.Equal(t, model.WorkerStatusIdle, worker.Status)
}

func TestDistributedJob_AllShardsCompleteJob(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	jobID := submitJob(t, env, &model.SubmitRequest{UserID: "u", Project: "p", WorkerCount: 2})

	r1, err := env.claimService.Claim(ctx, "w1", gpuWorkerReq(16))
	require.NoError(t, err)
	r2, err := env.claimService.Claim(ctx, "w2", gpuWorkerReq(16))
	require.NoError(t, err)

	require.NoError(t, env.jobService.SubmitResult(ctx, "w1", jobID, &model.ResultRequest{ShardID: r1.Job.ShardID}))

	// One shard done, the other still running: parent stays RUNNING
	st, err := env.jobService.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, st)

	require.NoError(t, env.jobService.SubmitResult(ctx, "w2", jobID, &model.ResultRequest{ShardID: r2.Job.ShardID}))

	job, _, err := env.jobService.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
}

func TestDistributedJob_OneFailedShardFailsJob(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	jobID := submitJob(t, env, &model.SubmitRequest{UserID: "u", Project: "p", WorkerCount: 3})

	r1, err := env.claimService.Claim(ctx, "w1", gpuWorkerReq(16))
	require.NoError(t, err)
	r2, err := env.claimService.Claim(ctx, "w2", gpuWorkerReq(16))
	require.NoError(t, err)

	// Third shard is never claimed. First shard fails.
	require.NoError(t, env.jobService.SubmitResult(ctx, "w1", jobID, &model.ResultRequest{
		ShardID: r1.Job.ShardID,
		Error:   "Traceback (most recent call last): ValueError: bad label",
	}))

	job, _, err := env.jobService.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "shard ")

	// The unclaimed shard was cancelled fail-fast; the running sibling is
	// left to finish and report into the void.
	for _, shard := range job.Shards {
		switch shard.ID {
		case r1.Job.ShardID:
			assert.Equal(t, model.ShardStatusFailed, shard.Status)
		case r2.Job.ShardID:
			assert.Equal(t, model.ShardStatusRunning, shard.Status)
		default:
			assert.Equal(t, model.ShardStatusCancelled, shard.Status)
		}
	}

	// The late sibling result still lands on its shard without reviving the job
	require.NoError(t, env.jobService.SubmitResult(ctx, "w2", jobID, &model.ResultRequest{ShardID: r2.Job.ShardID}))
	st, err := env.jobService.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, st)
}

func TestDeriveJobStatus(t *testing.T) {
	mk := func(statuses ...model.ShardStatus) []*model.Shard {
		shards := make([]*model.Shard, 0, len(statuses))
		for i, st := range statuses {
			shards = append(shards, &model.Shard{ID: "j/" + string(rune('0'+i)), Index: i, Status: st})
		}
		return shards
	}

	tests := []struct {
		name   string
		shards []*model.Shard
		want   model.JobStatus
	}{
		{"no shards", nil, model.JobStatusPending},
		{"all pending", mk(model.ShardStatusPending, model.ShardStatusPending), model.JobStatusPending},
		{"one running", mk(model.ShardStatusPending, model.ShardStatusRunning), model.JobStatusRunning},
		{"all complete", mk(model.ShardStatusCompleted, model.ShardStatusCompleted), model.JobStatusCompleted},
		{"partial complete", mk(model.ShardStatusCompleted, model.ShardStatusPending), model.JobStatusRunning},
		{"fail beats running", mk(model.ShardStatusRunning, model.ShardStatusFailed), model.JobStatusFailed},
		{"fail beats complete", mk(model.ShardStatusCompleted, model.ShardStatusFailed), model.JobStatusFailed},
		{"reclaimed back to pending", mk(model.ShardStatusPending, model.ShardStatusPending, model.ShardStatusPending), model.JobStatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveJobStatus(tt.shards))
		})
	}
}

func TestStats_CountsByStatus(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	submitJob(t, env, &model.SubmitRequest{UserID: "u", Project: "p"})
	running := submitJob(t, env, &model.SubmitRequest{UserID: "u", Project: "p"})
	cancelled := submitJob(t, env, &model.SubmitRequest{UserID: "u", Project: "p"})

	require.NoError(t, env.jobService.CancelJob(ctx, cancelled))

	// Move one to RUNNING through an admin override
	require.NoError(t, env.adminService.OverrideJobStatus(ctx, running, &model.OverrideStatusRequest{Status: model.JobStatusRunning}))

	stats, err := env.jobService.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats[string(model.JobStatusPending)])
	assert.EqualValues(t, 1, stats[string(model.JobStatusRunning)])
	assert.EqualValues(t, 1, stats[string(model.JobStatusCancelled)])
	assert.EqualValues(t, 0, stats[string(model.JobStatusFailed)])
}
