package service

import (
	"context"
	"testing"
	"time"

	"trainfleet/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeat_ImplicitRegistration(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	resp, err := env.workerSvc.Heartbeat(ctx, "w1", &model.HeartbeatRequest{
		Platform:   "kaggle",
		Capability: model.Capability{GPUPresent: true, GPUName: "T4", GPUMemoryGB: 16},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Empty(t, resp.JobStatus)

	worker, err := env.workerSvc.GetWorker(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "kaggle", worker.Platform)
	assert.Equal(t, "T4", worker.Capability.GPUName)
	assert.Equal(t, model.WorkerStatusIdle, worker.Status)
	assert.False(t, worker.LastHeartbeat.IsZero())
	assert.False(t, worker.RegisteredAt.IsZero())
}

func TestHeartbeat_CarriesProgressAndLogs(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	jobID := submitJob(t, env, &model.SubmitRequest{UserID: "u", Project: "p"})
	claim, err := env.claimService.Claim(ctx, "w1", gpuWorkerReq(16))
	require.NoError(t, err)
	require.NotNil(t, claim.Job)

	progress := 37
	resp, err := env.workerSvc.Heartbeat(ctx, "w1", &model.HeartbeatRequest{
		Progress: &progress,
		LogLines: []string{"epoch 3/10", "loss 0.42"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, resp.JobStatus)

	job, lines, err := env.jobService.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 37, job.Progress)
	require.Len(t, lines, 2)
	assert.Equal(t, "epoch 3/10", lines[0].Message)
}

func TestHeartbeat_EchoesCancellation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	jobID := submitJob(t, env, &model.SubmitRequest{UserID: "u", Project: "p"})
	_, err := env.claimService.Claim(ctx, "w1", gpuWorkerReq(16))
	require.NoError(t, err)

	require.NoError(t, env.jobService.CancelJob(ctx, jobID))

	// The worker is still grinding away; its next beat tells it to stop
	resp, err := env.workerSvc.Heartbeat(ctx, "w1", &model.HeartbeatRequest{})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, resp.JobStatus)
}

func TestHeartbeat_StaleProgressAfterCancelIsDropped(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	jobID := submitJob(t, env, &model.SubmitRequest{UserID: "u", Project: "p"})
	_, err := env.claimService.Claim(ctx, "w1", gpuWorkerReq(16))
	require.NoError(t, err)
	require.NoError(t, env.jobService.CancelJob(ctx, jobID))

	progress := 90
	_, err = env.workerSvc.Heartbeat(ctx, "w1", &model.HeartbeatRequest{Progress: &progress})
	require.NoError(t, err)

	job, _, err := env.jobService.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.NotEqual(t, 90, job.Progress)
}

func TestHeartbeat_ReconcilesStaleAssignment(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	jobID := submitJob(t, env, &model.SubmitRequest{UserID: "u", Project: "p"})
	_, err := env.claimService.Claim(ctx, "w1", gpuWorkerReq(16))
	require.NoError(t, err)

	// An admin override finishes the job without touching the worker row,
	// leaving the registry claiming w1 is still busy.
	require.NoError(t, env.adminService.OverrideJobStatus(ctx, jobID, &model.OverrideStatusRequest{
		Status: model.JobStatusCompleted,
	}))

	resp, err := env.workerSvc.Heartbeat(ctx, "w1", &model.HeartbeatRequest{})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, resp.JobStatus)

	worker, err := env.workerSvc.GetWorker(ctx, "w1")
	require.NoError(t, err)
	assert.Empty(t, worker.CurrentJobID)
	assert.Equal(t, 0, worker.ActiveJobs)
	assert.Equal(t, model.WorkerStatusIdle, worker.Status)

	// Freed by its own heartbeat, the worker can claim again
	nextID := submitJob(t, env, &model.SubmitRequest{UserID: "u", Project: "p"})
	claim, err := env.claimService.Claim(ctx, "w1", gpuWorkerReq(16))
	require.NoError(t, err)
	require.NotNil(t, claim.Job)
	assert.Equal(t, nextID, claim.Job.JobID)
}

func TestHeartbeat_ReconcilesDeletedJob(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	jobID := submitJob(t, env, &model.SubmitRequest{UserID: "u", Project: "p"})
	_, err := env.claimService.Claim(ctx, "w1", gpuWorkerReq(16))
	require.NoError(t, err)

	require.NoError(t, env.adminService.DeleteJob(ctx, jobID))

	resp, err := env.workerSvc.Heartbeat(ctx, "w1", &model.HeartbeatRequest{})
	require.NoError(t, err)
	assert.Empty(t, resp.JobStatus)

	worker, err := env.workerSvc.GetWorker(ctx, "w1")
	require.NoError(t, err)
	assert.Empty(t, worker.CurrentJobID)
	assert.Equal(t, model.WorkerStatusIdle, worker.Status)
}

func TestHeartbeat_RevivesOfflineWorker(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.workers.Upsert(ctx, "w1", func(w *model.Worker) {
		w.Status = model.WorkerStatusOffline
		w.LastHeartbeat = time.Now().Add(-time.Hour)
	})
	require.NoError(t, err)

	_, err = env.workerSvc.Heartbeat(ctx, "w1", &model.HeartbeatRequest{})
	require.NoError(t, err)

	worker, err := env.workerSvc.GetWorker(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, model.WorkerStatusIdle, worker.Status)
}

func TestHeartbeat_SelfReportedIdleIgnoredWhileBusy(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	submitJob(t, env, &model.SubmitRequest{UserID: "u", Project: "p"})
	_, err := env.claimService.Claim(ctx, "w1", gpuWorkerReq(16))
	require.NoError(t, err)

	// A confused worker claiming to be idle does not shed its assignment
	_, err = env.workerSvc.Heartbeat(ctx, "w1", &model.HeartbeatRequest{Status: model.WorkerStatusIdle})
	require.NoError(t, err)

	worker, err := env.workerSvc.GetWorker(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, model.WorkerStatusBusy, worker.Status)
	assert.Equal(t, 1, worker.ActiveJobs)
}

func TestHeartbeat_DisabledWorkerCannotSelfReactivate(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.workerSvc.Heartbeat(ctx, "w1", &model.HeartbeatRequest{})
	require.NoError(t, err)
	require.NoError(t, env.adminService.DisableWorker(ctx, "w1"))

	// Push it offline, then let it heartbeat claiming to be idle
	_, err = env.workers.Upsert(ctx, "w1", func(w *model.Worker) {
		w.Status = model.WorkerStatusOffline
	})
	require.NoError(t, err)

	_, err = env.workerSvc.Heartbeat(ctx, "w1", &model.HeartbeatRequest{Status: model.WorkerStatusIdle})
	require.NoError(t, err)

	worker, err := env.workerSvc.GetWorker(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, worker.Disabled)
	assert.Equal(t, model.WorkerStatusOffline, worker.Status, "only an admin enable lifts the disable")
}

func TestListWorkers_SortedByID(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	for _, id := range []string{"w3", "w1", "w2"} {
		_, err := env.workerSvc.Heartbeat(ctx, id, &model.HeartbeatRequest{})
		require.NoError(t, err)
	}

	workers, err := env.workerSvc.ListWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 3)
	assert.Equal(t, "w1", workers[0].ID)
	assert.Equal(t, "w2", workers[1].ID)
	assert.Equal(t, "w3", workers[2].ID)
}
