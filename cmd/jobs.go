package main

import (
	"time"

	"trainfleet/internal/jobs"
	"trainfleet/pkg/lock"
	"trainfleet/pkg/logger"

	"github.com/go-redis/redis/v8"
)

func (app *Application) initJobs() error {
	if app.jobService == nil || app.mysqlRepo == nil {
		logger.WarnCtx(app.ctx, "Storage layer not initialized yet, skipping background task registration")
		return nil
	}

	manager := jobs.NewManager(app.ctx)

	sweepInterval := time.Duration(app.config.Coordinator.SweepInterval) * time.Second

	// Distributed lock so only one replica runs the sweep per cycle.
	// With Redis unavailable the lock degrades to single-instance mode.
	var redisClient *redis.Client
	if app.redisClient != nil {
		redisClient = app.redisClient.GetClient()
	}
	sweepLock := lock.NewRedisDistributedLock(redisClient, "sweep:liveness-lock")

	manager.Register(jobs.NewLivenessSweep(
		app.workerRepo,
		app.mysqlRepo.Jobs,
		app.mysqlRepo.Shards,
		app.mysqlRepo.Policy,
		app.jobService,
		app.notifier,
		sweepLock,
		sweepInterval,
		app.config.Coordinator.OfflineGCFactor,
	))

	app.jobsManager = manager
	return nil
}
