package main

import (
	"fmt"
	"net/http"

	"trainfleet/app/handler"
	"trainfleet/app/router"
	"trainfleet/internal/events"
	"trainfleet/internal/service"
	"trainfleet/pkg/config"
	"trainfleet/pkg/logger"
	"trainfleet/pkg/notification"
	asynqqueue "trainfleet/pkg/queue/asynq"
	mysqlstore "trainfleet/pkg/store/mysql"
	redisstore "trainfleet/pkg/store/redis"

	"github.com/gin-gonic/gin"
)

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.Sync()
		logger.InfoCtx(app.ctx, "Logging system has been closed")
	})
	return nil
}

// initMySQL initializes MySQL
func (app *Application) initMySQL() error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		app.config.MySQL.User,
		app.config.MySQL.Password,
		app.config.MySQL.Host,
		app.config.MySQL.Port,
		app.config.MySQL.Database,
	)

	repo, err := mysqlstore.NewRepository(dsn)
	if err != nil {
		return err
	}

	app.mysqlRepo = repo
	app.registerCleanup(func() {
		repo.Close()
		logger.InfoCtx(app.ctx, "MySQL connection has been closed")
	})

	// Seed the capacity policy row so claims work on a fresh database
	defaults := &mysqlstore.CapacityPolicy{
		MaxGPUPerJob:          app.config.Policy.MaxGPUPerJob,
		GPUMemoryThresholdGB:  app.config.Policy.GPUMemoryThresholdGB,
		MaxConcurrentJobs:     app.config.Policy.MaxConcurrentJobs,
		WorkerTimeoutMinutes:  app.config.Policy.WorkerTimeoutMinutes,
		LoadBalancingStrategy: app.config.Policy.LoadBalancing,
	}
	if err := repo.Policy.EnsureDefault(app.ctx, defaults); err != nil {
		return fmt.Errorf("failed to seed capacity policy: %w", err)
	}

	return nil
}

// initRedis initializes Redis
func (app *Application) initRedis() error {
	client, err := redisstore.NewRedisClient(app.config)
	if err != nil {
		return err
	}

	app.redisClient = client
	app.registerCleanup(func() {
		client.Close()
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
	})

	app.workerRepo = redisstore.NewWorkerRepository(client)
	app.maintRepo = redisstore.NewMaintenanceRepository(client)

	return nil
}

// initEvents initializes the notification fanout: the websocket hub for live
// dashboard subscribers and the asynq queue as the durable path.
func (app *Application) initEvents() error {
	app.eventHub = events.NewHub()

	sinks := []events.Publisher{app.eventHub}

	if app.config.Notify.Enabled {
		queueMgr, err := asynqqueue.NewManager(app.config)
		if err != nil {
			return err
		}
		app.eventQueue = queueMgr
		app.registerCleanup(func() {
			queueMgr.Close()
			logger.InfoCtx(app.ctx, "Event queue has been closed")
		})
		sinks = append(sinks, queueMgr)
	}

	// Ops alert channel for failures and reclaims
	if app.config.Notify.FeishuWebhookURL != "" {
		sinks = append(sinks, notification.NewFeishuNotifier())
	}

	app.notifier = events.NewFanout(sinks...)
	return nil
}

// initServices initializes service layer
func (app *Application) initServices() error {
	app.jobService = service.NewJobService(
		app.mysqlRepo.Jobs,
		app.mysqlRepo.Shards,
		app.mysqlRepo.Logs,
		app.mysqlRepo.Policy,
		app.workerRepo,
		app.notifier,
	)

	app.claimService = service.NewClaimService(
		app.mysqlRepo.Jobs,
		app.mysqlRepo.Shards,
		app.workerRepo,
		app.mysqlRepo.Policy,
		app.maintRepo,
		app.notifier,
		app.config.Coordinator.ClaimRetryLimit,
		app.config.Coordinator.CandidateLimit,
	)

	app.workerService = service.NewWorkerService(app.workerRepo, app.jobService)

	app.adminService = service.NewAdminService(
		app.mysqlRepo.Jobs,
		app.mysqlRepo.Shards,
		app.workerRepo,
		app.mysqlRepo.Policy,
		app.maintRepo,
		app.notifier,
	)

	return nil
}

// initHandlers initializes handler layer
func (app *Application) initHandlers() error {
	app.jobHandler = handler.NewJobHandler(app.jobService, app.adminService)
	app.workerHandler = handler.NewWorkerHandler(app.claimService, app.workerService, app.jobService)
	app.adminHandler = handler.NewAdminHandler(app.adminService)
	app.eventHandler = handler.NewEventHandler(app.eventHub)
	return nil
}

// initHTTPServer initializes the HTTP server
func (app *Application) initHTTPServer() error {
	if app.config.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	app.ginEngine = gin.New()

	r := router.NewRouter(app.jobHandler, app.workerHandler, app.adminHandler, app.eventHandler)
	r.Setup(app.ginEngine)

	app.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: app.ginEngine,
	}

	return nil
}
