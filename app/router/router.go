package router

import (
	"trainfleet/app/handler"
	"trainfleet/app/middleware"

	"github.com/gin-gonic/gin"
)

// Router Router
type Router struct {
	jobHandler    *handler.JobHandler
	workerHandler *handler.WorkerHandler
	adminHandler  *handler.AdminHandler
	eventHandler  *handler.EventHandler
}

// NewRouter creates a new Router
func NewRouter(jobHandler *handler.JobHandler, workerHandler *handler.WorkerHandler, adminHandler *handler.AdminHandler, eventHandler *handler.EventHandler) *Router {
	return &Router{
		jobHandler:    jobHandler,
		workerHandler: workerHandler,
		adminHandler:  adminHandler,
		eventHandler:  eventHandler,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	// V1 API - client job management interface
	v1 := engine.Group("/v1")
	{
		v1.POST("/jobs", r.jobHandler.Submit)
		v1.GET("/jobs", r.jobHandler.List)
		v1.GET("/jobs/:job_id", r.jobHandler.Get)
		v1.POST("/jobs/:job_id/cancel", r.jobHandler.Cancel)

		v1.GET("/workers", r.workerHandler.List)
		v1.GET("/workers/:worker_id", r.workerHandler.Get)

		v1.GET("/stats", r.jobHandler.Stats)

		// Live event stream for the dashboard
		if r.eventHandler != nil {
			v1.GET("/events/ws", r.eventHandler.Subscribe)
		}
	}

	// V2 API - worker poll interface
	v2 := engine.Group("/v2")
	v2.Use(middleware.AuthMiddleware())
	{
		v2.GET("/claim/:worker_id", r.workerHandler.Claim)
		v2.POST("/claim/:worker_id", r.workerHandler.Claim) // claim with capability payload

		v2.POST("/heartbeat/:worker_id", r.workerHandler.Heartbeat)

		v2.POST("/result/:worker_id/:job_id", r.workerHandler.SubmitResult)
	}

	// Admin API - operator interface
	admin := engine.Group("/admin")
	admin.Use(middleware.AuthMiddleware())
	{
		admin.PUT("/jobs/:job_id/status", r.adminHandler.OverrideStatus)
		admin.DELETE("/jobs/:job_id", r.adminHandler.DeleteJob)

		admin.POST("/workers/:worker_id/disable", r.adminHandler.DisableWorker)
		admin.POST("/workers/:worker_id/enable", r.adminHandler.EnableWorker)
		admin.DELETE("/workers/:worker_id", r.adminHandler.DeleteWorker)

		admin.GET("/policy", r.adminHandler.GetPolicy)
		admin.PUT("/policy", r.adminHandler.SetPolicy)

		admin.GET("/maintenance", r.adminHandler.GetMaintenance)
		admin.PUT("/maintenance", r.adminHandler.SetMaintenance)
	}

	// Health check
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
}
