package handler

import (
	"net/http"

	"trainfleet/internal/model"
	"trainfleet/internal/service"
	"trainfleet/pkg/errs"
	"trainfleet/pkg/logger"

	"github.com/gin-gonic/gin"
)

// WorkerHandler handles the worker-facing poll surface: claims, heartbeats
// and result submission.
type WorkerHandler struct {
	claimService  *service.ClaimService
	workerService *service.WorkerService
	jobService    *service.JobService
}

// NewWorkerHandler creates worker handler
func NewWorkerHandler(claimService *service.ClaimService, workerService *service.WorkerService, jobService *service.JobService) *WorkerHandler {
	return &WorkerHandler{
		claimService:  claimService,
		workerService: workerService,
		jobService:    jobService,
	}
}

// Claim hands the worker its next job or shard
// @Summary Claim next job
// @Description Poll for the next claimable job; returns job=null with a reason when none is available
// @Tags workers
// @Produce json
// @Param worker_id path string true "Worker ID"
// @Success 200 {object} model.ClaimResponse
// @Router /v2/claim/{worker_id} [get]
func (h *WorkerHandler) Claim(c *gin.Context) {
	workerID := c.Param("worker_id")
	if workerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "worker_id required"})
		return
	}

	req := model.ClaimRequest{Platform: c.Query("platform")}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.ErrorCtx(c.Request.Context(), "invalid claim request, worker_id: %s, error: %v", workerID, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}

	resp, err := h.claimService.Claim(c.Request.Context(), workerID, &req)
	if err != nil {
		// Workers poll in a loop; maintenance and a full fleet both read as
		// "nothing for you right now", not as failures.
		if errs.IsMaintenance(err) {
			c.JSON(http.StatusOK, &model.ClaimResponse{Reason: "maintenance"})
			return
		}
		if errs.IsCapacity(err) {
			c.JSON(http.StatusOK, &model.ClaimResponse{Reason: "capacity"})
			return
		}
		logger.ErrorCtx(c.Request.Context(), "claim failed, worker_id: %s, error: %v", workerID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Heartbeat refreshes worker liveness and absorbs progress and log lines
// @Summary Worker heartbeat
// @Description Report liveness; unknown workers are registered implicitly
// @Tags workers
// @Accept json
// @Produce json
// @Param worker_id path string true "Worker ID"
// @Param request body model.HeartbeatRequest false "Heartbeat payload"
// @Success 200 {object} model.HeartbeatResponse
// @Router /v2/heartbeat/{worker_id} [post]
func (h *WorkerHandler) Heartbeat(c *gin.Context) {
	workerID := c.Param("worker_id")
	if workerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "worker_id required"})
		return
	}

	var req model.HeartbeatRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.ErrorCtx(c.Request.Context(), "invalid heartbeat, worker_id: %s, error: %v", workerID, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}

	resp, err := h.workerService.Heartbeat(c.Request.Context(), workerID, &req)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "heartbeat failed, worker_id: %s, error: %v", workerID, err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// SubmitResult records a terminal result for the worker's job or shard
// @Summary Submit job result
// @Description Report completion or failure; a non-empty error marks the job FAILED
// @Tags workers
// @Accept json
// @Param worker_id path string true "Worker ID"
// @Param job_id path string true "Job ID"
// @Param request body model.ResultRequest false "Result payload"
// @Success 200 {object} map[string]string
// @Router /v2/result/{worker_id}/{job_id} [post]
func (h *WorkerHandler) SubmitResult(c *gin.Context) {
	workerID := c.Param("worker_id")
	jobID := c.Param("job_id")
	if workerID == "" || jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "worker_id and job_id required"})
		return
	}

	var req model.ResultRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.ErrorCtx(c.Request.Context(), "invalid result, worker_id: %s, error: %v", workerID, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}

	if err := h.jobService.SubmitResult(c.Request.Context(), workerID, jobID, &req); err != nil {
		logger.ErrorCtx(c.Request.Context(), "result submission failed, job_id: %s, worker_id: %s, error: %v", jobID, workerID, err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "result recorded"})
}

// List returns all registered workers
// @Summary List workers
// @Description List all registered workers with status and capability
// @Tags workers
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /v1/workers [get]
func (h *WorkerHandler) List(c *gin.Context) {
	workers, err := h.workerService.ListWorkers(c.Request.Context())
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to list workers: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"workers": workers,
		"total":   len(workers),
	})
}

// Get returns one worker by id
// @Summary Get worker
// @Description Get one worker's registry entry
// @Tags workers
// @Produce json
// @Param worker_id path string true "Worker ID"
// @Success 200 {object} model.Worker
// @Router /v1/workers/{worker_id} [get]
func (h *WorkerHandler) Get(c *gin.Context) {
	workerID := c.Param("worker_id")
	if workerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "worker_id required"})
		return
	}

	worker, err := h.workerService.GetWorker(c.Request.Context(), workerID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, worker)
}
