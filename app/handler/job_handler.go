package handler

import (
	"net/http"
	"strconv"

	"trainfleet/internal/model"
	"trainfleet/internal/service"
	"trainfleet/pkg/logger"

	"github.com/gin-gonic/gin"
)

// JobHandler handles client-facing job operations
type JobHandler struct {
	jobService   *service.JobService
	adminService *service.AdminService
}

// NewJobHandler creates job handler
func NewJobHandler(jobService *service.JobService, adminService *service.AdminService) *JobHandler {
	return &JobHandler{
		jobService:   jobService,
		adminService: adminService,
	}
}

// Submit submits a training job
// @Summary Submit training job
// @Description Submit a training job to the queue; distributed jobs are split into shards
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body model.SubmitRequest true "Job request"
// @Success 200 {object} model.SubmitResponse
// @Router /v1/jobs [post]
func (h *JobHandler) Submit(c *gin.Context) {
	var req model.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.ErrorCtx(c.Request.Context(), "invalid request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	// Submissions are refused while maintenance is on
	maint, err := h.adminService.GetMaintenance(c.Request.Context())
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to read maintenance flag: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if maint.Enabled {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "maintenance mode enabled", "message": maint.Message})
		return
	}

	resp, err := h.jobService.SubmitJob(c.Request.Context(), &req)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to submit job: %v", err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Get gets one job with shards and logs
// @Summary Get job
// @Description Get job detail by job ID, including shards and log lines
// @Tags jobs
// @Produce json
// @Param job_id path string true "Job ID"
// @Success 200 {object} map[string]interface{}
// @Router /v1/jobs/{job_id} [get]
func (h *JobHandler) Get(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id required"})
		return
	}

	job, logs, err := h.jobService.GetJob(c.Request.Context(), jobID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job":  job,
		"logs": logs,
	})
}

// List lists jobs with optional filters
// @Summary List jobs
// @Description List jobs filtered by status, user and project, with pagination
// @Tags jobs
// @Produce json
// @Param status query string false "Job status (PENDING, RUNNING, COMPLETED, FAILED, CANCELLED)"
// @Param user_id query string false "User ID"
// @Param project query string false "Project name"
// @Param limit query int false "Return count limit (default 100)"
// @Param offset query int false "Offset (default 0)"
// @Success 200 {object} map[string]interface{} "Return format: {jobs: [], total: 0, limit: 100, offset: 0}"
// @Router /v1/jobs [get]
func (h *JobHandler) List(c *gin.Context) {
	status := c.Query("status")
	userID := c.Query("user_id")
	project := c.Query("project")

	limit := 100
	if limitParam := c.Query("limit"); limitParam != "" {
		if parsedLimit, err := strconv.Atoi(limitParam); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}

	offset := 0
	if offsetParam := c.Query("offset"); offsetParam != "" {
		if parsedOffset, err := strconv.Atoi(offsetParam); err == nil && parsedOffset >= 0 {
			offset = parsedOffset
		}
	}

	jobs, total, err := h.jobService.ListJobs(c.Request.Context(), status, userID, project, limit, offset)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to list jobs: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":   jobs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Cancel cancels a job
// @Summary Cancel job
// @Description Cancel a pending or running job; terminal jobs are rejected
// @Tags jobs
// @Param job_id path string true "Job ID"
// @Success 200 {object} map[string]string
// @Router /v1/jobs/{job_id}/cancel [post]
func (h *JobHandler) Cancel(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id required"})
		return
	}

	if err := h.jobService.CancelJob(c.Request.Context(), jobID); err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to cancel job, job_id: %s, error: %v", jobID, err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "job cancelled"})
}

// Stats returns job counts by status
// @Summary Queue statistics
// @Description Get job counts per status
// @Tags jobs
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /v1/stats [get]
func (h *JobHandler) Stats(c *gin.Context) {
	stats, err := h.jobService.Stats(c.Request.Context())
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to get stats: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": stats})
}
