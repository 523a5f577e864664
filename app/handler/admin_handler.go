package handler

import (
	"net/http"

	"trainfleet/internal/model"
	"trainfleet/internal/service"
	"trainfleet/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AdminHandler handles operator actions
type AdminHandler struct {
	adminService *service.AdminService
}

// NewAdminHandler creates admin handler
func NewAdminHandler(adminService *service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// OverrideStatus force-sets a job status
// @Summary Override job status
// @Description Force a job into the given status, bypassing transition rules (last write wins)
// @Tags admin
// @Accept json
// @Param job_id path string true "Job ID"
// @Param request body model.OverrideStatusRequest true "Override request"
// @Success 200 {object} map[string]string
// @Router /admin/jobs/{job_id}/status [put]
func (h *AdminHandler) OverrideStatus(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id required"})
		return
	}

	var req model.OverrideStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.adminService.OverrideJobStatus(c.Request.Context(), jobID, &req); err != nil {
		logger.ErrorCtx(c.Request.Context(), "status override failed, job_id: %s, error: %v", jobID, err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "status overridden"})
}

// DeleteJob removes a job with its shards and logs
// @Summary Delete job
// @Tags admin
// @Param job_id path string true "Job ID"
// @Success 200 {object} map[string]string
// @Router /admin/jobs/{job_id} [delete]
func (h *AdminHandler) DeleteJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id required"})
		return
	}

	if err := h.adminService.DeleteJob(c.Request.Context(), jobID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "job deleted"})
}

// DisableWorker marks a worker ineligible for claims
// @Summary Disable worker
// @Tags admin
// @Param worker_id path string true "Worker ID"
// @Success 200 {object} map[string]string
// @Router /admin/workers/{worker_id}/disable [post]
func (h *AdminHandler) DisableWorker(c *gin.Context) {
	workerID := c.Param("worker_id")
	if workerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "worker_id required"})
		return
	}

	if err := h.adminService.DisableWorker(c.Request.Context(), workerID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "worker disabled"})
}

// EnableWorker lifts a disable
// @Summary Enable worker
// @Tags admin
// @Param worker_id path string true "Worker ID"
// @Success 200 {object} map[string]string
// @Router /admin/workers/{worker_id}/enable [post]
func (h *AdminHandler) EnableWorker(c *gin.Context) {
	workerID := c.Param("worker_id")
	if workerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "worker_id required"})
		return
	}

	if err := h.adminService.EnableWorker(c.Request.Context(), workerID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "worker enabled"})
}

// DeleteWorker removes a worker from the registry
// @Summary Delete worker
// @Tags admin
// @Param worker_id path string true "Worker ID"
// @Success 200 {object} map[string]string
// @Router /admin/workers/{worker_id} [delete]
func (h *AdminHandler) DeleteWorker(c *gin.Context) {
	workerID := c.Param("worker_id")
	if workerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "worker_id required"})
		return
	}

	if err := h.adminService.DeleteWorker(c.Request.Context(), workerID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "worker deleted"})
}

// GetPolicy returns the capacity policy
// @Summary Get capacity policy
// @Tags admin
// @Produce json
// @Success 200 {object} model.CapacityPolicy
// @Router /admin/policy [get]
func (h *AdminHandler) GetPolicy(c *gin.Context) {
	policy, err := h.adminService.GetPolicy(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, policy)
}

// SetPolicy updates the capacity policy
// @Summary Update capacity policy
// @Description Update claim policy; takes effect on the next claim decision
// @Tags admin
// @Accept json
// @Param request body model.CapacityPolicy true "Policy"
// @Success 200 {object} map[string]string
// @Router /admin/policy [put]
func (h *AdminHandler) SetPolicy(c *gin.Context) {
	var policy model.CapacityPolicy
	if err := c.ShouldBindJSON(&policy); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.adminService.SetPolicy(c.Request.Context(), &policy); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "policy updated"})
}

// GetMaintenance returns the maintenance flag
// @Summary Get maintenance mode
// @Tags admin
// @Produce json
// @Success 200 {object} model.Maintenance
// @Router /admin/maintenance [get]
func (h *AdminHandler) GetMaintenance(c *gin.Context) {
	flag, err := h.adminService.GetMaintenance(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, flag)
}

// SetMaintenance toggles maintenance mode
// @Summary Set maintenance mode
// @Description Enable or disable maintenance; claims and submissions are suspended while enabled
// @Tags admin
// @Accept json
// @Produce json
// @Param request body model.MaintenanceRequest true "Maintenance toggle"
// @Success 200 {object} model.Maintenance
// @Router /admin/maintenance [put]
func (h *AdminHandler) SetMaintenance(c *gin.Context) {
	var req model.MaintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	flag, err := h.adminService.SetMaintenance(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, flag)
}
