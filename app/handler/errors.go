package handler

import (
	"net/http"

	"trainfleet/pkg/errs"

	"github.com/gin-gonic/gin"
)

// writeError maps a service error onto the HTTP status taxonomy.
func writeError(c *gin.Context, err error) {
	switch {
	case errs.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errs.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errs.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errs.IsMaintenance(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errs.IsCapacity(err):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
