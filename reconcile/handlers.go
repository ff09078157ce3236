package reconcile

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/poweredbydonation/pbd_backend/config"
	"github.com/poweredbydonation/pbd_backend/models"
	"github.com/sirupsen/logrus"
)

// ManualRunHandler runs the poller inline for operators. Transport failures
// against a processor answer 502 with the summary so the caller sees them.
func ManualRunHandler(p *Poller, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sum, err := p.RunOnce(c.Request.Context(), models.ReconcileTriggeredManual)
		if errors.Is(err, ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			config.LogError(logger, "reconcile", "ManualRunHandler", "run", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "summary": sum})
			return
		}
		if sum.TransportErrors > 0 {
			c.JSON(http.StatusBadGateway, gin.H{"error": "donation processor unavailable", "summary": sum})
			return
		}
		c.JSON(http.StatusOK, gin.H{"summary": sum})
	}
}

func ListRunsHandler(runs *RunStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		list, err := runs.List(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": list})
	}
}

func GetRunHandler(runs *RunStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil || id == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}
		run, rowErrors, err := runs.Get(c.Request.Context(), uint(id))
		if errors.Is(err, ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"run": run, "errors": rowErrors})
	}
}
