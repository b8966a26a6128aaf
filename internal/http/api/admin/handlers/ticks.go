package handlers

import (
	"context"
	"net/http"

	"github.com/autocommitor/autocommitor/internal/automation"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// TickRunner runs one scheduler tick on demand.
type TickRunner interface {
	RunTick(ctx context.Context) automation.TickReport
}

// TickHandler triggers scheduler ticks.
type TickHandler struct {
	runner TickRunner
}

// NewTickHandler constructs a TickHandler.
func NewTickHandler(runner TickRunner) *TickHandler {
	return &TickHandler{runner: runner}
}

// Create runs a tick synchronously and returns its report.
func (h *TickHandler) Create(c *gin.Context) {
	if h == nil || h.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler unavailable"})
		return
	}
	operator := c.GetString("operator")
	report := h.runner.RunTick(c.Request.Context())
	log.Infof("admin tick %s triggered by %s: committed=%d failed=%d", report.TickID, operator, report.Committed, report.Failed)
	c.JSON(http.StatusOK, report)
}
