package handlers

import (
	"net/http"

	"github.com/autocommitor/autocommitor/internal/models"
	internalsettings "github.com/autocommitor/autocommitor/internal/settings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HealthHandler reports storage reachability and scheduler state.
type HealthHandler struct {
	db *gorm.DB
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// Healthz pings the database and reports the pause switch and unfinished attempts.
func (h *HealthHandler) Healthz(c *gin.Context) {
	if h == nil || h.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "database not configured"})
		return
	}
	ctx := c.Request.Context()
	sqlDB, errDB := h.db.DB()
	if errDB == nil {
		errDB = sqlDB.PingContext(ctx)
	}
	if errDB != nil {
		log.WithError(errDB).Warn("healthz: database unreachable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "database unreachable"})
		return
	}

	var pending int64
	if errCount := h.db.WithContext(ctx).
		Model(&models.CommitLog{}).
		Where("status = ?", models.CommitLogStatusPending).
		Count(&pending).Error; errCount != nil {
		log.WithError(errCount).Warn("healthz: count pending attempts failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "database query failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":               true,
		"paused":           internalsettings.BoolValue(internalsettings.SchedulerPausedKey, false),
		"pending_attempts": pending,
	})
}
