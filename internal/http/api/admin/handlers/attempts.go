package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/autocommitor/autocommitor/internal/models"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultAttemptLimit = 50
	maxAttemptLimit     = 200
)

// RuleReader loads automation rules.
type RuleReader interface {
	GetRule(ctx context.Context, ruleID uint64) (models.Automation, error)
}

// AttemptLister lists the commit attempts of a rule, newest first.
type AttemptLister interface {
	ListAttempts(ctx context.Context, ruleID uint64, limit int) ([]models.CommitLog, error)
}

// AttemptHandler serves the commit history of a rule.
type AttemptHandler struct {
	rules    RuleReader
	attempts AttemptLister
}

// NewAttemptHandler constructs an AttemptHandler.
func NewAttemptHandler(rules RuleReader, attempts AttemptLister) *AttemptHandler {
	return &AttemptHandler{rules: rules, attempts: attempts}
}

type attemptView struct {
	ID            uint64     `json:"id"`
	Status        string     `json:"status"`
	CommitSHA     string     `json:"commit_sha,omitempty"`
	CommitPhrase  string     `json:"commit_phrase,omitempty"`
	CommitMessage string     `json:"commit_message,omitempty"`
	FileName      string     `json:"file_name"`
	ErrorCode     string     `json:"error_code,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	StatusCode    *int       `json:"status_code,omitempty"`
	ScheduledAt   time.Time  `json:"scheduled_at"`
	ExecutedAt    *time.Time `json:"executed_at,omitempty"`
	TimeZone      string     `json:"time_zone"`
	DayOfWeek     int        `json:"day_of_week"`
}

// List returns the rule's statistics and its most recent attempts. ?limit caps the rows.
func (h *AttemptHandler) List(c *gin.Context) {
	if h == nil || h.rules == nil || h.attempts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attempt history unavailable"})
		return
	}
	ruleID, ok := parseID(c, "automation")
	if !ok {
		return
	}
	limit := defaultAttemptLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(parsed, maxAttemptLimit)
	}
	ctx := c.Request.Context()

	rule, errRule := h.rules.GetRule(ctx, ruleID)
	if errRule != nil {
		if errors.Is(errRule, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "automation not found"})
			return
		}
		log.WithError(errRule).Warnf("admin attempts: load automation %d failed", ruleID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load automation failed"})
		return
	}
	rows, errList := h.attempts.ListAttempts(ctx, ruleID, limit)
	if errList != nil {
		log.WithError(errList).Warnf("admin attempts: list attempts of %d failed", ruleID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list attempts failed"})
		return
	}

	views := make([]attemptView, 0, len(rows))
	for _, row := range rows {
		views = append(views, attemptView{
			ID:            row.ID,
			Status:        string(row.Status),
			CommitSHA:     row.CommitSHA,
			CommitPhrase:  row.CommitPhrase,
			CommitMessage: row.CommitMessage,
			FileName:      row.FileName,
			ErrorCode:     row.ErrorCode,
			ErrorMessage:  row.ErrorMessage,
			StatusCode:    row.StatusCode,
			ScheduledAt:   row.ScheduledAt,
			ExecutedAt:    row.ExecutedAt,
			TimeZone:      row.TimeZone,
			DayOfWeek:     row.DayOfWeek,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"automation_id": rule.ID,
		"repository":    rule.Repository(),
		"status":        rule.Status,
		"statistics": gin.H{
			"total_commits":      rule.Statistics.TotalCommits,
			"commits_this_week":  rule.Statistics.CommitsThisWeek,
			"commits_this_month": rule.Statistics.CommitsThisMonth,
		},
		"last_commit": gin.H{
			"sha":       rule.LastCommit.SHA,
			"message":   rule.LastCommit.Message,
			"timestamp": rule.LastCommit.Timestamp,
		},
		"attempts": views,
	})
}
