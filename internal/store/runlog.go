package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/autocommitor/autocommitor/internal/automation"
	"github.com/autocommitor/autocommitor/internal/models"
	"gorm.io/gorm"
)

// RunLog appends attempt records and finalizes them exactly once.
type RunLog struct {
	db *gorm.DB
}

// NewRunLog wraps db.
func NewRunLog(db *gorm.DB) *RunLog {
	return &RunLog{db: db}
}

// Open inserts attempt as pending and returns its id.
func (l *RunLog) Open(ctx context.Context, attempt *models.CommitLog) (uint64, error) {
	if l == nil || l.db == nil {
		return 0, errNilDB
	}
	if attempt == nil {
		return 0, errors.New("store: nil attempt")
	}
	attempt.Status = models.CommitLogStatusPending
	attempt.ScheduledAt = attempt.ScheduledAt.UTC()
	if errCreate := l.db.WithContext(ctx).Create(attempt).Error; errCreate != nil {
		return 0, errCreate
	}
	return attempt.ID, nil
}

// Finalize moves a pending attempt to its terminal state. Finalizing twice returns
// automation.ErrAttemptFinalized.
func (l *RunLog) Finalize(ctx context.Context, attemptID uint64, outcome automation.Outcome) error {
	if l == nil || l.db == nil {
		return errNilDB
	}
	if outcome.Status != models.CommitLogStatusSuccess && outcome.Status != models.CommitLogStatusFailed {
		return fmt.Errorf("store: invalid terminal status %q", outcome.Status)
	}
	executedAt := outcome.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now()
	}
	executedAt = executedAt.UTC()

	updates := map[string]any{
		"status":         outcome.Status,
		"commit_sha":     outcome.CommitSHA,
		"commit_message": outcome.Message,
		"commit_phrase":  outcome.Phrase,
		"error_message":  outcome.ErrorMessage,
		"error_code":     string(outcome.ErrorCode),
		"executed_at":    executedAt,
	}
	if outcome.StatusCode > 0 {
		updates["status_code"] = outcome.StatusCode
	}

	res := l.db.WithContext(ctx).
		Model(&models.CommitLog{}).
		Where("id = ? AND status = ?", attemptID, models.CommitLogStatusPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if errCount := l.db.WithContext(ctx).Model(&models.CommitLog{}).Where("id = ?", attemptID).Count(&count).Error; errCount != nil {
		return errCount
	}
	if count == 0 {
		return fmt.Errorf("store: attempt %d: %w", attemptID, gorm.ErrRecordNotFound)
	}
	return fmt.Errorf("store: attempt %d: %w", attemptID, automation.ErrAttemptFinalized)
}

// ListAttempts returns the newest attempts of ruleID, at most limit rows.
func (l *RunLog) ListAttempts(ctx context.Context, ruleID uint64, limit int) ([]models.CommitLog, error) {
	if l == nil || l.db == nil {
		return nil, errNilDB
	}
	if limit <= 0 {
		limit = 50
	}
	var rows []models.CommitLog
	if errFind := l.db.WithContext(ctx).
		Where("automation_id = ?", ruleID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}
