// Package store persists automation rules, attempt records and owner credentials with gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/autocommitor/autocommitor/internal/models"
	"github.com/autocommitor/autocommitor/internal/schedule"
	"gorm.io/gorm"
)

var errNilDB = errors.New("store: db not initialized")

// RuleStore reads rules and applies runtime updates to them.
type RuleStore struct {
	db *gorm.DB
}

// NewRuleStore wraps db.
func NewRuleStore(db *gorm.DB) *RuleStore {
	return &RuleStore{db: db}
}

// ListEligibleRules returns every active rule. Weekday and window checks happen per rule in
// its own zone, so no calendar filter is applied here.
func (s *RuleStore) ListEligibleRules(ctx context.Context, _ time.Time) ([]models.Automation, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}
	var rules []models.Automation
	if errFind := s.db.WithContext(ctx).
		Where("status = ?", models.AutomationStatusActive).
		Order("id ASC").
		Find(&rules).Error; errFind != nil {
		return nil, errFind
	}
	return rules, nil
}

// CountSuccessfulSince counts successful attempts of ruleID scheduled at or after since.
func (s *RuleStore) CountSuccessfulSince(ctx context.Context, ruleID uint64, since time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNilDB
	}
	var count int64
	if errCount := s.db.WithContext(ctx).
		Model(&models.CommitLog{}).
		Where("automation_id = ? AND status = ? AND scheduled_at >= ?", ruleID, models.CommitLogStatusSuccess, since.UTC()).
		Count(&count).Error; errCount != nil {
		return 0, errCount
	}
	return count, nil
}

// IncrementStats adds one commit at instant at. Weekly and monthly counters restart when the
// previous count predates the local week (Sunday) or month start in loc. The whole change is a
// single UPDATE so concurrent increments cannot lose counts.
func (s *RuleStore) IncrementStats(ctx context.Context, ruleID uint64, at time.Time, loc *time.Location) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	at = at.UTC()
	weekStart := schedule.WeekStart(at, loc)
	monthStart := schedule.MonthStart(at, loc)

	res := s.db.WithContext(ctx).
		Model(&models.Automation{}).
		Where("id = ?", ruleID).
		Updates(map[string]any{
			"stats_total_commits": gorm.Expr("stats_total_commits + 1"),
			"stats_commits_this_week": gorm.Expr(
				"CASE WHEN stats_last_counted_at IS NULL OR stats_last_counted_at < ? THEN 1 ELSE stats_commits_this_week + 1 END",
				weekStart),
			"stats_commits_this_month": gorm.Expr(
				"CASE WHEN stats_last_counted_at IS NULL OR stats_last_counted_at < ? THEN 1 ELSE stats_commits_this_month + 1 END",
				monthStart),
			"stats_last_reset": gorm.Expr(
				"CASE WHEN stats_last_counted_at IS NULL OR stats_last_counted_at < ? OR stats_last_counted_at < ? THEN ? ELSE stats_last_reset END",
				weekStart, monthStart, at),
			"stats_last_counted_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store: automation %d: %w", ruleID, gorm.ErrRecordNotFound)
	}
	return nil
}

// UpdateLastCommit records the most recent successful commit of ruleID.
func (s *RuleStore) UpdateLastCommit(ctx context.Context, ruleID uint64, commit models.LastCommit) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	var timestamp *time.Time
	if commit.Timestamp != nil {
		utc := commit.Timestamp.UTC()
		timestamp = &utc
	}
	res := s.db.WithContext(ctx).
		Model(&models.Automation{}).
		Where("id = ?", ruleID).
		Updates(map[string]any{
			"last_commit_timestamp": timestamp,
			"last_commit_message":   commit.Message,
			"last_commit_sha":       commit.SHA,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store: automation %d: %w", ruleID, gorm.ErrRecordNotFound)
	}
	return nil
}

// GetRule loads one rule by id.
func (s *RuleStore) GetRule(ctx context.Context, ruleID uint64) (models.Automation, error) {
	if s == nil || s.db == nil {
		return models.Automation{}, errNilDB
	}
	var rule models.Automation
	if errFind := s.db.WithContext(ctx).First(&rule, ruleID).Error; errFind != nil {
		return models.Automation{}, errFind
	}
	return rule, nil
}
