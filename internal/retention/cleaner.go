// Package retention prunes old attempt records and closes attempts abandoned in pending state.
package retention

import (
	"context"
	"time"

	"github.com/autocommitor/autocommitor/internal/automation"
	"github.com/autocommitor/autocommitor/internal/models"
	internalsettings "github.com/autocommitor/autocommitor/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultInterval          = time.Hour
	defaultDeleteBatchSize   = 5000
	defaultStalePendingAfter = 30 * time.Minute
	maxDeleteBatchesPerRun   = 2000
	abandonedMessage         = "attempt abandoned"
)

// Options configures a Cleaner.
type Options struct {
	Interval time.Duration
	// AttemptDays is the fallback retention when COMMIT_LOG_RETENTION_DAYS is unset. Zero keeps
	// records forever.
	AttemptDays       int
	StalePendingAfter time.Duration
	BatchSize         int
	Now               func() time.Time
}

// Result reports what one cleanup pass changed.
type Result struct {
	Deleted   int64
	Abandoned int64
}

// Cleaner periodically deletes finalized attempt records past retention and fails stale
// pending ones.
type Cleaner struct {
	db                *gorm.DB
	interval          time.Duration
	attemptDays       int
	stalePendingAfter time.Duration
	batchSize         int
	now               func() time.Time
}

// NewCleaner constructs a Cleaner. It returns nil for a nil db.
func NewCleaner(db *gorm.DB, opts Options) *Cleaner {
	if db == nil {
		return nil
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.StalePendingAfter <= 0 {
		opts.StalePendingAfter = defaultStalePendingAfter
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultDeleteBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cleaner{
		db:                db,
		interval:          opts.Interval,
		attemptDays:       opts.AttemptDays,
		stalePendingAfter: opts.StalePendingAfter,
		batchSize:         opts.BatchSize,
		now:               opts.Now,
	}
}

// Start launches the cleanup loop in a background goroutine.
func (c *Cleaner) Start(ctx context.Context) {
	if c == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go c.run(ctx)
	log.Infof("commit log retention cleaner started (interval=%s)", c.interval)
}

func (c *Cleaner) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.CleanupOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// CleanupOnce runs one pass: stale pending attempts first, then retention deletes.
func (c *Cleaner) CleanupOnce(ctx context.Context) Result {
	var result Result
	if c == nil || c.db == nil {
		return result
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := c.now().UTC()

	abandoned, errSweep := c.failStalePending(ctx, now)
	if errSweep != nil {
		log.WithError(errSweep).Warn("commit log retention cleaner: stale pending sweep failed")
	} else if abandoned > 0 {
		log.Warnf("commit log retention cleaner: failed %d abandoned pending attempts", abandoned)
	}
	result.Abandoned = abandoned

	retentionDays := c.attemptDays
	if parsed := internalsettings.IntValue(internalsettings.CommitLogRetentionDaysKey, -1); parsed >= 0 {
		retentionDays = parsed
	}
	if retentionDays <= 0 {
		return result
	}
	cutoff := now.AddDate(0, 0, -retentionDays)

	for i := 0; i < maxDeleteBatchesPerRun; i++ {
		if ctx.Err() != nil {
			break
		}
		n, errDelete := c.deleteBatch(ctx, cutoff)
		if errDelete != nil {
			log.WithError(errDelete).Warn("commit log retention cleaner: delete batch failed")
			break
		}
		if n <= 0 {
			break
		}
		result.Deleted += n
	}
	if result.Deleted > 0 {
		log.Infof("commit log retention cleaner: deleted %d rows (cutoff=%s retention_days=%d)", result.Deleted, cutoff.Format(time.RFC3339), retentionDays)
	}
	return result
}

func (c *Cleaner) failStalePending(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-c.stalePendingAfter)
	res := c.db.WithContext(ctx).
		Model(&models.CommitLog{}).
		Where("status = ? AND scheduled_at < ?", models.CommitLogStatusPending, cutoff).
		Updates(map[string]any{
			"status":        models.CommitLogStatusFailed,
			"error_code":    string(automation.CodeTimeout),
			"error_message": abandonedMessage,
			"executed_at":   now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (c *Cleaner) deleteBatch(ctx context.Context, cutoff time.Time) (int64, error) {
	// A limited subquery keeps every delete short.
	res := c.db.WithContext(ctx).Exec(`
		DELETE FROM commit_logs
		WHERE id IN (
			SELECT id FROM commit_logs
			WHERE created_at < ? AND status <> ?
			ORDER BY created_at ASC
			LIMIT ?
		)
	`, cutoff, models.CommitLogStatusPending, c.batchSize)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
