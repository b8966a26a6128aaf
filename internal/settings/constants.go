package settings

// DB setting keys and defaults read by the scheduler at the start of every tick.
const (
	// SchedulerMaxConcurrencyKey caps how many rules are evaluated in parallel.
	SchedulerMaxConcurrencyKey = "SCHEDULER_MAX_CONCURRENCY"
	// SchedulerPausedKey turns timer ticks into no-ops when true.
	SchedulerPausedKey = "SCHEDULER_PAUSED"
	// CommitLogRetentionDaysKey controls how long finalized attempt records are kept.
	CommitLogRetentionDaysKey = "COMMIT_LOG_RETENTION_DAYS"
	// DefaultSchedulerMaxConcurrency is the fallback rule concurrency.
	DefaultSchedulerMaxConcurrency = 5
	// DefaultCommitLogRetentionDays keeps attempt records forever.
	DefaultCommitLogRetentionDays = 0
)
