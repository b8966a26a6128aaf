package models

import "time"

// CommitLogStatus enumerates the states of an execution attempt.
type CommitLogStatus string

const (
	// CommitLogStatusPending marks an attempt that has not been finalized.
	CommitLogStatusPending CommitLogStatus = "pending"
	// CommitLogStatusSuccess marks an attempt whose commit landed upstream.
	CommitLogStatusSuccess CommitLogStatus = "success"
	// CommitLogStatusFailed marks an attempt that ended with an error.
	CommitLogStatusFailed CommitLogStatus = "failed"
)

// CommitLog is the append-only record of one execution attempt of an automation.
type CommitLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AutomationID uint64 `gorm:"not null;index:idx_commit_logs_quota,priority:1"` // Related automation ID.
	UserID       uint64 `gorm:"not null;index"`                                  // Owning user ID.
	RepoName     string `gorm:"type:text;not null"`                              // "owner/name" of the target.

	CommitMessage string `gorm:"type:text"`          // Message sent upstream.
	CommitPhrase  string `gorm:"type:text"`          // Phrase chosen for the commit.
	CommitSHA     string `gorm:"type:text"`          // Upstream commit identifier.
	FileName      string `gorm:"type:text;not null"` // Target file path.

	Status CommitLogStatus `gorm:"type:text;not null;default:'pending';index:idx_commit_logs_quota,priority:2"` // Attempt state.

	ErrorMessage string `gorm:"type:text"` // Failure message, failed attempts only.
	ErrorCode    string `gorm:"type:text"` // Failure code, failed attempts only.
	StatusCode   *int   // Provider HTTP status, when known.

	ScheduledAt time.Time  `gorm:"not null;index:idx_commit_logs_quota,priority:3"` // Tick instant that opened the attempt (UTC).
	ExecutedAt  *time.Time // Finalization instant (UTC).
	TimeZone    string     `gorm:"type:text;not null;default:'UTC'"` // Zone used for evaluation.
	DayOfWeek   int        `gorm:"not null"`                         // Local weekday evaluated.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`       // Last update timestamp.
}
