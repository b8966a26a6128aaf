package models

import (
	"time"

	"gorm.io/datatypes"
)

// AutomationStatus enumerates the lifecycle states of an automation rule.
type AutomationStatus string

const (
	// AutomationStatusActive marks a rule evaluated by the scheduler.
	AutomationStatusActive AutomationStatus = "active"
	// AutomationStatusPaused marks a rule paused by its owner.
	AutomationStatusPaused AutomationStatus = "paused"
	// AutomationStatusStopped marks a rule stopped by its owner or by a disconnect.
	AutomationStatusStopped AutomationStatus = "stopped"
)

// Automation stores a scheduled commit rule for a repository file.
type Automation struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.
	UserID uint64 `gorm:"not null;index"`           // Owning user ID.

	RepoOwner  string `gorm:"type:text;not null"`                    // Repository owner login.
	RepoName   string `gorm:"type:text;not null"`                    // Repository name.
	IsPrivate  bool   `gorm:"not null;default:false"`                // Informational visibility flag.
	TargetFile string `gorm:"type:text;not null;default:'README.md'"` // File rewritten by each commit.

	MaxCommitsPerDay int    `gorm:"not null;default:1"`              // Daily quota (1..50).
	StartTime        string `gorm:"type:text;not null"`              // Window start, local "HH:MM".
	EndTime          string `gorm:"type:text;not null"`              // Window end, local "HH:MM".
	Timezone         string `gorm:"type:text;not null;default:'UTC'"` // IANA zone name.

	DaysOfWeek    datatypes.JSONSlice[int]    `gorm:"not null"` // Weekdays 0 (Sunday) .. 6 (Saturday).
	CommitPhrases datatypes.JSONSlice[string] `gorm:"not null"` // Candidate commit phrases.

	Status AutomationStatus `gorm:"type:text;not null;default:'active';index"` // Lifecycle state.

	LastCommit LastCommit           `gorm:"embedded;embeddedPrefix:last_commit_"` // Most recent successful commit.
	Statistics AutomationStatistics `gorm:"embedded;embeddedPrefix:stats_"`       // Aggregate counters.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// LastCommit describes the most recent successful commit of a rule.
type LastCommit struct {
	Timestamp *time.Time // Commit time.
	Message   string     `gorm:"type:text"` // Clean phrase, without attribution.
	SHA       string     `gorm:"type:text"` // Upstream commit identifier.
}

// AutomationStatistics holds aggregate commit counters of a rule.
type AutomationStatistics struct {
	TotalCommits     int64      `gorm:"not null;default:0"` // All-time successful commits.
	CommitsThisWeek  int64      `gorm:"not null;default:0"` // Successful commits in the current local week.
	CommitsThisMonth int64      `gorm:"not null;default:0"` // Successful commits in the current local month.
	LastReset        *time.Time // Last time a periodic counter rolled over.
	LastCountedAt    *time.Time // Time of the last increment.
}

// Repository returns the "owner/name" form of the target repository.
func (a Automation) Repository() string {
	return a.RepoOwner + "/" + a.RepoName
}
