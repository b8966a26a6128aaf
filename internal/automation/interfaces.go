package automation

import (
	"context"
	"time"

	"github.com/autocommitor/autocommitor/internal/models"
)

// FileState is the current remote content of a target file.
type FileState struct {
	Content  string
	Revision string // Empty when the file does not exist.
	Exists   bool
}

// WriteRequest describes a file write against the provider.
type WriteRequest struct {
	Owner    string
	Repo     string
	Path     string
	Content  string
	Message  string
	Revision string // Empty to create the file.
}

// Gateway reads and writes repository files on behalf of a credential.
type Gateway interface {
	// ReadFile returns the file content and revision. A missing file is an empty FileState.
	ReadFile(ctx context.Context, token, owner, repo, path string) (FileState, error)
	// WriteFile writes content guarded by the revision and returns the commit identifier.
	WriteFile(ctx context.Context, token string, req WriteRequest) (string, error)
}

// RuleStore loads automation rules and updates their runtime state.
type RuleStore interface {
	ListEligibleRules(ctx context.Context, now time.Time) ([]models.Automation, error)
	CountSuccessfulSince(ctx context.Context, ruleID uint64, since time.Time) (int64, error)
	IncrementStats(ctx context.Context, ruleID uint64, at time.Time, loc *time.Location) error
	UpdateLastCommit(ctx context.Context, ruleID uint64, commit models.LastCommit) error
}

// Outcome is the terminal state written when an attempt is finalized.
type Outcome struct {
	Status       models.CommitLogStatus
	CommitSHA    string
	Message      string
	Phrase       string
	ErrorMessage string
	ErrorCode    Code
	StatusCode   int
	ExecutedAt   time.Time
}

// RunLog is the append-only attempt log.
type RunLog interface {
	Open(ctx context.Context, attempt *models.CommitLog) (uint64, error)
	Finalize(ctx context.Context, attemptID uint64, outcome Outcome) error
}

// CredentialSource resolves and flags owner credentials.
type CredentialSource interface {
	// Token returns the owner's provider token, ErrCredentialUnavailable or ErrCredentialSuspended.
	Token(ctx context.Context, userID uint64) (string, error)
	// MarkInvalid flags the owner's token after the provider rejected it.
	MarkInvalid(ctx context.Context, userID uint64, reason string) error
}

// Locker guards against concurrent executions of the same rule.
type Locker interface {
	// TryLock acquires key without waiting. ok is false when another holder has it.
	TryLock(ctx context.Context, key string) (release func(), ok bool, err error)
}
