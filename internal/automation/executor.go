package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/autocommitor/autocommitor/internal/content"
	"github.com/autocommitor/autocommitor/internal/models"
	"github.com/autocommitor/autocommitor/internal/schedule"
	log "github.com/sirupsen/logrus"
)

const (
	defaultTargetFile  = "README.md"
	bookkeepingTimeout = 5 * time.Second
)

// Result summarizes one execution of a rule.
type Result struct {
	AttemptID  uint64
	Committed  bool
	CommitSHA  string
	Phrase     string
	Message    string
	ExecutedAt time.Time
}

// Executor performs a single commit for a rule: it opens an attempt, reads the target file,
// appends generated content, writes it back guarded by the read revision and finalizes the
// attempt.
type Executor struct {
	gateway   Gateway
	rules     RuleStore
	runLog    RunLog
	generator *content.Generator
	now       func() time.Time
}

// NewExecutor constructs an Executor. now defaults to time.Now.
func NewExecutor(gateway Gateway, rules RuleStore, runLog RunLog, generator *content.Generator, now func() time.Time) *Executor {
	if now == nil {
		now = time.Now
	}
	return &Executor{
		gateway:   gateway,
		rules:     rules,
		runLog:    runLog,
		generator: generator,
		now:       now,
	}
}

// Execute runs one commit for rule using token. scheduledAt is the tick instant the rule was
// evaluated at; it fixes the attempt's local day. Failures are recorded on the attempt and
// returned; nothing is retried here.
func (e *Executor) Execute(ctx context.Context, rule models.Automation, token string, scheduledAt time.Time) (Result, error) {
	if e == nil || e.gateway == nil || e.rules == nil || e.runLog == nil || e.generator == nil {
		return Result{}, errors.New("automation executor: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	loc, _ := schedule.ResolveLocation(rule.Timezone)
	if scheduledAt.IsZero() {
		scheduledAt = e.now()
	}
	scheduledAt = scheduledAt.UTC()
	clock := schedule.LocalClock(scheduledAt, loc)
	targetFile := strings.TrimSpace(rule.TargetFile)
	if targetFile == "" {
		targetFile = defaultTargetFile
	}

	attempt := &models.CommitLog{
		AutomationID: rule.ID,
		UserID:       rule.UserID,
		RepoName:     rule.Repository(),
		FileName:     targetFile,
		Status:       models.CommitLogStatusPending,
		ScheduledAt:  scheduledAt,
		TimeZone:     loc.String(),
		DayOfWeek:    clock.Weekday,
	}
	attemptID, errOpen := e.runLog.Open(ctx, attempt)
	if errOpen != nil {
		return Result{}, persistence("open attempt", errOpen)
	}
	result := Result{AttemptID: attemptID}

	file, errRead := e.gateway.ReadFile(ctx, token, rule.RepoOwner, rule.RepoName, targetFile)
	if errRead != nil {
		return result, e.fail(ctx, attemptID, errRead)
	}

	generated, errGenerate := e.generator.Generate(rule.CommitPhrases, file.Content)
	if errGenerate != nil {
		return result, e.fail(ctx, attemptID, &ConfigError{RuleID: rule.ID, Err: errGenerate})
	}
	result.Phrase = generated.Phrase
	result.Message = generated.Message

	sha, errWrite := e.gateway.WriteFile(ctx, token, WriteRequest{
		Owner:    rule.RepoOwner,
		Repo:     rule.RepoName,
		Path:     targetFile,
		Content:  generated.Body,
		Message:  generated.Message,
		Revision: file.Revision,
	})
	if errWrite != nil {
		return result, e.fail(ctx, attemptID, errWrite, generated)
	}

	executedAt := e.now().UTC()
	result.Committed = true
	result.CommitSHA = sha
	result.ExecutedAt = executedAt

	// The commit landed upstream: record it even if the tick is cancelled, and attempt every
	// step even if one fails.
	bookCtx, cancel := detach(ctx)
	defer cancel()
	var errs []error
	if errFinalize := e.runLog.Finalize(bookCtx, attemptID, Outcome{
		Status:     models.CommitLogStatusSuccess,
		CommitSHA:  sha,
		Message:    generated.Message,
		Phrase:     generated.Phrase,
		ExecutedAt: executedAt,
	}); errFinalize != nil {
		errs = append(errs, persistence("finalize attempt", errFinalize))
	}
	if errStats := e.rules.IncrementStats(bookCtx, rule.ID, executedAt, loc); errStats != nil {
		errs = append(errs, persistence("increment stats", errStats))
	}
	if errLast := e.rules.UpdateLastCommit(bookCtx, rule.ID, models.LastCommit{
		Timestamp: &executedAt,
		Message:   generated.Phrase,
		SHA:       sha,
	}); errLast != nil {
		errs = append(errs, persistence("update last commit", errLast))
	}
	return result, errors.Join(errs...)
}

// fail finalizes the attempt as failed and returns cause, joined with any finalize error.
func (e *Executor) fail(ctx context.Context, attemptID uint64, cause error, generated ...content.Result) error {
	outcome := Outcome{
		Status:       models.CommitLogStatusFailed,
		ErrorMessage: cause.Error(),
		ErrorCode:    CodeOf(cause),
		ExecutedAt:   e.now().UTC(),
	}
	if status, ok := StatusCodeOf(cause); ok {
		outcome.StatusCode = status
	}
	if len(generated) > 0 {
		outcome.Message = generated[0].Message
		outcome.Phrase = generated[0].Phrase
	}

	// A cancelled tick must still close the attempt.
	finalizeCtx, cancel := detach(ctx)
	defer cancel()
	if errFinalize := e.runLog.Finalize(finalizeCtx, attemptID, outcome); errFinalize != nil {
		log.WithError(errFinalize).Warnf("automation executor: finalize failed attempt %d", attemptID)
		return errors.Join(cause, persistence(fmt.Sprintf("finalize attempt %d", attemptID), errFinalize))
	}
	return cause
}

// detach returns a context that outlives the cancellation of ctx, bounded by bookkeepingTimeout.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
}
