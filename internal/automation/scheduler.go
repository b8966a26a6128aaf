package automation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/autocommitor/autocommitor/internal/models"
	"github.com/autocommitor/autocommitor/internal/policy"
	"github.com/autocommitor/autocommitor/internal/schedule"
	internalsettings "github.com/autocommitor/autocommitor/internal/settings"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

const (
	defaultTickInterval   = time.Minute
	defaultMaxConcurrency = internalsettings.DefaultSchedulerMaxConcurrency
	maxConcurrencyCeiling = 64
	lockKeyPrefix         = "autocommitor:automation:"
)

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Interval       time.Duration
	MaxConcurrency int
	// Refresh reloads runtime settings at the start of every tick. Optional.
	Refresh func(ctx context.Context) error
	Now     func() time.Time
}

// TickReport summarizes one tick.
type TickReport struct {
	TickID     string    `json:"tick_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Evaluated  int       `json:"evaluated"`
	InWindow   int       `json:"in_window"`
	Committed  int       `json:"committed"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Errors     []string  `json:"errors,omitempty"`
}

type ruleOutcome int

const (
	outcomeOutside ruleOutcome = iota
	outcomeSkipped
	outcomeCommitted
	outcomeFailed
)

// Scheduler drives ticks: it loads active rules and evaluates each independently.
type Scheduler struct {
	rules       RuleStore
	credentials CredentialSource
	locker      Locker
	executor    *Executor
	policy      policy.Policy

	interval       time.Duration
	maxConcurrency int
	refresh        func(ctx context.Context) error
	now            func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewScheduler wires a Scheduler. It returns nil when a required dependency is missing.
func NewScheduler(rules RuleStore, credentials CredentialSource, locker Locker, executor *Executor, decision policy.Policy, opts SchedulerOptions) *Scheduler {
	if rules == nil || credentials == nil || locker == nil || executor == nil || decision == nil {
		return nil
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultTickInterval
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaultMaxConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		rules:          rules,
		credentials:    credentials,
		locker:         locker,
		executor:       executor,
		policy:         decision,
		interval:       opts.Interval,
		maxConcurrency: opts.MaxConcurrency,
		refresh:        opts.Refresh,
		now:            opts.Now,
	}
}

// Start schedules timer ticks until ctx is done. Overlapping timer ticks are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("automation scheduler: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("automation scheduler: already started")
	}

	logger := cron.PrintfLogger(log.StandardLogger())
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, errAdd := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() { s.timerTick(ctx) }); errAdd != nil {
		return fmt.Errorf("automation scheduler: schedule tick: %w", errAdd)
	}
	c.Start()
	s.cron = c

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	log.Infof("automation scheduler started (interval=%s)", s.interval)
	return nil
}

// Stop halts timer ticks and waits for a running tick to return.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	log.Info("automation scheduler stopped")
}

func (s *Scheduler) timerTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.refreshSettings(ctx)
	if internalsettings.BoolValue(internalsettings.SchedulerPausedKey, false) {
		log.Debug("automation scheduler: paused, tick skipped")
		return
	}
	report := s.tick(ctx)
	log.Infof("automation scheduler: tick %s evaluated=%d in_window=%d committed=%d skipped=%d failed=%d",
		report.TickID, report.Evaluated, report.InWindow, report.Committed, report.Skipped, report.Failed)
}

// RunTick runs one tick immediately, regardless of the paused setting. It is safe to call
// while timer ticks run: a rule already executing elsewhere is skipped.
func (s *Scheduler) RunTick(ctx context.Context) TickReport {
	if s == nil {
		return TickReport{Errors: []string{"automation scheduler: not initialized"}}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.refreshSettings(ctx)
	return s.tick(ctx)
}

func (s *Scheduler) refreshSettings(ctx context.Context) {
	if s.refresh == nil {
		return
	}
	if errRefresh := s.refresh(ctx); errRefresh != nil {
		log.WithError(errRefresh).Warn("automation scheduler: refresh settings failed")
	}
}

func (s *Scheduler) resolveConcurrency() int {
	maxConcurrency := internalsettings.IntValue(internalsettings.SchedulerMaxConcurrencyKey, s.maxConcurrency)
	if maxConcurrency <= 0 {
		maxConcurrency = s.maxConcurrency
	}
	if maxConcurrency > maxConcurrencyCeiling {
		maxConcurrency = maxConcurrencyCeiling
	}
	return maxConcurrency
}

func (s *Scheduler) tick(ctx context.Context) TickReport {
	now := s.now().UTC()
	report := TickReport{TickID: uuid.NewString(), StartedAt: now}

	rules, errList := s.rules.ListEligibleRules(ctx, now)
	if errList != nil {
		log.WithError(errList).Warnf("automation scheduler: load rules failed (tick=%s)", report.TickID)
		report.Errors = append(report.Errors, fmt.Sprintf("load rules: %v", errList))
		report.FinishedAt = s.now().UTC()
		return report
	}
	report.Evaluated = len(rules)

	sem := make(chan struct{}, s.resolveConcurrency())
	var (
		wg       sync.WaitGroup
		reportMu sync.Mutex
	)
	record := func(outcome ruleOutcome, inWindow bool, errRule error, ruleID uint64) {
		reportMu.Lock()
		defer reportMu.Unlock()
		if inWindow {
			report.InWindow++
		}
		switch outcome {
		case outcomeCommitted:
			report.Committed++
		case outcomeSkipped:
			report.Skipped++
		case outcomeFailed:
			report.Failed++
		}
		if errRule != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("automation %d: %v", ruleID, errRule))
		}
	}

	for _, rule := range rules {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			report.Errors = append(report.Errors, ctx.Err().Error())
			report.FinishedAt = s.now().UTC()
			return report
		}
		wg.Add(1)
		ruleCopy := rule
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			outcome, inWindow, errRule := s.evaluateSafely(ctx, ruleCopy, now, report.TickID)
			record(outcome, inWindow, errRule, ruleCopy.ID)
		}()
	}
	wg.Wait()
	report.FinishedAt = s.now().UTC()
	return report
}

func (s *Scheduler) evaluateSafely(ctx context.Context, rule models.Automation, now time.Time, tickID string) (outcome ruleOutcome, inWindow bool, errRule error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			log.Errorf("automation scheduler: panic evaluating automation %d (tick=%s): %v\n%s", rule.ID, tickID, recovered, debug.Stack())
			outcome = outcomeFailed
			errRule = fmt.Errorf("panic: %v", recovered)
		}
	}()
	return s.evaluate(ctx, rule, now, tickID)
}

func (s *Scheduler) evaluate(ctx context.Context, rule models.Automation, now time.Time, tickID string) (ruleOutcome, bool, error) {
	entry := log.WithFields(log.Fields{"automation": rule.ID, "tick": tickID})

	loc, okLoc := schedule.ResolveLocation(rule.Timezone)
	if !okLoc {
		entry.Warnf("automation scheduler: unknown timezone %q, using UTC", rule.Timezone)
	}
	window, errWindow := schedule.NewWindow(rule.StartTime, rule.EndTime, rule.DaysOfWeek)
	if errWindow != nil {
		errConfig := &ConfigError{RuleID: rule.ID, Err: errWindow}
		entry.WithError(errConfig).Warn("automation scheduler: invalid window")
		return outcomeFailed, false, errConfig
	}

	clock := schedule.LocalClock(now, loc)
	if !window.ContainsClock(clock) {
		return outcomeOutside, false, nil
	}

	release, acquired, errLock := s.locker.TryLock(ctx, lockKeyPrefix+strconv.FormatUint(rule.ID, 10))
	if errLock != nil {
		entry.WithError(errLock).Warn("automation scheduler: acquire lock failed")
		return outcomeFailed, true, errLock
	}
	if !acquired {
		entry.Debug("automation scheduler: rule busy, skipped")
		return outcomeSkipped, true, nil
	}
	defer release()

	todayCount, errCount := s.rules.CountSuccessfulSince(ctx, rule.ID, schedule.LocalMidnight(now, loc))
	if errCount != nil {
		errPersist := persistence("count successful commits", errCount)
		entry.WithError(errPersist).Warn("automation scheduler: quota lookup failed")
		return outcomeFailed, true, errPersist
	}

	if !s.policy.ShouldCommit(policy.Input{
		TodaySuccessCount: int(todayCount),
		MaxPerDay:         rule.MaxCommitsPerDay,
		InWindow:          true,
		MinutesRemaining:  window.MinutesRemaining(clock.MinuteOfDay),
	}) {
		return outcomeSkipped, true, nil
	}

	token, errToken := s.credentials.Token(ctx, rule.UserID)
	if errToken != nil {
		if errors.Is(errToken, ErrCredentialSuspended) || errors.Is(errToken, ErrCredentialUnavailable) {
			entry.WithError(errToken).Debug("automation scheduler: credential not usable, skipped")
			return outcomeSkipped, true, nil
		}
		errPersist := persistence("load credential", errToken)
		entry.WithError(errPersist).Warn("automation scheduler: credential lookup failed")
		return outcomeFailed, true, errPersist
	}

	result, errExec := s.executor.Execute(ctx, rule, token, now)
	if result.Committed {
		if errExec != nil {
			entry.WithError(errExec).Warn("automation scheduler: commit landed with bookkeeping errors")
		} else {
			entry.Infof("automation scheduler: committed %s to %s", result.CommitSHA, rule.Repository())
		}
		return outcomeCommitted, true, errExec
	}

	code := CodeOf(errExec)
	var providerErr *ProviderError
	retryNextTick := errors.As(errExec, &providerErr) && providerErr.Transient()
	entry.WithError(errExec).WithFields(log.Fields{"code": code, "retry_next_tick": retryNextTick}).Warn("automation scheduler: commit failed")
	if code == CodeAuthExpired {
		if errMark := s.credentials.MarkInvalid(ctx, rule.UserID, errExec.Error()); errMark != nil {
			entry.WithError(errMark).Warn("automation scheduler: mark credential invalid failed")
		}
	}
	return outcomeFailed, true, errExec
}
