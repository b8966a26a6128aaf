package automation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/autocommitor/autocommitor/internal/content"
	"github.com/autocommitor/autocommitor/internal/models"
)

type memStore struct {
	mu       sync.Mutex
	rules    map[uint64]*models.Automation
	attempts []models.CommitLog
	listErr  error
	openErr  error

	finalizeErr error
	statsErr    error
}

func newMemStore(rules ...models.Automation) *memStore {
	s := &memStore{rules: make(map[uint64]*models.Automation)}
	for i := range rules {
		rule := rules[i]
		s.rules[rule.ID] = &rule
	}
	return s
}

func (s *memStore) ListEligibleRules(_ context.Context, _ time.Time) ([]models.Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	ids := make([]uint64, 0, len(s.rules))
	for id, rule := range s.rules {
		if rule.Status == models.AutomationStatusActive {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	out := make([]models.Automation, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.rules[id])
	}
	return out, nil
}

func (s *memStore) CountSuccessfulSince(_ context.Context, ruleID uint64, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, attempt := range s.attempts {
		if attempt.AutomationID == ruleID && attempt.Status == models.CommitLogStatusSuccess && !attempt.ScheduledAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *memStore) IncrementStats(ctx context.Context, ruleID uint64, at time.Time, _ *time.Location) error {
	if errCtx := ctx.Err(); errCtx != nil {
		return errCtx
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statsErr != nil {
		return s.statsErr
	}
	rule, ok := s.rules[ruleID]
	if !ok {
		return errors.New("rule not found")
	}
	rule.Statistics.TotalCommits++
	rule.Statistics.CommitsThisWeek++
	rule.Statistics.CommitsThisMonth++
	rule.Statistics.LastCountedAt = &at
	return nil
}

func (s *memStore) UpdateLastCommit(ctx context.Context, ruleID uint64, commit models.LastCommit) error {
	if errCtx := ctx.Err(); errCtx != nil {
		return errCtx
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[ruleID]
	if !ok {
		return errors.New("rule not found")
	}
	rule.LastCommit = commit
	return nil
}

func (s *memStore) Open(_ context.Context, attempt *models.CommitLog) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return 0, s.openErr
	}
	attempt.ID = uint64(len(s.attempts) + 1)
	s.attempts = append(s.attempts, *attempt)
	return attempt.ID, nil
}

func (s *memStore) Finalize(ctx context.Context, attemptID uint64, outcome Outcome) error {
	if errCtx := ctx.Err(); errCtx != nil {
		return errCtx
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalizeErr != nil {
		return s.finalizeErr
	}
	if attemptID == 0 || int(attemptID) > len(s.attempts) {
		return errors.New("attempt not found")
	}
	attempt := &s.attempts[attemptID-1]
	if attempt.Status != models.CommitLogStatusPending {
		return ErrAttemptFinalized
	}
	executedAt := outcome.ExecutedAt
	attempt.Status = outcome.Status
	attempt.CommitSHA = outcome.CommitSHA
	attempt.CommitMessage = outcome.Message
	attempt.CommitPhrase = outcome.Phrase
	attempt.ErrorMessage = outcome.ErrorMessage
	attempt.ErrorCode = string(outcome.ErrorCode)
	attempt.ExecutedAt = &executedAt
	if outcome.StatusCode > 0 {
		status := outcome.StatusCode
		attempt.StatusCode = &status
	}
	return nil
}

func (s *memStore) rule(id uint64) models.Automation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rules[id]
}

func (s *memStore) attemptsOf(ruleID uint64) []models.CommitLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CommitLog
	for _, attempt := range s.attempts {
		if attempt.AutomationID == ruleID {
			out = append(out, attempt)
		}
	}
	return out
}

type fakeGateway struct {
	mu        sync.Mutex
	files     map[string]FileState
	reads     int
	writes    []WriteRequest
	readErr   error
	writeErr  error
	nextSHA   int
	onWrite   func(req WriteRequest)
	panicRepo string // ReadFile panics for this repository.
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{files: make(map[string]FileState)}
}

func (g *fakeGateway) ReadFile(_ context.Context, _ string, owner, repo, path string) (FileState, error) {
	if g.panicRepo != "" && repo == g.panicRepo {
		panic("gateway exploded")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reads++
	if g.readErr != nil {
		return FileState{}, g.readErr
	}
	return g.files[owner+"/"+repo+"/"+path], nil
}

func (g *fakeGateway) WriteFile(_ context.Context, _ string, req WriteRequest) (string, error) {
	if g.onWrite != nil {
		g.onWrite(req)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.writes = append(g.writes, req)
	if g.writeErr != nil {
		return "", g.writeErr
	}
	g.nextSHA++
	sha := fmt.Sprintf("sha-%d", g.nextSHA)
	g.files[req.Owner+"/"+req.Repo+"/"+req.Path] = FileState{Content: req.Content, Revision: "blob-" + sha, Exists: true}
	return sha, nil
}

func (g *fakeGateway) calls() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reads, len(g.writes)
}

type fakeCredentials struct {
	mu      sync.Mutex
	tokens  map[uint64]string
	invalid map[uint64]string
}

func newFakeCredentials(tokens map[uint64]string) *fakeCredentials {
	return &fakeCredentials{tokens: tokens, invalid: make(map[uint64]string)}
}

func (c *fakeCredentials) Token(_ context.Context, userID uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, flagged := c.invalid[userID]; flagged {
		return "", ErrCredentialSuspended
	}
	token, ok := c.tokens[userID]
	if !ok || token == "" {
		return "", ErrCredentialUnavailable
	}
	return token, nil
}

func (c *fakeCredentials) MarkInvalid(_ context.Context, userID uint64, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalid[userID] = reason
	return nil
}

type fixedIndex int

func (f fixedIndex) IntN(n int) int {
	if int(f) >= n {
		return n - 1
	}
	return int(f)
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func newTestGenerator(now func() time.Time) *content.Generator {
	return content.NewGenerator(fixedIndex(0), now, "Auto-committed")
}

func testRule(id uint64) models.Automation {
	return models.Automation{
		ID:               id,
		UserID:           1,
		RepoOwner:        "octo",
		RepoName:         "demo",
		TargetFile:       "README.md",
		MaxCommitsPerDay: 1,
		StartTime:        "00:00",
		EndTime:          "23:59",
		Timezone:         "UTC",
		DaysOfWeek:       []int{0, 1, 2, 3, 4, 5, 6},
		CommitPhrases:    []string{"update docs"},
		Status:           models.AutomationStatusActive,
	}
}
