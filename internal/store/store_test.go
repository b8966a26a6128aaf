package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/autocommitor/autocommitor/internal/automation"
	"github.com/autocommitor/autocommitor/internal/db"
	"github.com/autocommitor/autocommitor/internal/models"
	"github.com/autocommitor/autocommitor/internal/security"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func seedRule(t *testing.T, conn *gorm.DB, userID uint64, status models.AutomationStatus) models.Automation {
	t.Helper()
	rule := models.Automation{
		UserID:           userID,
		RepoOwner:        "octo",
		RepoName:         "demo",
		TargetFile:       "README.md",
		MaxCommitsPerDay: 3,
		StartTime:        "00:00",
		EndTime:          "23:59",
		Timezone:         "UTC",
		DaysOfWeek:       []int{0, 1, 2, 3, 4, 5, 6},
		CommitPhrases:    []string{"update docs"},
		Status:           status,
	}
	if errCreate := conn.Create(&rule).Error; errCreate != nil {
		t.Fatalf("create rule: %v", errCreate)
	}
	return rule
}

func seedUser(t *testing.T, conn *gorm.DB, name, token string) models.User {
	t.Helper()
	user := models.User{Username: name, GitHubAccessToken: token}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	return user
}

func TestListEligibleRulesReturnsActiveOnly(t *testing.T) {
	conn := openTestDB(t)
	active := seedRule(t, conn, 1, models.AutomationStatusActive)
	seedRule(t, conn, 1, models.AutomationStatusPaused)
	seedRule(t, conn, 1, models.AutomationStatusStopped)

	rules, errList := NewRuleStore(conn).ListEligibleRules(context.Background(), time.Now())
	if errList != nil {
		t.Fatalf("ListEligibleRules() error: %v", errList)
	}
	if len(rules) != 1 || rules[0].ID != active.ID {
		t.Fatalf("ListEligibleRules() = %+v, want only rule %d", rules, active.ID)
	}
	if len(rules[0].DaysOfWeek) != 7 || rules[0].CommitPhrases[0] != "update docs" {
		t.Fatalf("json columns not decoded: %+v", rules[0])
	}
}

func TestCountSuccessfulSince(t *testing.T) {
	conn := openTestDB(t)
	rule := seedRule(t, conn, 1, models.AutomationStatusActive)
	midnight := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	rows := []models.CommitLog{
		{AutomationID: rule.ID, RepoName: "octo/demo", FileName: "README.md", Status: models.CommitLogStatusSuccess, ScheduledAt: midnight.Add(-time.Minute)},
		{AutomationID: rule.ID, RepoName: "octo/demo", FileName: "README.md", Status: models.CommitLogStatusSuccess, ScheduledAt: midnight},
		{AutomationID: rule.ID, RepoName: "octo/demo", FileName: "README.md", Status: models.CommitLogStatusSuccess, ScheduledAt: midnight.Add(3 * time.Hour)},
		{AutomationID: rule.ID, RepoName: "octo/demo", FileName: "README.md", Status: models.CommitLogStatusFailed, ScheduledAt: midnight.Add(4 * time.Hour)},
		{AutomationID: rule.ID + 1, RepoName: "octo/demo", FileName: "README.md", Status: models.CommitLogStatusSuccess, ScheduledAt: midnight.Add(5 * time.Hour)},
	}
	if errCreate := conn.Create(&rows).Error; errCreate != nil {
		t.Fatalf("seed logs: %v", errCreate)
	}

	count, errCount := NewRuleStore(conn).CountSuccessfulSince(context.Background(), rule.ID, midnight)
	if errCount != nil {
		t.Fatalf("CountSuccessfulSince() error: %v", errCount)
	}
	if count != 2 {
		t.Fatalf("CountSuccessfulSince() = %d, want 2", count)
	}
}

func TestIncrementStatsRollsOver(t *testing.T) {
	conn := openTestDB(t)
	store := NewRuleStore(conn)
	rule := seedRule(t, conn, 1, models.AutomationStatusActive)
	ctx := context.Background()

	// 2024-05-29 is a Wednesday, 2024-06-02 a Sunday.
	steps := []struct {
		at                 time.Time
		total, week, month int64
	}{
		{at: time.Date(2024, 5, 29, 10, 0, 0, 0, time.UTC), total: 1, week: 1, month: 1},
		{at: time.Date(2024, 5, 30, 10, 0, 0, 0, time.UTC), total: 2, week: 2, month: 2},
		{at: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), total: 3, week: 3, month: 1},
		{at: time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC), total: 4, week: 1, month: 2},
	}
	for i, step := range steps {
		if errInc := store.IncrementStats(ctx, rule.ID, step.at, time.UTC); errInc != nil {
			t.Fatalf("step %d: IncrementStats() error: %v", i, errInc)
		}
		got, errGet := store.GetRule(ctx, rule.ID)
		if errGet != nil {
			t.Fatalf("step %d: GetRule() error: %v", i, errGet)
		}
		stats := got.Statistics
		if stats.TotalCommits != step.total || stats.CommitsThisWeek != step.week || stats.CommitsThisMonth != step.month {
			t.Fatalf("step %d: stats = %+v, want total=%d week=%d month=%d", i, stats, step.total, step.week, step.month)
		}
		if stats.LastCountedAt == nil || !stats.LastCountedAt.Equal(step.at) {
			t.Fatalf("step %d: last counted = %v, want %v", i, stats.LastCountedAt, step.at)
		}
	}
}

func TestIncrementStatsMissingRule(t *testing.T) {
	conn := openTestDB(t)
	errInc := NewRuleStore(conn).IncrementStats(context.Background(), 999, time.Now(), time.UTC)
	if !errors.Is(errInc, gorm.ErrRecordNotFound) {
		t.Fatalf("IncrementStats() error = %v, want ErrRecordNotFound", errInc)
	}
}

func TestUpdateLastCommit(t *testing.T) {
	conn := openTestDB(t)
	store := NewRuleStore(conn)
	rule := seedRule(t, conn, 1, models.AutomationStatusActive)
	at := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	if errUpdate := store.UpdateLastCommit(context.Background(), rule.ID, models.LastCommit{Timestamp: &at, Message: "update docs", SHA: "abc"}); errUpdate != nil {
		t.Fatalf("UpdateLastCommit() error: %v", errUpdate)
	}
	got, _ := store.GetRule(context.Background(), rule.ID)
	if got.LastCommit.SHA != "abc" || got.LastCommit.Message != "update docs" || got.LastCommit.Timestamp == nil || !got.LastCommit.Timestamp.Equal(at) {
		t.Fatalf("last commit = %+v", got.LastCommit)
	}
}

func TestRunLogFinalizeOnce(t *testing.T) {
	conn := openTestDB(t)
	runLog := NewRunLog(conn)
	ctx := context.Background()

	attempt := &models.CommitLog{AutomationID: 1, UserID: 1, RepoName: "octo/demo", FileName: "README.md", ScheduledAt: time.Now()}
	id, errOpen := runLog.Open(ctx, attempt)
	if errOpen != nil || id == 0 {
		t.Fatalf("Open() = %d, %v", id, errOpen)
	}

	var pending models.CommitLog
	if errFind := conn.First(&pending, id).Error; errFind != nil {
		t.Fatalf("load attempt: %v", errFind)
	}
	if pending.Status != models.CommitLogStatusPending {
		t.Fatalf("status = %s, want pending", pending.Status)
	}

	errFinalize := runLog.Finalize(ctx, id, automation.Outcome{
		Status:       models.CommitLogStatusFailed,
		ErrorMessage: "sha does not match",
		ErrorCode:    automation.CodeConflict,
		StatusCode:   409,
	})
	if errFinalize != nil {
		t.Fatalf("Finalize() error: %v", errFinalize)
	}

	var failed models.CommitLog
	if errFind := conn.First(&failed, id).Error; errFind != nil {
		t.Fatalf("load attempt: %v", errFind)
	}
	if failed.Status != models.CommitLogStatusFailed || failed.ErrorCode != "Conflict" || failed.StatusCode == nil || *failed.StatusCode != 409 || failed.ExecutedAt == nil {
		t.Fatalf("finalized attempt = %+v", failed)
	}

	errAgain := runLog.Finalize(ctx, id, automation.Outcome{Status: models.CommitLogStatusSuccess})
	if !errors.Is(errAgain, automation.ErrAttemptFinalized) {
		t.Fatalf("second Finalize() error = %v, want ErrAttemptFinalized", errAgain)
	}
	if errMissing := runLog.Finalize(ctx, id+100, automation.Outcome{Status: models.CommitLogStatusSuccess}); !errors.Is(errMissing, gorm.ErrRecordNotFound) {
		t.Fatalf("Finalize(missing) error = %v, want ErrRecordNotFound", errMissing)
	}
}

func TestRunLogRejectsPendingOutcome(t *testing.T) {
	conn := openTestDB(t)
	if errFinalize := NewRunLog(conn).Finalize(context.Background(), 1, automation.Outcome{Status: models.CommitLogStatusPending}); errFinalize == nil {
		t.Fatalf("expected error for pending outcome")
	}
}

func TestCredentialStoreSealsTokens(t *testing.T) {
	conn := openTestDB(t)
	cipher, errCipher := security.NewTokenCipher("MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
	if errCipher != nil {
		t.Fatalf("NewTokenCipher() error: %v", errCipher)
	}
	store := NewCredentialStore(conn, cipher)
	user := seedUser(t, conn, "octocat", "")
	ctx := context.Background()

	if _, errToken := store.Token(ctx, user.ID); !errors.Is(errToken, automation.ErrCredentialUnavailable) {
		t.Fatalf("Token() without token error = %v", errToken)
	}
	if errSet := store.SetToken(ctx, user.ID, "ghp_secret"); errSet != nil {
		t.Fatalf("SetToken() error: %v", errSet)
	}

	var raw models.User
	if errFind := conn.First(&raw, user.ID).Error; errFind != nil {
		t.Fatalf("load user: %v", errFind)
	}
	if raw.GitHubAccessToken == "ghp_secret" {
		t.Fatalf("token stored in clear")
	}

	token, errToken := store.Token(ctx, user.ID)
	if errToken != nil || token != "ghp_secret" {
		t.Fatalf("Token() = %q, %v", token, errToken)
	}
	if _, errToken := store.Token(ctx, user.ID+1); !errors.Is(errToken, automation.ErrCredentialUnavailable) {
		t.Fatalf("Token(missing user) error = %v", errToken)
	}
}

func TestCredentialStoreHealth(t *testing.T) {
	conn := openTestDB(t)
	store := NewCredentialStore(conn, nil)
	user := seedUser(t, conn, "octocat", "ghp_plain")
	ctx := context.Background()

	if errMark := store.MarkInvalid(ctx, user.ID, "provider write file: AuthExpired (status=401)"); errMark != nil {
		t.Fatalf("MarkInvalid() error: %v", errMark)
	}
	if _, errToken := store.Token(ctx, user.ID); !errors.Is(errToken, automation.ErrCredentialSuspended) {
		t.Fatalf("Token() after MarkInvalid error = %v, want ErrCredentialSuspended", errToken)
	}
	stored, errStored := store.StoredToken(ctx, user.ID)
	if errStored != nil || stored != "ghp_plain" {
		t.Fatalf("StoredToken() = %q, %v", stored, errStored)
	}

	var flagged models.User
	_ = conn.First(&flagged, user.ID).Error
	if !flagged.TokenInvalid || flagged.LastAuthCheckAt == nil || flagged.LastAuthError == "" {
		t.Fatalf("user health = %+v", flagged)
	}

	if errValid := store.MarkValid(ctx, user.ID); errValid != nil {
		t.Fatalf("MarkValid() error: %v", errValid)
	}
	if token, errToken := store.Token(ctx, user.ID); errToken != nil || token != "ghp_plain" {
		t.Fatalf("Token() after MarkValid = %q, %v", token, errToken)
	}
}

func TestDisconnectStopsActiveRules(t *testing.T) {
	conn := openTestDB(t)
	store := NewCredentialStore(conn, nil)
	user := seedUser(t, conn, "octocat", "ghp_plain")
	other := seedUser(t, conn, "hubot", "ghp_other")
	seedRule(t, conn, user.ID, models.AutomationStatusActive)
	seedRule(t, conn, user.ID, models.AutomationStatusActive)
	paused := seedRule(t, conn, user.ID, models.AutomationStatusPaused)
	untouched := seedRule(t, conn, other.ID, models.AutomationStatusActive)

	stopped, errDisconnect := store.Disconnect(context.Background(), user.ID)
	if errDisconnect != nil {
		t.Fatalf("Disconnect() error: %v", errDisconnect)
	}
	if stopped != 2 {
		t.Fatalf("Disconnect() stopped = %d, want 2", stopped)
	}

	var rules []models.Automation
	_ = conn.Order("id ASC").Find(&rules).Error
	for _, rule := range rules {
		switch {
		case rule.ID == paused.ID && rule.Status != models.AutomationStatusPaused:
			t.Fatalf("paused rule changed to %s", rule.Status)
		case rule.ID == untouched.ID && rule.Status != models.AutomationStatusActive:
			t.Fatalf("other owner's rule changed to %s", rule.Status)
		case rule.UserID == user.ID && rule.ID != paused.ID && rule.Status != models.AutomationStatusStopped:
			t.Fatalf("rule %d status = %s, want stopped", rule.ID, rule.Status)
		}
	}
	if _, errToken := store.Token(context.Background(), user.ID); !errors.Is(errToken, automation.ErrCredentialUnavailable) {
		t.Fatalf("Token() after disconnect error = %v", errToken)
	}
	if _, errMissing := store.Disconnect(context.Background(), 999); !errors.Is(errMissing, gorm.ErrRecordNotFound) {
		t.Fatalf("Disconnect(missing) error = %v", errMissing)
	}
}

func TestMarkInvalidTruncatesOnRuneBoundary(t *testing.T) {
	conn := openTestDB(t)
	store := NewCredentialStore(conn, nil)
	user := seedUser(t, conn, "octocat", "ghp_plain")

	// 'é' is two bytes, so byte 500 falls inside the rune that starts at 499.
	reason := "x" + strings.Repeat("é", 300)
	if errMark := store.MarkInvalid(context.Background(), user.ID, reason); errMark != nil {
		t.Fatalf("MarkInvalid() error: %v", errMark)
	}

	var flagged models.User
	if errFirst := conn.First(&flagged, user.ID).Error; errFirst != nil {
		t.Fatalf("load user: %v", errFirst)
	}
	if !utf8.ValidString(flagged.LastAuthError) {
		t.Fatalf("last auth error is not valid UTF-8: %q", flagged.LastAuthError)
	}
	if len(flagged.LastAuthError) != 499 || !strings.HasPrefix(reason, flagged.LastAuthError) {
		t.Fatalf("last auth error length = %d, want 499 byte prefix", len(flagged.LastAuthError))
	}
}
