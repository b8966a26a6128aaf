package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/autocommitor/autocommitor/internal/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func TestParseIntAcceptsNumbersStringsAndWrappers(t *testing.T) {
	cases := map[string]int{
		`3`:             3,
		`4.0`:           4,
		`"7"`:           7,
		`{"value": 9}`:  9,
		`{"value":"2"}`: 2,
	}
	for raw, want := range cases {
		got, ok := ParseInt(json.RawMessage(raw))
		if !ok || got != want {
			t.Fatalf("ParseInt(%s) = %d,%v; want %d", raw, got, ok, want)
		}
	}
	for _, raw := range []string{``, `null`, `1.5`, `"x"`, `true`} {
		if _, ok := ParseInt(json.RawMessage(raw)); ok {
			t.Fatalf("ParseInt(%s) should fail", raw)
		}
	}
}

func TestRefreshDBConfigSnapshotLoadsRows(t *testing.T) {
	dsn := fmt.Sprintf("file:settings_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(&models.Setting{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	t.Cleanup(func() { StoreDBConfig(time.Time{}, nil) })

	ctx := context.Background()
	if errPut := Put(ctx, db, SchedulerMaxConcurrencyKey, 2); errPut != nil {
		t.Fatalf("put concurrency: %v", errPut)
	}
	if errPut := Put(ctx, db, SchedulerPausedKey, "true"); errPut != nil {
		t.Fatalf("put paused: %v", errPut)
	}
	if errRefresh := RefreshDBConfigSnapshot(ctx, db); errRefresh != nil {
		t.Fatalf("refresh: %v", errRefresh)
	}

	if got := IntValue(SchedulerMaxConcurrencyKey, DefaultSchedulerMaxConcurrency); got != 2 {
		t.Fatalf("expected concurrency 2, got %d", got)
	}
	if !BoolValue(SchedulerPausedKey, false) {
		t.Fatalf("expected paused true")
	}
	if got := IntValue(CommitLogRetentionDaysKey, 30); got != 30 {
		t.Fatalf("expected fallback 30, got %d", got)
	}
	if DBConfigUpdatedAt().IsZero() {
		t.Fatalf("expected non-zero updated at")
	}
}
