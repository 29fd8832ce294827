package audit

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"kanade/internal/domain"
	"kanade/internal/scheduler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestLog(t *testing.T) *Log {
	t.Helper()
	log, err := Open(filepath.Join(t.TempDir(), "audit.db"), testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

func TestLog_RecordAndRecent(t *testing.T) {
	log := openTestLog(t)
	key := domain.SessionKey{Kind: domain.KindGroup, ID: 42}

	log.RecordCycle(key, scheduler.OutcomeFired, "", 1200*time.Millisecond)
	log.RecordCycle(key, scheduler.OutcomeQueryFailed, "api down", 300*time.Millisecond)

	entries, err := log.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// Newest first.
	if entries[0].Outcome != string(scheduler.OutcomeQueryFailed) || entries[0].Detail != "api down" {
		t.Fatalf("entry 0 wrong: %+v", entries[0])
	}
	if entries[1].Outcome != string(scheduler.OutcomeFired) || entries[1].LatencyMs != 1200 {
		t.Fatalf("entry 1 wrong: %+v", entries[1])
	}
	if entries[0].Session != "group_42" {
		t.Fatalf("session key wrong: %q", entries[0].Session)
	}
}

func TestLog_RecentLimit(t *testing.T) {
	log := openTestLog(t)
	key := domain.SessionKey{Kind: domain.KindPrivate, ID: 1}
	for i := 0; i < 5; i++ {
		log.RecordCycle(key, scheduler.OutcomeFired, "", 0)
	}

	entries, err := log.Recent(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("limit not applied: got %d entries", len(entries))
	}
}

func TestLog_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.db")

	log, err := Open(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	log.RecordCycle(domain.SessionKey{Kind: domain.KindGroup, ID: 1}, scheduler.OutcomeFired, "", 0)
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	entries, err := reopened.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected the recorded cycle to persist, got %d entries", len(entries))
	}
}
