// Package audit keeps a durable log of debounce cycle outcomes in SQLite,
// so an operator can see after the fact why the bot did or did not reply.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"kanade/internal/domain"
	"kanade/internal/scheduler"

	_ "modernc.org/sqlite"
)

// Log implements scheduler.CycleRecorder on a SQLite database.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
}

func Open(dbPath string, logger *slog.Logger) (*Log, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	l := &Log{db: db, logger: logger}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return l, nil
}

func (l *Log) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cycles (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session     TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		detail      TEXT,
		latency_ms  INTEGER DEFAULT 0,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_cycles_time ON cycles(created_at);
	CREATE INDEX IF NOT EXISTS idx_cycles_session ON cycles(session);
	`
	_, err := l.db.Exec(schema)
	return err
}

// RecordCycle stores one finished cycle. Failures are logged, never
// propagated: the audit trail is advisory, the cycle already ended.
func (l *Log) RecordCycle(key domain.SessionKey, outcome scheduler.CycleOutcome, detail string, latency time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO cycles (session, outcome, detail, latency_ms, created_at) VALUES (?, ?, ?, ?, ?)`,
		key.String(), string(outcome), detail, latency.Milliseconds(), time.Now(),
	)
	if err != nil {
		l.logger.Warn("cannot record cycle", "session", key.String(), "err", err)
	}
}

// CycleEntry is one row of the cycle log, newest first from Recent.
type CycleEntry struct {
	ID        int64
	Session   string
	Outcome   string
	Detail    string
	LatencyMs int64
	CreatedAt time.Time
}

// Recent returns the most recent cycle entries.
func (l *Log) Recent(ctx context.Context, limit int) ([]CycleEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, session, outcome, detail, latency_ms, created_at
		 FROM cycles ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CycleEntry
	for rows.Next() {
		var e CycleEntry
		if err := rows.Scan(&e.ID, &e.Session, &e.Outcome, &e.Detail, &e.LatencyMs, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (l *Log) Close() error {
	return l.db.Close()
}
