// Package store persists request and attempt traces in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"genui/internal/logging"
)

// TraceStore records every pipeline request and each of its render attempts.
// Writes are serialized by a mutex; reads may run concurrently.
type TraceStore struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// RequestTrace summarizes one pipeline run.
type RequestTrace struct {
	ID          string    `json:"id"`
	Prompt      string    `json:"prompt"`
	Intent      string    `json:"intent,omitempty"`
	Success     bool      `json:"success"`
	FailureKind string    `json:"failure_kind,omitempty"`
	Message     string    `json:"message,omitempty"`
	Attempts    int       `json:"attempts"`
	Fallback    bool      `json:"fallback"`
	Critique    string    `json:"critique,omitempty"` // JSON encoded critique, when one ran
	DurationMs  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// AttemptTrace records one pass through the rendering phase.
type AttemptTrace struct {
	RequestID  string            `json:"request_id"`
	Attempt    int               `json:"attempt"`
	Strategy   string            `json:"strategy,omitempty"`
	Verdicts   map[string]string `json:"verdicts,omitempty"` // gate name to verdict
	Error      string            `json:"error,omitempty"`
	DurationMs int64             `json:"duration_ms"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Stats aggregates stored requests.
type Stats struct {
	Requests    int     `json:"requests"`
	Successes   int     `json:"successes"`
	Failures    int     `json:"failures"`
	Fallbacks   int     `json:"fallbacks"`
	AvgAttempts float64 `json:"avg_attempts"`
}

// Open opens or creates the trace database at path. ":memory:" gives a private in-memory
// database.
func Open(path string) (*TraceStore, error) {
	logging.StoreDebug("opening trace store at %s", path)
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create trace store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace store: %w", err)
	}
	// a single connection keeps an in-memory database alive and serializes sqlite writes
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			logging.StoreWarn("failed to enable WAL: %v", err)
		}
	}
	ts := &TraceStore{db: db, path: path}
	if err := ts.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure trace schema: %w", err)
	}
	logging.Store("trace store ready at %s", path)
	return ts, nil
}

// Close closes the database.
func (ts *TraceStore) Close() error {
	return ts.db.Close()
}

// Path returns the database location.
func (ts *TraceStore) Path() string { return ts.path }

func (ts *TraceStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		prompt TEXT NOT NULL,
		intent TEXT,
		success BOOLEAN NOT NULL,
		failure_kind TEXT,
		message TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		fallback BOOLEAN NOT NULL DEFAULT 0,
		critique TEXT,
		duration_ms INTEGER,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attempts (
		request_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		strategy TEXT,
		verdicts TEXT,
		error TEXT,
		duration_ms INTEGER,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (request_id, attempt)
	);

	CREATE INDEX IF NOT EXISTS idx_requests_created ON requests(created_at);
	CREATE INDEX IF NOT EXISTS idx_requests_success ON requests(success);
	`
	_, err := ts.db.Exec(schema)
	return err
}

// RecordRequest inserts or replaces a request trace.
func (ts *TraceStore) RecordRequest(ctx context.Context, t *RequestTrace) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	logging.StoreDebug("recording request %s success=%v attempts=%d", t.ID, t.Success, t.Attempts)
	_, err := ts.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO requests
		(id, prompt, intent, success, failure_kind, message, attempts, fallback, critique, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Prompt, t.Intent, t.Success, t.FailureKind, t.Message, t.Attempts, t.Fallback,
		t.Critique, t.DurationMs, t.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record request %s: %w", t.ID, err)
	}
	return nil
}

// RecordAttempt inserts or replaces an attempt trace.
func (ts *TraceStore) RecordAttempt(ctx context.Context, a *AttemptTrace) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	verdicts, err := json.Marshal(a.Verdicts)
	if err != nil {
		return fmt.Errorf("failed to encode verdicts: %w", err)
	}
	_, err = ts.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO attempts
		(request_id, attempt, strategy, verdicts, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.RequestID, a.Attempt, a.Strategy, string(verdicts), a.Error, a.DurationMs, a.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record attempt %d of %s: %w", a.Attempt, a.RequestID, err)
	}
	return nil
}

// Recent returns the newest request traces first.
func (ts *TraceStore) Recent(ctx context.Context, limit int) ([]RequestTrace, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := ts.db.QueryContext(ctx, `
		SELECT id, prompt, intent, success, failure_kind, message, attempts, fallback, critique, duration_ms, created_at
		FROM requests ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var out []RequestTrace
	for rows.Next() {
		var t RequestTrace
		var intent, kind, msg, critique sql.NullString
		var created int64
		if err := rows.Scan(&t.ID, &t.Prompt, &intent, &t.Success, &kind, &msg, &t.Attempts,
			&t.Fallback, &critique, &t.DurationMs, &created); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		t.Intent, t.FailureKind, t.Message, t.Critique = intent.String, kind.String, msg.String, critique.String
		t.CreatedAt = time.UnixMilli(created)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Attempts returns the attempts of a request in order.
func (ts *TraceStore) Attempts(ctx context.Context, requestID string) ([]AttemptTrace, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	rows, err := ts.db.QueryContext(ctx, `
		SELECT request_id, attempt, strategy, verdicts, error, duration_ms, created_at
		FROM attempts WHERE request_id = ? ORDER BY attempt`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var out []AttemptTrace
	for rows.Next() {
		var a AttemptTrace
		var strategy, verdicts, errText sql.NullString
		var created int64
		if err := rows.Scan(&a.RequestID, &a.Attempt, &strategy, &verdicts, &errText, &a.DurationMs, &created); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.Strategy, a.Error = strategy.String, errText.String
		if verdicts.Valid && verdicts.String != "" && verdicts.String != "null" {
			if err := json.Unmarshal([]byte(verdicts.String), &a.Verdicts); err != nil {
				logging.StoreWarn("attempt %d of %s has unreadable verdicts: %v", a.Attempt, requestID, err)
			}
		}
		a.CreatedAt = time.UnixMilli(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Stats aggregates every stored request.
func (ts *TraceStore) Stats(ctx context.Context) (Stats, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	var s Stats
	var avg sql.NullFloat64
	var successes, fallbacks sql.NullInt64
	err := ts.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(CASE WHEN success THEN 1 ELSE 0 END),
		       SUM(CASE WHEN fallback THEN 1 ELSE 0 END), AVG(attempts)
		FROM requests`).Scan(&s.Requests, &successes, &fallbacks, &avg)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to aggregate requests: %w", err)
	}
	s.Successes = int(successes.Int64)
	s.Fallbacks = int(fallbacks.Int64)
	s.Failures = s.Requests - s.Successes
	s.AvgAttempts = avg.Float64
	return s, nil
}
