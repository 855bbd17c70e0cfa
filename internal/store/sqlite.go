// Package store persists completed rounds and pattern sets to SQLite.
// Writes go through a single background writer so the poll loop never
// blocks on disk; write errors are logged, not returned to callers.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"

	"github.com/tablepilot/tablepilot/internal/session"
)

const writeQueueSize = 256

type jobKind int

const (
	jobRound jobKind = iota
	jobPatterns
	jobFlush
)

type job struct {
	kind    jobKind
	tableID int
	outcome session.Outcome
	rules   string
	ack     chan struct{}
}

// Store is a SQLite-backed round and pattern archive. Safe for
// concurrent use; all writes are serialized on one goroutine.
type Store struct {
	db     *sql.DB
	logger *log.Logger

	mu     sync.Mutex
	closed bool
	jobs   chan job
	done   chan struct{}
}

// Open opens (or creates) the database at path and starts the writer.
// Parent directories are created as needed; ":memory:" is accepted for
// tests.
func Open(path string, logger *log.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty database path")
	}
	if path != ":memory:" {
		parent := filepath.Dir(path)
		if parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:     db,
		logger: logger.WithPrefix("store"),
		jobs:   make(chan job, writeQueueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS rounds (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    table_id INTEGER NOT NULL,
    round_number INTEGER NOT NULL,
    recorded_at_ms INTEGER NOT NULL,
    timer_at_start INTEGER NOT NULL,
    blue_score INTEGER NOT NULL,
    red_score INTEGER NOT NULL,
    winner TEXT NOT NULL,
    decision TEXT NOT NULL,
    pattern TEXT NOT NULL DEFAULT '',
    result TEXT NOT NULL
)`)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
CREATE INDEX IF NOT EXISTS idx_rounds_table ON rounds (table_id, round_number)`)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS patterns (
    table_id INTEGER PRIMARY KEY,
    rules TEXT NOT NULL,
    updated_at_ms INTEGER NOT NULL
)`)
	return err
}

func (s *Store) run() {
	defer close(s.done)
	for j := range s.jobs {
		switch j.kind {
		case jobRound:
			s.insertRound(j.tableID, j.outcome)
		case jobPatterns:
			s.upsertPatterns(j.tableID, j.rules)
		case jobFlush:
			close(j.ack)
		}
	}
}

var (
	errStoreClosed = errors.New("store closed")
	errQueueFull   = errors.New("write queue full")
)

// enqueue hands a job to the writer. Callers on the poll path never
// block: a full queue fails the enqueue instead of stalling a cycle.
// Only Flush waits for space.
func (s *Store) enqueue(j job, wait bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}
	if wait {
		s.jobs <- j
		return nil
	}
	select {
	case s.jobs <- j:
		return nil
	default:
		return errQueueFull
	}
}

// AppendRound queues one completed round for insertion.
func (s *Store) AppendRound(tableID int, outcome session.Outcome) {
	if err := s.enqueue(job{kind: jobRound, tableID: tableID, outcome: outcome}, false); err != nil {
		s.logger.Warn("round dropped", "table", tableID, "round", outcome.RoundNumber, "reason", err)
	}
}

// UpdatePatterns queues a pattern-set replacement for the table.
func (s *Store) UpdatePatterns(tableID int, rules string) {
	if err := s.enqueue(job{kind: jobPatterns, tableID: tableID, rules: rules}, false); err != nil {
		s.logger.Warn("pattern update dropped", "table", tableID, "reason", err)
	}
}

// Flush blocks until every queued write has been applied.
func (s *Store) Flush() {
	ack := make(chan struct{})
	if err := s.enqueue(job{kind: jobFlush, ack: ack}, true); err != nil {
		return
	}
	<-ack
}

// Close drains the queue, stops the writer and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()

	<-s.done
	return s.db.Close()
}

func (s *Store) insertRound(tableID int, o session.Outcome) {
	_, err := s.db.Exec(`
INSERT INTO rounds (
    table_id, round_number, recorded_at_ms, timer_at_start,
    blue_score, red_score, winner, decision, pattern, result
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, tableID, o.RoundNumber, o.Timestamp.UnixMilli(), o.TimerAtStart,
		o.BlueScore, o.RedScore, string(o.Winner), o.Decision.String(),
		o.PatternMatched, o.Result.String())
	if err != nil {
		s.logger.Error("round insert failed", "table", tableID, "round", o.RoundNumber, "error", err)
	}
}

func (s *Store) upsertPatterns(tableID int, rules string) {
	_, err := s.db.Exec(`
INSERT INTO patterns (table_id, rules, updated_at_ms)
VALUES (?, ?, ?)
ON CONFLICT(table_id) DO UPDATE SET rules = excluded.rules, updated_at_ms = excluded.updated_at_ms
`, tableID, rules, time.Now().UTC().UnixMilli())
	if err != nil {
		s.logger.Error("pattern upsert failed", "table", tableID, "error", err)
	}
}

// Round is a persisted round row.
type Round struct {
	TableID      int
	RoundNumber  int
	RecordedAt   time.Time
	TimerAtStart int
	BlueScore    int
	RedScore     int
	Winner       string
	Decision     string
	Pattern      string
	Result       string
}

// Rounds returns the persisted rounds for one table, oldest first.
func (s *Store) Rounds(ctx context.Context, tableID int) ([]Round, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT table_id, round_number, recorded_at_ms, timer_at_start,
       blue_score, red_score, winner, decision, pattern, result
FROM rounds
WHERE table_id = ?
ORDER BY round_number
`, tableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Round
	for rows.Next() {
		var r Round
		var recordedMs int64
		if err := rows.Scan(&r.TableID, &r.RoundNumber, &recordedMs, &r.TimerAtStart,
			&r.BlueScore, &r.RedScore, &r.Winner, &r.Decision, &r.Pattern, &r.Result); err != nil {
			return nil, err
		}
		r.RecordedAt = time.UnixMilli(recordedMs).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Patterns returns the last persisted rule text for one table, or ""
// if none was stored.
func (s *Store) Patterns(ctx context.Context, tableID int) (string, error) {
	var rules string
	err := s.db.QueryRowContext(ctx, `
SELECT rules FROM patterns WHERE table_id = ?
`, tableID).Scan(&rules)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return rules, err
}
