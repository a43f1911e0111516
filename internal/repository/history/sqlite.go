package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/oshokin/super-release/internal/domain/release"
)

// Outcome is the final status of a recorded run.
type Outcome string

const (
	// OutcomeSucceeded means the action or build completed.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeFailed means the action or build returned an error.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped means the gates did not hold and nothing ran.
	OutcomeSkipped Outcome = "skipped"
)

const (
	// pragmaTimeout bounds the connection setup statements.
	pragmaTimeout = 5 * time.Second
	// timeLayout has fixed width so started_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Entry is one ledger row.
type Entry struct {
	// ID identifies the row.
	ID string
	// RunID groups the rows of one invocation (deploy fans out into several).
	RunID string
	// Action is the CI action or "build".
	Action string
	// Distribution is set for distribution builds.
	Distribution string
	// Version is the release tag.
	Version string
	// Outcome is the final status.
	Outcome Outcome
	// FailureKind classifies a failed run.
	FailureKind release.Kind
	// Error is the failure message.
	Error string
	// Artifact is the collected package name.
	Artifact string
	// Fingerprint is the BLAKE3 digest of the source archive.
	Fingerprint string
	// Actor is who ran it (user@host).
	Actor string
	// StartedAt is when the run began.
	StartedAt time.Time
	// CompletedAt is when the run finished.
	CompletedAt time.Time
}

// Duration is the wall time of the run.
func (e *Entry) Duration() time.Duration {
	return e.CompletedAt.Sub(e.StartedAt)
}

var errEmptyPath = errors.New("history path is empty")

// Store is a ledger backed by a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the ledger at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errEmptyPath
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, pragmaTimeout)
	defer cancel()

	// Parallel builders share the file; wait for the lock instead of failing.
	if _, err = db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if err = bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
  id           TEXT PRIMARY KEY,
  run_id       TEXT NOT NULL,
  action       TEXT NOT NULL,
  distribution TEXT,
  version      TEXT,
  outcome      TEXT NOT NULL,
  failure_kind TEXT,
  error        TEXT,
  artifact     TEXT,
  fingerprint  TEXT,
  actor        TEXT,
  started_at   TEXT NOT NULL,
  completed_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS runs_started_at_idx ON runs(started_at);`,
		`CREATE INDEX IF NOT EXISTS runs_run_id_idx ON runs(run_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap history: %w", err)
		}
	}

	return nil
}

// Record inserts e, assigning an ID when missing.
func (s *Store) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now()
	}

	if e.StartedAt.IsZero() {
		e.StartedAt = e.CompletedAt
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, run_id, action, distribution, version, outcome, failure_kind,
  error, artifact, fingerprint, actor, started_at, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.ID, e.RunID, e.Action, e.Distribution, e.Version, string(e.Outcome), string(e.FailureKind),
		e.Error, e.Artifact, e.Fingerprint, e.Actor,
		e.StartedAt.UTC().Format(timeLayout), e.CompletedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	return nil
}

// List returns up to limit entries, most recent first. A non-positive limit returns all.
func (s *Store) List(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, action, COALESCE(distribution, ''), COALESCE(version, ''), outcome,
  COALESCE(failure_kind, ''), COALESCE(error, ''), COALESCE(artifact, ''), COALESCE(fingerprint, ''),
  COALESCE(actor, ''), started_at, completed_at
FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var result []*Entry

	for rows.Next() {
		var (
			e                  Entry
			outcome, kind      string
			started, completed string
		)

		if err = rows.Scan(&e.ID, &e.RunID, &e.Action, &e.Distribution, &e.Version, &outcome,
			&kind, &e.Error, &e.Artifact, &e.Fingerprint, &e.Actor, &started, &completed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}

		e.Outcome = Outcome(outcome)
		e.FailureKind = release.Kind(kind)

		if e.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}

		if e.CompletedAt, err = time.Parse(timeLayout, completed); err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}

		result = append(result, &e)
	}

	return result, rows.Err()
}

// OutcomeOf maps a run error to its outcome and failure kind.
func OutcomeOf(err error) (Outcome, release.Kind) {
	if err == nil {
		return OutcomeSucceeded, release.KindNone
	}

	return OutcomeFailed, release.KindOf(err)
}
