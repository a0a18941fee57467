// Package history keeps past run reports in a sqlite database.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sasha-s/go-deadlock"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/stepvm/report"
)

// ErrRunNotFound indicates the requested run id is not in the database.
var ErrRunNotFound = errors.New("run not found")

const schema = `CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	program     TEXT NOT NULL,
	state       TEXT NOT NULL,
	steps       INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	report      BLOB NOT NULL
)`

// Store is a run history database.
type Store struct {
	db   *sql.DB
	path string
	log  commonlog.Logger
	mu   deadlock.Mutex
}

// Summary is one row of Recent, without decoding the report.
type Summary struct {
	RunID      string
	Program    string
	State      string
	Steps      int64
	Failed     bool
	FinishedAt time.Time
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// An in-memory database lives as long as its connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	s := &Store{db: db, path: path, log: commonlog.GetLogger("stepvm.history")}
	s.log.Debugf("opened %s", path)
	return s, nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save stores r, replacing an earlier report with the same run id.
func (s *Store) Save(r *report.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := report.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO runs (run_id, program, state, steps, failed, finished_at, report) VALUES (?, ?, ?, ?, ?, ?, ?)",
		r.RunID, r.Program, r.State, r.Steps, r.Failed(), r.FinishedAt.UnixNano(), data,
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", r.RunID, err)
	}
	s.log.Debugf("saved run %s (%s, %s)", r.RunID, r.Program, r.State)
	return nil
}

// Get loads the full report of one run.
func (s *Store) Get(runID string) (*report.RunReport, error) {
	var data []byte
	err := s.db.QueryRow("SELECT report FROM runs WHERE run_id = ?", runID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return report.Unmarshal(data)
}

// Recent lists up to limit runs, newest first. A non-positive limit lists
// everything.
func (s *Store) Recent(limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		"SELECT run_id, program, state, steps, failed, finished_at FROM runs ORDER BY finished_at DESC, run_id LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var finished int64
		if err := rows.Scan(&sum.RunID, &sum.Program, &sum.State, &sum.Steps, &sum.Failed, &finished); err != nil {
			return nil, fmt.Errorf("reading run: %w", err)
		}
		sum.FinishedAt = time.Unix(0, finished)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes one run.
func (s *Store) Delete(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM runs WHERE run_id = ?", runID)
	if err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}
