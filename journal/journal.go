// Package journal keeps a SQLite record of program runs and how they
// ended. Every run stores its CBOR exit report, which for panicked runs
// carries the snapshot taken at the failure.
package journal

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/regvm/vm"
	"github.com/chazu/regvm/vm/dist"
)

var log = commonlog.GetLogger("regvm.journal")

// ErrEntryNotFound indicates the requested run is not in the journal.
var ErrEntryNotFound = errors.New("journal entry not found")

// Entry is one recorded run.
type Entry struct {
	RunID       uuid.UUID
	Program     string
	ProgramHash string // hex SHA-256 of the serialized program
	Arch        string
	Outcome     string // exit_gracefully or panic
	PanicReason string
	Steps       uint64
	Return      string
	Report      []byte // CBOR exit report
	RecordedAt  time.Time
}

// Graceful reports whether the run exited without a panic.
func (e *Entry) Graceful() bool { return e.Outcome == vm.ExitGracefully.String() }

// DecodeReport decodes the stored exit report.
func (e *Entry) DecodeReport() (*dist.ExitReport, error) {
	return dist.UnmarshalExitReport(e.Report)
}

// DecodeSnapshot decodes the snapshot in the stored report, nil when the
// run exited gracefully.
func (e *Entry) DecodeSnapshot() (*vm.Snapshot, error) {
	r, err := e.DecodeReport()
	if err != nil {
		return nil, err
	}
	return r.Snapshot, nil
}

// Journal is an open run journal.
type Journal struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

const schema = `CREATE TABLE IF NOT EXISTS runs (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL UNIQUE,
	program      TEXT NOT NULL,
	program_hash TEXT NOT NULL,
	arch         TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	panic_reason TEXT NOT NULL DEFAULT '',
	steps        INTEGER NOT NULL,
	return_value TEXT NOT NULL DEFAULT '',
	report       BLOB NOT NULL,
	recorded_at  INTEGER NOT NULL
)`

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("journal open at %s", path)
	return &Journal{db: db, path: path}, nil
}

// Path returns the database file path.
func (j *Journal) Path() string { return j.path }

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Record stores the outcome of one run of the program at programPath.
func (j *Journal) Record(programPath string, r *dist.ExitReport) (*Entry, error) {
	id, err := uuid.Parse(r.RunID)
	if err != nil {
		return nil, fmt.Errorf("run id %q: %w", r.RunID, err)
	}
	e := &Entry{
		RunID:       id,
		Program:     programPath,
		ProgramHash: hex.EncodeToString(r.ProgramHash[:]),
		Arch:        r.Arch,
		Outcome:     r.Exit.Kind.String(),
		Steps:       r.Steps,
		RecordedAt:  time.Now().UTC(),
	}
	if r.Graceful() {
		e.Return = r.Exit.Return.String()
	} else {
		e.PanicReason = r.Exit.Panic.Reason.String()
	}
	if e.Report, err = dist.MarshalExitReport(r); err != nil {
		return nil, fmt.Errorf("encoding exit report: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = j.db.Exec(
		`INSERT INTO runs (run_id, program, program_hash, arch, outcome, panic_reason, steps, return_value, report, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID.String(), e.Program, e.ProgramHash, e.Arch, e.Outcome, e.PanicReason,
		int64(e.Steps), e.Return, e.Report, e.RecordedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("saving run: %w", err)
	}
	log.Infof("recorded run %s of %s: %s", e.RunID, e.Program, e.Outcome)
	return e, nil
}

const selectColumns = `SELECT run_id, program, program_hash, arch, outcome, panic_reason, steps, return_value, report, recorded_at FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e     Entry
		id    string
		steps int64
		at    int64
	)
	if err := s.Scan(&id, &e.Program, &e.ProgramHash, &e.Arch, &e.Outcome, &e.PanicReason, &steps, &e.Return, &e.Report, &at); err != nil {
		return nil, err
	}
	var err error
	if e.RunID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("stored run id %q: %w", id, err)
	}
	e.Steps = uint64(steps)
	e.RecordedAt = time.Unix(0, at).UTC()
	return &e, nil
}

// Recent returns up to n runs, newest first. n <= 0 returns every run.
func (j *Journal) Recent(n int) ([]Entry, error) {
	query := selectColumns + " ORDER BY seq DESC"
	args := []any{}
	if n > 0 {
		query += " LIMIT ?"
		args = append(args, n)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("reading run: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Get returns the run with the given id.
func (j *Journal) Get(id uuid.UUID) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, err := scanEntry(j.db.QueryRow(selectColumns+" WHERE run_id = ?", id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return e, nil
}
