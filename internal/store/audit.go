// Package store persists run audit trails in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Rodons/CitationMap/internal/model"
)

// Fixed width, so text order is time order
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var schema = []string{`CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  started_at TEXT NOT NULL,
  finished_at TEXT NOT NULL,
  identifiers INTEGER NOT NULL,
  records INTEGER NOT NULL,
  incomplete INTEGER NOT NULL,
  conflicts INTEGER NOT NULL,
  summary TEXT
)`,
	`CREATE TABLE IF NOT EXISTS contributions (
  run_id TEXT NOT NULL REFERENCES runs(id),
  identifier TEXT NOT NULL,
  source TEXT NOT NULL,
  record_id TEXT,
  fetched_at TEXT
)`,
	`CREATE TABLE IF NOT EXISTS conflicts (
  run_id TEXT NOT NULL REFERENCES runs(id),
  identifier TEXT NOT NULL,
  field TEXT NOT NULL,
  winner TEXT,
  winner_value TEXT,
  loser TEXT,
  loser_value TEXT
)`,
	`CREATE TABLE IF NOT EXISTS incomplete (
  run_id TEXT NOT NULL REFERENCES runs(id),
  identifier TEXT NOT NULL,
  source TEXT NOT NULL,
  reason TEXT NOT NULL,
  detail TEXT
)`,
	"CREATE INDEX IF NOT EXISTS idx_contributions_identifier ON contributions(identifier)",
	"CREATE INDEX IF NOT EXISTS idx_conflicts_identifier ON conflicts(identifier)",
	"CREATE INDEX IF NOT EXISTS idx_incomplete_identifier ON incomplete(identifier)",
}

// AuditStore records which sources fed which publication in each run
type AuditStore struct {
	db *sql.DB
}

// RunInfo is one stored run
type RunInfo struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Identifiers int       `json:"identifiers"`
	Records     int       `json:"records"`
	Incomplete  int       `json:"incomplete"`
	Conflicts   int       `json:"conflicts"`
}

// RunAudit is the audit trail of one identifier in one run
type RunAudit struct {
	RunID     string           `json:"run_id"`
	StartedAt time.Time        `json:"started_at"`
	Audit     model.AuditTrail `json:"audit"`
}

// DefaultPath returns ~/.citationmap/audit.db
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".citationmap", "audit.db"), nil
}

// Open opens (creating if needed) the audit database at path
func Open(path string) (*AuditStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)

	for _, ddl := range schema {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	return &AuditStore{db: db}, nil
}

func (s *AuditStore) Close() error {
	return s.db.Close()
}

// SaveRun writes a finished run and every record's audit trail in one transaction
func (s *AuditStore) SaveRun(ctx context.Context, report *model.Report) error {
	summary, err := json.Marshal(report.Summary)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, finished_at, identifiers, records, incomplete, conflicts, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RunID, formatTime(report.StartedAt), formatTime(report.FinishedAt),
		len(report.Identifiers), len(report.Records), len(report.Incomplete), len(report.Conflicts), string(summary))
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", report.RunID, err)
	}

	for _, rec := range report.Records {
		for _, ref := range rec.Audit.Contributions {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO contributions (run_id, identifier, source, record_id, fetched_at) VALUES (?, ?, ?, ?, ?)`,
				report.RunID, rec.Identifier, string(ref.Source), ref.RecordID, formatTime(ref.FetchedAt)); err != nil {
				return fmt.Errorf("inserting contribution: %w", err)
			}
		}
		for _, c := range rec.Audit.Conflicts {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO conflicts (run_id, identifier, field, winner, winner_value, loser, loser_value) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				report.RunID, c.Identifier, c.Field, string(c.Winner), c.WinnerValue, string(c.Loser), c.LoserValue); err != nil {
				return fmt.Errorf("inserting conflict: %w", err)
			}
		}
		for _, inc := range rec.Audit.Incomplete {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO incomplete (run_id, identifier, source, reason, detail) VALUES (?, ?, ?, ?, ?)`,
				report.RunID, inc.Identifier, string(inc.Source), string(inc.Reason), inc.Detail); err != nil {
				return fmt.Errorf("inserting incomplete source: %w", err)
			}
		}
	}

	return tx.Commit()
}

// Runs lists stored runs, newest first. A limit <= 0 lists all.
func (s *AuditStore) Runs(ctx context.Context, limit int) ([]RunInfo, error) {
	query := `SELECT id, started_at, finished_at, identifiers, records, incomplete, conflicts
	          FROM runs ORDER BY started_at DESC, id`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var r RunInfo
		var started, finished string
		if err := rows.Scan(&r.ID, &started, &finished, &r.Identifiers, &r.Records, &r.Incomplete, &r.Conflicts); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// AuditFor returns the audit trail of an identifier in every run that saw it, newest first
func (s *AuditStore) AuditFor(ctx context.Context, identifier string) ([]RunAudit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.started_at FROM runs r
		WHERE EXISTS (SELECT 1 FROM contributions c WHERE c.run_id = r.id AND c.identifier = ?)
		   OR EXISTS (SELECT 1 FROM incomplete i WHERE i.run_id = r.id AND i.identifier = ?)
		ORDER BY r.started_at DESC, r.id`, identifier, identifier)
	if err != nil {
		return nil, fmt.Errorf("querying runs for %s: %w", identifier, err)
	}

	var audits []RunAudit
	for rows.Next() {
		var a RunAudit
		var started string
		if err := rows.Scan(&a.RunID, &started); err != nil {
			rows.Close()
			return nil, err
		}
		a.StartedAt = parseTime(started)
		audits = append(audits, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range audits {
		trail, err := s.trail(ctx, audits[i].RunID, identifier)
		if err != nil {
			return nil, err
		}
		audits[i].Audit = trail
	}
	return audits, nil
}

func (s *AuditStore) trail(ctx context.Context, runID, identifier string) (model.AuditTrail, error) {
	var trail model.AuditTrail

	rows, err := s.db.QueryContext(ctx,
		`SELECT source, record_id, fetched_at FROM contributions WHERE run_id = ? AND identifier = ? ORDER BY rowid`,
		runID, identifier)
	if err != nil {
		return trail, err
	}
	for rows.Next() {
		var ref model.SourceRef
		var source, fetched string
		if err := rows.Scan(&source, &ref.RecordID, &fetched); err != nil {
			rows.Close()
			return trail, err
		}
		ref.Source = model.SourceName(source)
		ref.FetchedAt = parseTime(fetched)
		trail.Contributions = append(trail.Contributions, ref)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT field, winner, winner_value, loser, loser_value FROM conflicts WHERE run_id = ? AND identifier = ? ORDER BY rowid`,
		runID, identifier)
	if err != nil {
		return trail, err
	}
	for rows.Next() {
		c := model.MergeConflict{Identifier: identifier}
		var winner, loser string
		if err := rows.Scan(&c.Field, &winner, &c.WinnerValue, &loser, &c.LoserValue); err != nil {
			rows.Close()
			return trail, err
		}
		c.Winner, c.Loser = model.SourceName(winner), model.SourceName(loser)
		trail.Conflicts = append(trail.Conflicts, c)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT source, reason, detail FROM incomplete WHERE run_id = ? AND identifier = ? ORDER BY rowid`,
		runID, identifier)
	if err != nil {
		return trail, err
	}
	defer rows.Close()
	for rows.Next() {
		inc := model.IncompleteSource{Identifier: identifier}
		var source, reason string
		if err := rows.Scan(&source, &reason, &inc.Detail); err != nil {
			return trail, err
		}
		inc.Source, inc.Reason = model.SourceName(source), model.IncompleteReason(reason)
		trail.Incomplete = append(trail.Incomplete, inc)
	}
	return trail, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
