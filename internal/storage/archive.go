// Package storage keeps the run archive: one row per pipeline run plus the
// items each run delivered. The JSON state file stays authoritative for
// dedup; the archive provides delivery ages for retention pruning and the
// run history shown by the CLI.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run is one recorded pipeline run.
type Run struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	WindowStart time.Time
	WindowEnd   time.Time
	Fetched     int
	Unseen      int
	Selected    int
	Delivered   int
	Status      string
	Error       string
}

// DeliveredItem is one identifier delivered by a run.
type DeliveredItem struct {
	Identifier  string
	RunID       string
	Title       string
	Source      string
	Score       int
	DeliveredAt time.Time
}

// Archive wraps the SQLite database holding run history.
type Archive struct {
	db *sql.DB
}

// Open opens (or creates) the archive database at path and runs pending
// migrations. Pass ":memory:" for an in-memory database (used by tests).
func Open(path string) (*Archive, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging archive: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return a, nil
}

// Close closes the underlying database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

// migrate applies embedded SQL migration files that haven't run yet.
func (a *Archive) migrate() error {
	if _, err := a.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := a.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := a.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// RecordRun stores a run and its delivered items in one transaction.
func (a *Archive) RecordRun(run Run, items []DeliveredItem) error {
	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO runs (id, started_at, finished_at, window_start, window_end, fetched, unseen, selected, delivered, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, fmtTime(run.StartedAt), fmtTime(run.FinishedAt),
		fmtTime(run.WindowStart), fmtTime(run.WindowEnd),
		run.Fetched, run.Unseen, run.Selected, run.Delivered, run.Status, run.Error,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("inserting run: %w", err)
	}

	for _, item := range items {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO delivered_items (identifier, run_id, title, source, score, delivered_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			item.Identifier, run.ID, item.Title, item.Source, item.Score, fmtTime(item.DeliveredAt),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting delivered item %s: %w", item.Identifier, err)
		}
	}

	return tx.Commit()
}

// DeliveredBefore returns the identifiers whose latest delivery happened
// before the cutoff. These are the aged-out entries the pipeline may prune
// from the seen set.
func (a *Archive) DeliveredBefore(cutoff time.Time) ([]string, error) {
	rows, err := a.db.Query(`
		SELECT identifier FROM delivered_items
		GROUP BY identifier
		HAVING MAX(delivered_at) < ?`, fmtTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("querying aged identifiers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecentRuns returns the most recent runs, newest first.
func (a *Archive) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.Query(`
		SELECT id, started_at, finished_at, window_start, window_end, fetched, unseen, selected, delivered, status, error
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished, wStart, wEnd string
		if err := rows.Scan(&r.ID, &started, &finished, &wStart, &wEnd,
			&r.Fetched, &r.Unseen, &r.Selected, &r.Delivered, &r.Status, &r.Error); err != nil {
			return nil, err
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		if r.WindowStart, err = parseTime(wStart); err != nil {
			return nil, err
		}
		if r.WindowEnd, err = parseTime(wEnd); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	return t, nil
}
