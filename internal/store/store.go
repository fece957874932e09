// Package store handles SQLite persistence of archived report runs.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/verte-zerg/metacog/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Store wraps SQLite access for the run archive.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY,
			started_at TEXT NOT NULL,
			input_path TEXT NOT NULL,
			studies INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS run_models (
			run_id INTEGER NOT NULL,
			domain TEXT NOT NULL,
			kind TEXT NOT NULL,
			estimate REAL NOT NULL,
			se REAL NOT NULL,
			ci_lower REAL NOT NULL,
			ci_upper REAL NOT NULL,
			tau2 REAL NOT NULL,
			k INTEGER NOT NULL,
			imputed INTEGER NOT NULL,
			PRIMARY KEY (run_id, domain, kind)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertRun archives one report run and its per-domain model summaries.
func (s *Store) InsertRun(ctx context.Context, run model.RunSummary, models []model.RunModel) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (started_at, input_path, studies) VALUES (?, ?, ?)`,
		run.StartedAt.Format(time.RFC3339Nano),
		run.InputPath,
		run.Studies,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if len(models) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO run_models (run_id, domain, kind, estimate, se, ci_lower, ci_upper, tau2, k, imputed)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return 0, err
		}
		defer func() {
			if cerr := stmt.Close(); cerr != nil {
				// Best-effort statement close.
				_ = cerr
			}
		}()
		for _, m := range models {
			if _, err := stmt.ExecContext(ctx, id, m.Domain, string(m.Kind), m.Estimate, m.SE, m.CILower, m.CIUpper, m.Tau2, m.K, m.Imputed); err != nil {
				return 0, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// ListRuns returns archived runs, most recent first, limited when limit > 0.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	query := `SELECT id, started_at, input_path, studies FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var runs []model.RunSummary
	for rows.Next() {
		var run model.RunSummary
		var startedAt string
		if err := rows.Scan(&run.RunID, &startedAt, &run.InputPath, &run.Studies); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, err
		}
		run.StartedAt = parsed
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// ListRunModels returns the archived model summaries for one run.
func (s *Store) ListRunModels(ctx context.Context, runID int64) ([]model.RunModel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, domain, kind, estimate, se, ci_lower, ci_upper, tau2, k, imputed
		 FROM run_models WHERE run_id = ? ORDER BY domain, kind`, runID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var models []model.RunModel
	for rows.Next() {
		var m model.RunModel
		var kind string
		if err := rows.Scan(&m.RunID, &m.Domain, &kind, &m.Estimate, &m.SE, &m.CILower, &m.CIUpper, &m.Tau2, &m.K, &m.Imputed); err != nil {
			return nil, err
		}
		m.Kind = model.ModelKind(kind)
		models = append(models, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return models, nil
}
