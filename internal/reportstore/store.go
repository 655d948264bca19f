// Package reportstore archives recovery sweep summaries in SQLite so
// operators can see how project health trends over time.
package reportstore

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hanoibanhcuon/automaker/internal/recovery"
)

// Store provides SQLite-backed sweep run persistence.
type Store struct {
	db *sql.DB
}

// New opens the database at dbPath, creating the schema if needed.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Run is one archived sweep result.
type Run struct {
	ID          int64            `json:"id"`
	ProjectPath string           `json:"projectPath"`
	RanAt       time.Time        `json:"ranAt"`
	Summary     recovery.Summary `json:"summary"`
}

// RecordRun archives one sweep summary.
func (s *Store) RecordRun(projectPath string, ranAt time.Time, summary recovery.Summary) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO sweep_runs (project_path, ran_at, total_records, total_items, incomplete_plans, missing_files, missing_outputs, missing_dependencies)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		projectPath,
		ranAt.UTC(),
		summary.Total,
		summary.TotalItems,
		summary.IncompletePlans,
		summary.MissingFiles,
		summary.MissingOutputs,
		summary.MissingDependencies,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListRuns returns archived runs for a project, newest first. A limit of
// zero means no limit.
func (s *Store) ListRuns(projectPath string, limit int) ([]Run, error) {
	query := `
		SELECT id, project_path, ran_at, total_records, total_items, incomplete_plans, missing_files, missing_outputs, missing_dependencies
		FROM sweep_runs WHERE project_path = ?
		ORDER BY ran_at DESC, id DESC
	`
	var args []interface{}
	args = append(args, projectPath)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(
			&run.ID,
			&run.ProjectPath,
			&run.RanAt,
			&run.Summary.Total,
			&run.Summary.TotalItems,
			&run.Summary.IncompletePlans,
			&run.Summary.MissingFiles,
			&run.Summary.MissingOutputs,
			&run.Summary.MissingDependencies,
		); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recent archived run for a project, or nil
// when none exists.
func (s *Store) LatestRun(projectPath string) (*Run, error) {
	runs, err := s.ListRuns(projectPath, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// PruneBefore deletes runs older than cutoff and returns the count.
func (s *Store) PruneBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM sweep_runs WHERE ran_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
