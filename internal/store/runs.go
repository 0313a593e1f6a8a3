package store

import (
	"database/sql"
	"time"
)

// ScoringRun audits one advisor run: a forecast fetch, scoring and snapshot writes.
type ScoringRun struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      sql.NullTime
	Source          string // "open-meteo"
	DaysScored      sql.NullInt64
	SnapshotsStored sql.NullInt64
	Success         bool
	ErrorMessage    sql.NullString
}

// StartScoringRun creates a new run record and returns it.
func (s *Store) StartScoringRun(id, source string) (*ScoringRun, error) {
	run := &ScoringRun{
		ID:        id,
		StartedAt: s.now().UTC(),
		Source:    source,
	}

	err := s.retryBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO scoring_runs (id, started_at, source, success)
			VALUES (?, ?, ?, FALSE)
		`, run.ID, run.StartedAt, run.Source)
		return err
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteScoringRun updates the run with its results.
func (s *Store) CompleteScoringRun(run *ScoringRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: s.now().UTC(), Valid: true}

	return s.retryBusy(func() error {
		_, err := s.db.Exec(`
			UPDATE scoring_runs SET
				finished_at = ?,
				days_scored = ?,
				snapshots_stored = ?,
				success = ?,
				error_message = ?
			WHERE id = ?
		`, run.FinishedAt, run.DaysScored, run.SnapshotsStored, run.Success, run.ErrorMessage, run.ID)
		return err
	})
}

const runColumns = `id, started_at, finished_at, source, days_scored, snapshots_stored, success, error_message`

func scanRuns(rows *sql.Rows) ([]ScoringRun, error) {
	defer rows.Close()

	var results []ScoringRun
	for rows.Next() {
		var r ScoringRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Source, &r.DaysScored,
			&r.SnapshotsStored, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetRecentScoringRuns returns the latest runs, newest first.
func (s *Store) GetRecentScoringRuns(limit int) ([]ScoringRun, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM scoring_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanRuns(rows)
}

// GetRecentScoringErrors returns recent failed runs.
func (s *Store) GetRecentScoringErrors(limit int) ([]ScoringRun, error) {
	rows, err := s.db.Query(`
		SELECT `+runColumns+`
		FROM scoring_runs
		WHERE success = FALSE AND finished_at IS NOT NULL
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	return scanRuns(rows)
}

// GetLastSuccessfulRun returns nil when no run has succeeded yet.
func (s *Store) GetLastSuccessfulRun() (*ScoringRun, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM scoring_runs WHERE success = TRUE ORDER BY started_at DESC LIMIT 1`)
	if err != nil {
		return nil, err
	}
	runs, err := scanRuns(rows)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}
