package store

import (
	"database/sql"
	"fmt"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS weather_settings (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    latitude REAL NOT NULL DEFAULT 0,
    longitude REAL NOT NULL DEFAULT 0,
    location_name TEXT NOT NULL DEFAULT 'Farm',
    rain_cutoff_inches REAL NOT NULL DEFAULT 0.25,
    rain_window_hours INTEGER NOT NULL DEFAULT 24,
    cold_alert_temp_f REAL NOT NULL DEFAULT 32,
    heat_alert_temp_f REAL NOT NULL DEFAULT 95,
    wind_cutoff_mph REAL NOT NULL DEFAULT 25,
    has_indoor_arena BOOLEAN NOT NULL DEFAULT FALSE,
    footing_caution_inches REAL NOT NULL DEFAULT 0.10,
    footing_danger_inches REAL NOT NULL DEFAULT 0.25,
    footing_dry_hours_per_inch REAL NOT NULL DEFAULT 60,
    auto_tune_drying_rate BOOLEAN NOT NULL DEFAULT TRUE,
    last_tuned_at DATETIME,
    updated_at DATETIME
);

INSERT OR IGNORE INTO weather_settings (id) VALUES (1);

CREATE TABLE IF NOT EXISTS ride_slots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    day_of_week INTEGER NOT NULL CHECK (day_of_week BETWEEN 0 AND 6),
    start_time TEXT NOT NULL,
    end_time TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ride_slots_day ON ride_slots(day_of_week);

CREATE TABLE IF NOT EXISTS weather_prediction_snapshots (
    date TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    score TEXT NOT NULL,
    reasons TEXT NOT NULL,
    moisture_inches REAL NOT NULL DEFAULT 0,
    hours_to_dry INTEGER NOT NULL DEFAULT 0,
    forecast_temp_f REAL,
    forecast_rain_inches REAL,
    forecast_precip_chance REAL,
    forecast_cloud_pct REAL,
    forecast_wind_mph REAL,
    drying_rate REAL NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS footing_feedback (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    date TEXT NOT NULL UNIQUE,
    ride_session_id TEXT,
    actual_footing TEXT NOT NULL CHECK (actual_footing IN ('good', 'soft', 'unsafe')),
    predicted_score TEXT,
    predicted_moisture REAL,
    predicted_hours_to_dry INTEGER,
    predicted_drying_rate REAL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);
`,
	},
	{
		Version:     2,
		Description: "Drying rate tuning history",
		SQL: `
CREATE TABLE IF NOT EXISTS drying_rate_adjustments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    old_rate REAL NOT NULL,
    new_rate REAL NOT NULL,
    reason TEXT NOT NULL,
    samples INTEGER NOT NULL,
    too_conservative INTEGER NOT NULL,
    too_aggressive INTEGER NOT NULL,
    adjusted_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dra_adjusted_at ON drying_rate_adjustments(adjusted_at);
`,
	},
	{
		Version:     3,
		Description: "Scoring run audit",
		SQL: `
CREATE TABLE IF NOT EXISTS scoring_runs (
    id TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    source TEXT NOT NULL,
    days_scored INTEGER,
    snapshots_stored INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_scoring_runs_started ON scoring_runs(started_at);
`,
	},
	{
		Version:     4,
		Description: "Forecast payload archive",
		SQL: `
CREATE TABLE IF NOT EXISTS forecast_payloads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    fetched_at INTEGER NOT NULL,
    source TEXT NOT NULL,
    query_key TEXT NOT NULL,
    payload_compressed BLOB NOT NULL,
    payload_hash TEXT NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_forecast_payloads_fetched ON forecast_payloads(fetched_at);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		s.log.Info("migrations: applying", "version", m.Version, "description", m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
