package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/lox/saddleweather/internal/logger"
	"github.com/lox/saddleweather/internal/metrics"
	"github.com/lox/saddleweather/internal/models"
)

var (
	ErrInvalidDate    = errors.New("invalid date, want YYYY-MM-DD")
	ErrInvalidFooting = errors.New("invalid footing, want good, soft or unsafe")
)

type Store struct {
	db  *sql.DB
	log *logger.Logger
	now func() time.Time
}

func New(db *sql.DB, log *logger.Logger) *Store {
	return &Store{db: db, log: log.With("component", "store"), now: time.Now}
}

// SetClock replaces the time source used for created/updated timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) Ping() error {
	return s.db.Ping()
}

func checkDate(date string) error {
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return nil
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return strings.Contains(err.Error(), "database is locked")
}

// retryBusy retries op while SQLite reports the database as busy.
func (s *Store) retryBusy(op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 3 * time.Second

	return backoff.RetryNotify(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		s.log.Debug("store: database busy, retrying", "wait", wait, "error", err)
	})
}

func (s *Store) GetSettings() (*models.WeatherSettings, error) {
	row := s.db.QueryRow(`
		SELECT latitude, longitude, location_name, rain_cutoff_inches, rain_window_hours,
			cold_alert_temp_f, heat_alert_temp_f, wind_cutoff_mph, has_indoor_arena,
			footing_caution_inches, footing_danger_inches, footing_dry_hours_per_inch,
			auto_tune_drying_rate, last_tuned_at, updated_at
		FROM weather_settings
		WHERE id = 1
	`)

	var ws models.WeatherSettings
	var lastTuned, updated sql.NullTime
	err := row.Scan(&ws.Latitude, &ws.Longitude, &ws.LocationName, &ws.RainCutoffInches, &ws.RainWindowHours,
		&ws.ColdAlertTempF, &ws.HeatAlertTempF, &ws.WindCutoffMph, &ws.HasIndoorArena,
		&ws.FootingCautionInches, &ws.FootingDangerInches, &ws.FootingDryHoursPerInch,
		&ws.AutoTuneDryingRate, &lastTuned, &updated)
	if err == sql.ErrNoRows {
		defaults := models.DefaultSettings()
		return &defaults, nil
	}
	if err != nil {
		return nil, err
	}
	if lastTuned.Valid {
		t := lastTuned.Time
		ws.LastTunedAt = &t
	}
	if updated.Valid {
		ws.UpdatedAt = updated.Time
	}
	return &ws, nil
}

// UpdateSettings writes every operator-editable field. The drying rate is clamped to
// its safe range rather than rejected; last_tuned_at is left to the tuner.
func (s *Store) UpdateSettings(ws models.WeatherSettings) (*models.WeatherSettings, error) {
	rate := models.ClampDryingRate(ws.FootingDryHoursPerInch)
	err := s.retryBusy(func() error {
		_, err := s.db.Exec(`
			UPDATE weather_settings SET
				latitude = ?,
				longitude = ?,
				location_name = ?,
				rain_cutoff_inches = ?,
				rain_window_hours = ?,
				cold_alert_temp_f = ?,
				heat_alert_temp_f = ?,
				wind_cutoff_mph = ?,
				has_indoor_arena = ?,
				footing_caution_inches = ?,
				footing_danger_inches = ?,
				footing_dry_hours_per_inch = ?,
				auto_tune_drying_rate = ?,
				updated_at = ?
			WHERE id = 1
		`, ws.Latitude, ws.Longitude, ws.LocationName, ws.RainCutoffInches, ws.RainWindowHours,
			ws.ColdAlertTempF, ws.HeatAlertTempF, ws.WindCutoffMph, ws.HasIndoorArena,
			ws.FootingCautionInches, ws.FootingDangerInches, rate,
			ws.AutoTuneDryingRate, s.now().UTC())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}
	return s.GetSettings()
}

// ApplyDryingRateAdjustment sets the new rate and last-tuned time and records the
// adjustment in one transaction.
func (s *Store) ApplyDryingRateAdjustment(adj models.DryingRateAdjustment) error {
	adj.NewRate = models.ClampDryingRate(adj.NewRate)
	at := adj.AdjustedAt.UTC()

	return s.retryBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`
			UPDATE weather_settings SET
				footing_dry_hours_per_inch = ?,
				last_tuned_at = ?,
				updated_at = ?
			WHERE id = 1
		`, adj.NewRate, at, at); err != nil {
			return err
		}

		if _, err := tx.Exec(`
			INSERT INTO drying_rate_adjustments (old_rate, new_rate, reason, samples, too_conservative, too_aggressive, adjusted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, adj.OldRate, adj.NewRate, adj.Reason, adj.Samples, adj.TooConservative, adj.TooAggressive, at); err != nil {
			return err
		}

		return tx.Commit()
	})
}

func (s *Store) GetDryingRateAdjustments(limit int) ([]models.DryingRateAdjustment, error) {
	rows, err := s.db.Query(`
		SELECT id, old_rate, new_rate, reason, samples, too_conservative, too_aggressive, adjusted_at
		FROM drying_rate_adjustments
		ORDER BY adjusted_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var adjustments []models.DryingRateAdjustment
	for rows.Next() {
		var a models.DryingRateAdjustment
		if err := rows.Scan(&a.ID, &a.OldRate, &a.NewRate, &a.Reason, &a.Samples, &a.TooConservative, &a.TooAggressive, &a.AdjustedAt); err != nil {
			return nil, err
		}
		adjustments = append(adjustments, a)
	}
	return adjustments, rows.Err()
}

func (s *Store) GetRideSlots() ([]models.RideSlot, error) {
	rows, err := s.db.Query(`SELECT id, day_of_week, start_time, end_time FROM ride_slots ORDER BY day_of_week, start_time, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []models.RideSlot
	for rows.Next() {
		var rs models.RideSlot
		var day int
		if err := rows.Scan(&rs.ID, &day, &rs.StartTime, &rs.EndTime); err != nil {
			return nil, err
		}
		rs.DayOfWeek = time.Weekday(day)
		slots = append(slots, rs)
	}
	return slots, rows.Err()
}

// ReplaceRideSlots swaps the whole weekly schedule for slots.
func (s *Store) ReplaceRideSlots(slots []models.RideSlot) ([]models.RideSlot, error) {
	for _, rs := range slots {
		if _, _, err := rs.Minutes(); err != nil {
			return nil, fmt.Errorf("ride slot %s %s-%s: %w", rs.DayOfWeek, rs.StartTime, rs.EndTime, err)
		}
	}

	err := s.retryBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM ride_slots`); err != nil {
			return err
		}
		for _, rs := range slots {
			if _, err := tx.Exec(`
				INSERT INTO ride_slots (day_of_week, start_time, end_time) VALUES (?, ?, ?)
			`, int(rs.DayOfWeek), rs.StartTime, rs.EndTime); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("replace ride slots: %w", err)
	}
	return s.GetRideSlots()
}

// UpsertSnapshot records the latest prediction for snap.Date, replacing any earlier one.
func (s *Store) UpsertSnapshot(snap models.Snapshot) error {
	if err := checkDate(snap.Date); err != nil {
		return err
	}
	reasons, err := json.Marshal(snap.Reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}
	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	return s.retryBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO weather_prediction_snapshots (date, run_id, score, reasons, moisture_inches, hours_to_dry,
				forecast_temp_f, forecast_rain_inches, forecast_precip_chance, forecast_cloud_pct, forecast_wind_mph,
				drying_rate, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(date) DO UPDATE SET
				run_id = excluded.run_id,
				score = excluded.score,
				reasons = excluded.reasons,
				moisture_inches = excluded.moisture_inches,
				hours_to_dry = excluded.hours_to_dry,
				forecast_temp_f = excluded.forecast_temp_f,
				forecast_rain_inches = excluded.forecast_rain_inches,
				forecast_precip_chance = excluded.forecast_precip_chance,
				forecast_cloud_pct = excluded.forecast_cloud_pct,
				forecast_wind_mph = excluded.forecast_wind_mph,
				drying_rate = excluded.drying_rate,
				created_at = excluded.created_at
		`, snap.Date, snap.RunID, string(snap.Score), string(reasons), snap.MoistureInches, snap.HoursToDry,
			snap.ForecastTempF, snap.ForecastRainInches, snap.ForecastPrecipChance, snap.ForecastCloudPct, snap.ForecastWindMph,
			snap.DryingRate, createdAt.UTC())
		return err
	})
}

func (s *Store) GetSnapshot(date string) (*models.Snapshot, error) {
	if err := checkDate(date); err != nil {
		return nil, err
	}
	row := s.db.QueryRow(`
		SELECT date, run_id, score, reasons, moisture_inches, hours_to_dry,
			forecast_temp_f, forecast_rain_inches, forecast_precip_chance, forecast_cloud_pct, forecast_wind_mph,
			drying_rate, created_at
		FROM weather_prediction_snapshots
		WHERE date = ?
	`, date)

	var snap models.Snapshot
	var score, reasons string
	var temp, rain, chance, cloud, wind sql.NullFloat64
	err := row.Scan(&snap.Date, &snap.RunID, &score, &reasons, &snap.MoistureInches, &snap.HoursToDry,
		&temp, &rain, &chance, &cloud, &wind, &snap.DryingRate, &snap.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap.Score = models.Score(score)
	if err := json.Unmarshal([]byte(reasons), &snap.Reasons); err != nil {
		return nil, fmt.Errorf("decode reasons for %s: %w", date, err)
	}
	snap.ForecastTempF = temp.Float64
	snap.ForecastRainInches = rain.Float64
	snap.ForecastPrecipChance = chance.Float64
	snap.ForecastCloudPct = cloud.Float64
	snap.ForecastWindMph = wind.Float64
	return &snap, nil
}

// PruneSnapshots removes snapshots for dates more than retentionDays before now.
// Returns the number of deleted rows.
func (s *Store) PruneSnapshots(retentionDays int, now time.Time) (int64, error) {
	cutoff := models.DateKey(now.AddDate(0, 0, -retentionDays))

	var deleted int64
	err := s.retryBusy(func() error {
		result, err := s.db.Exec(`DELETE FROM weather_prediction_snapshots WHERE date < ?`, cutoff)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	metrics.SnapshotsPruned.Add(float64(deleted))
	return deleted, nil
}

const feedbackColumns = `id, date, ride_session_id, actual_footing, predicted_score, predicted_moisture,
	predicted_hours_to_dry, predicted_drying_rate, created_at, updated_at`

// CreateFeedback records the rider's footing report for date, capturing whatever was
// predicted for that date at the time. A second report for the same date replaces the first.
func (s *Store) CreateFeedback(date string, rideSessionID *string, actual models.Footing) (*models.FootingFeedback, error) {
	if err := checkDate(date); err != nil {
		return nil, err
	}
	if !actual.Valid() {
		return nil, ErrInvalidFooting
	}
	now := s.now().UTC()

	err := s.retryBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO footing_feedback (date, ride_session_id, actual_footing, predicted_score, predicted_moisture,
				predicted_hours_to_dry, predicted_drying_rate, created_at, updated_at)
			SELECT ?, ?, ?, snap.score, snap.moisture_inches, snap.hours_to_dry, snap.drying_rate, ?, ?
			FROM (SELECT 1)
			LEFT JOIN weather_prediction_snapshots snap ON snap.date = ?
			WHERE true
			ON CONFLICT(date) DO UPDATE SET
				ride_session_id = COALESCE(excluded.ride_session_id, footing_feedback.ride_session_id),
				actual_footing = excluded.actual_footing,
				predicted_score = COALESCE(excluded.predicted_score, footing_feedback.predicted_score),
				predicted_moisture = COALESCE(excluded.predicted_moisture, footing_feedback.predicted_moisture),
				predicted_hours_to_dry = COALESCE(excluded.predicted_hours_to_dry, footing_feedback.predicted_hours_to_dry),
				predicted_drying_rate = COALESCE(excluded.predicted_drying_rate, footing_feedback.predicted_drying_rate),
				updated_at = excluded.updated_at
		`, date, rideSessionID, string(actual), now, now, date)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upsert feedback: %w", err)
	}
	return s.GetFeedback(date)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeedback(row rowScanner) (*models.FootingFeedback, error) {
	var fb models.FootingFeedback
	var session, score sql.NullString
	var moisture, rate sql.NullFloat64
	var hours sql.NullInt64
	var actual string
	if err := row.Scan(&fb.ID, &fb.Date, &session, &actual, &score, &moisture, &hours, &rate, &fb.CreatedAt, &fb.UpdatedAt); err != nil {
		return nil, err
	}
	fb.ActualFooting = models.Footing(actual)
	if session.Valid {
		fb.RideSessionID = &session.String
	}
	if score.Valid {
		p := models.Score(score.String)
		fb.PredictedScore = &p
	}
	if moisture.Valid {
		fb.PredictedMoisture = &moisture.Float64
	}
	if hours.Valid {
		h := int(hours.Int64)
		fb.PredictedHoursToDry = &h
	}
	if rate.Valid {
		fb.PredictedDryingRate = &rate.Float64
	}
	return &fb, nil
}

func (s *Store) GetFeedback(date string) (*models.FootingFeedback, error) {
	if err := checkDate(date); err != nil {
		return nil, err
	}
	fb, err := scanFeedback(s.db.QueryRow(`SELECT `+feedbackColumns+` FROM footing_feedback WHERE date = ?`, date))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return fb, err
}

// GetRecentFeedback returns up to limit reports, newest ride date first.
func (s *Store) GetRecentFeedback(limit int) ([]models.FootingFeedback, error) {
	rows, err := s.db.Query(`SELECT `+feedbackColumns+` FROM footing_feedback ORDER BY date DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var feedback []models.FootingFeedback
	for rows.Next() {
		fb, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		feedback = append(feedback, *fb)
	}
	return feedback, rows.Err()
}

// GetAccuracyStats grades every report that has a prediction attached.
func (s *Store) GetAccuracyStats() (*models.AccuracyStats, error) {
	rows, err := s.db.Query(`
		SELECT predicted_score, actual_footing
		FROM footing_feedback
		WHERE predicted_score IS NOT NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats models.AccuracyStats
	for rows.Next() {
		var predicted, actual string
		if err := rows.Scan(&predicted, &actual); err != nil {
			return nil, err
		}
		stats.Add(models.ClassifyFeedback(models.Score(predicted), models.Footing(actual)))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats.Finalize()
	return &stats, nil
}
