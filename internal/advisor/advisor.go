package advisor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lox/saddleweather/internal/forecast"
	"github.com/lox/saddleweather/internal/ingest"
	"github.com/lox/saddleweather/internal/logger"
	"github.com/lox/saddleweather/internal/metrics"
	"github.com/lox/saddleweather/internal/models"
	"github.com/lox/saddleweather/internal/store"
)

// Result is one scoring run as served to the rider.
type Result struct {
	RunID           string                   `json:"run_id"`
	LocationName    string                   `json:"location_name"`
	Days            []models.ScoredDay       `json:"days"`
	Alerts          []models.WeatherAlert    `json:"alerts"`
	Moisture        *models.MoistureEstimate `json:"moisture,omitempty"`
	DryingRate      float64                  `json:"drying_rate"`
	SourceAvailable bool                     `json:"source_available"`
	FetchedAt       time.Time                `json:"fetched_at"`
}

// Advisor runs the forecast source, the scorer and snapshot persistence together.
type Advisor struct {
	store  *store.Store
	source ingest.Source
	log    *logger.Logger
	now    func() time.Time
}

func New(st *store.Store, source ingest.Source, log *logger.Logger) *Advisor {
	return &Advisor{
		store:  st,
		source: source,
		log:    log.With("component", "advisor"),
		now:    time.Now,
	}
}

// SourceAvailable reports whether the forecast source is accepting requests.
func (a *Advisor) SourceAvailable() bool {
	return a.source.Available()
}

func (a *Advisor) fetch(ctx context.Context, settings *models.WeatherSettings) (*models.ForecastBundle, error) {
	return a.source.Fetch(ctx, ingest.Query{
		Latitude:  settings.Latitude,
		Longitude: settings.Longitude,
		PastHours: settings.RainWindowHours,
	})
}

// Run scores the forecast and records a snapshot for every scored date. loc overrides
// the provider's zone when non-nil.
func (a *Advisor) Run(ctx context.Context, loc *time.Location) (*Result, error) {
	settings, err := a.store.GetSettings()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	slots, err := a.store.GetRideSlots()
	if err != nil {
		return nil, fmt.Errorf("load ride slots: %w", err)
	}

	runID := uuid.NewString()
	run, err := a.store.StartScoringRun(runID, a.source.Name())
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	result, stored, err := a.score(ctx, runID, settings, slots, loc)
	if err != nil {
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
	} else {
		run.Success = true
		run.DaysScored = sql.NullInt64{Int64: int64(len(result.Days)), Valid: true}
		run.SnapshotsStored = sql.NullInt64{Int64: int64(stored), Valid: true}
	}
	if cerr := a.store.CompleteScoringRun(run); cerr != nil {
		a.log.Warn("advisor: failed to complete run record", "run_id", runID, "error", cerr)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (a *Advisor) score(ctx context.Context, runID string, settings *models.WeatherSettings, slots []models.RideSlot, loc *time.Location) (*Result, int, error) {
	bundle, err := a.fetch(ctx, settings)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch forecast: %w", err)
	}
	if loc == nil {
		loc = bundle.Location()
	}

	var moisture *models.MoistureEstimate
	if bundle.RecentRain != nil && len(bundle.Daily) > 0 {
		est := forecast.EstimateMoisture(bundle.RecentRain, bundle.Current, bundle.Daily[0], settings.FootingDryHoursPerInch)
		moisture = &est
	}

	days := forecast.ScoreDays(forecast.ScoreInput{
		Forecasts:  bundle.Daily,
		Settings:   *settings,
		RecentRain: bundle.RecentRain,
		Current:    bundle.Current,
		Hourly:     bundle.Hourly,
		RideSlots:  slots,
		Location:   loc,
	})
	alerts := forecast.GetAlerts(bundle.Current, *settings)
	if alerts == nil {
		alerts = []models.WeatherAlert{}
	}

	now := a.now()
	var stored int
	for _, day := range days {
		metrics.DaysScored.WithLabelValues(string(day.Score)).Inc()

		var est models.MoistureEstimate
		if moisture != nil {
			est = *moisture
		}
		snap := models.NewSnapshot(runID, day, est, settings.FootingDryHoursPerInch, now)
		if err := a.store.UpsertSnapshot(snap); err != nil {
			a.log.Warn("advisor: failed to store snapshot", "date", snap.Date, "error", err)
			continue
		}
		stored++
	}
	for _, alert := range alerts {
		metrics.AlertsRaised.WithLabelValues(string(alert.Type)).Inc()
	}
	metrics.DryingRate.Set(settings.FootingDryHoursPerInch)

	a.log.Debug("advisor: scored forecast", "run_id", runID, "days", len(days), "alerts", len(alerts), "snapshots", stored)

	return &Result{
		RunID:           runID,
		LocationName:    settings.LocationName,
		Days:            days,
		Alerts:          alerts,
		Moisture:        moisture,
		DryingRate:      settings.FootingDryHoursPerInch,
		SourceAvailable: a.source.Available(),
		FetchedAt:       bundle.FetchedAt,
	}, stored, nil
}

// Refresh runs a scoring pass for its snapshots alone.
func (a *Advisor) Refresh(ctx context.Context) error {
	_, err := a.Run(ctx, nil)
	return err
}

// Alerts derives current-condition alerts without scoring or storing anything.
func (a *Advisor) Alerts(ctx context.Context) ([]models.WeatherAlert, error) {
	settings, err := a.store.GetSettings()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	bundle, err := a.fetch(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("fetch forecast: %w", err)
	}
	alerts := forecast.GetAlerts(bundle.Current, *settings)
	if alerts == nil {
		alerts = []models.WeatherAlert{}
	}
	return alerts, nil
}
