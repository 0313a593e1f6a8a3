package models

import (
	"fmt"
	"math"
	"time"
)

// DateLayout is the calendar-date key used for snapshots and feedback.
const DateLayout = "2006-01-02"

// DateKey formats t as a calendar date in its own location.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// Drying-rate safe range, in hours per inch of retained moisture.
const (
	MinDryingRate     = 20.0
	MaxDryingRate     = 120.0
	DefaultDryingRate = 60.0
)

// ClampDryingRate keeps a drying rate inside [MinDryingRate, MaxDryingRate].
func ClampDryingRate(rate float64) float64 {
	if math.IsNaN(rate) {
		return DefaultDryingRate
	}
	return math.Max(MinDryingRate, math.Min(MaxDryingRate, rate))
}

type WeatherSettings struct {
	Latitude               float64    `json:"latitude"`
	Longitude              float64    `json:"longitude"`
	LocationName           string     `json:"location_name"`
	RainCutoffInches       float64    `json:"rain_cutoff_inches"`
	RainWindowHours        int        `json:"rain_window_hours"`
	ColdAlertTempF         float64    `json:"cold_alert_temp_f"`
	HeatAlertTempF         float64    `json:"heat_alert_temp_f"`
	WindCutoffMph          float64    `json:"wind_cutoff_mph"`
	HasIndoorArena         bool       `json:"has_indoor_arena"`
	FootingCautionInches   float64    `json:"footing_caution_inches"`
	FootingDangerInches    float64    `json:"footing_danger_inches"`
	FootingDryHoursPerInch float64    `json:"footing_dry_hours_per_inch"`
	AutoTuneDryingRate     bool       `json:"auto_tune_drying_rate"`
	LastTunedAt            *time.Time `json:"last_tuned_at,omitempty"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// DefaultSettings is the row seeded on first migration.
func DefaultSettings() WeatherSettings {
	return WeatherSettings{
		LocationName:           "Farm",
		RainCutoffInches:       0.25,
		RainWindowHours:        24,
		ColdAlertTempF:         32,
		HeatAlertTempF:         95,
		WindCutoffMph:          25,
		FootingCautionInches:   0.10,
		FootingDangerInches:    0.25,
		FootingDryHoursPerInch: DefaultDryingRate,
		AutoTuneDryingRate:     true,
	}
}

type DailyForecast struct {
	Date         time.Time `json:"date"`
	DayF         float64   `json:"day_f"`
	LowF         float64   `json:"low_f"`
	CloudPct     float64   `json:"cloud_pct"`
	WindSpeedMph float64   `json:"wind_speed_mph"`
	PrecipChance float64   `json:"precipitation_chance"`
	PrecipInches float64   `json:"precipitation_inches"`
	Sunrise      time.Time `json:"sunrise"`
	Sunset       time.Time `json:"sunset"`
}

type HourlyForecast struct {
	Time         time.Time `json:"time"`
	TempF        float64   `json:"temp_f"`
	RainInches   float64   `json:"rain_inches"`
	PrecipChance float64   `json:"precipitation_chance"`
}

type HourlyRain struct {
	Time       time.Time `json:"time"`
	RainInches float64   `json:"rain_inches"`
}

type CurrentWeather struct {
	ObservedAt   time.Time `json:"observed_at"`
	TempF        float64   `json:"temp_f"`
	WindSpeedMph float64   `json:"wind_speed_mph"`
	CloudPct     float64   `json:"cloud_pct"`
	PrecipInches float64   `json:"precipitation_inches"`
}

// ForecastBundle is everything one scoring run needs from the forecast source.
type ForecastBundle struct {
	Latitude         float64          `json:"latitude"`
	Longitude        float64          `json:"longitude"`
	UTCOffsetSeconds int              `json:"utc_offset_seconds"`
	Current          *CurrentWeather  `json:"current,omitempty"`
	Daily            []DailyForecast  `json:"daily"`
	Hourly           []HourlyForecast `json:"hourly,omitempty"`
	RecentRain       []HourlyRain     `json:"recent_rain,omitempty"`
	FetchedAt        time.Time        `json:"fetched_at"`
}

// Location returns the fixed zone the provider reported for the bundle.
func (b *ForecastBundle) Location() *time.Location {
	return time.FixedZone("", b.UTCOffsetSeconds)
}

// RideSlot is a recurring weekly window; StartTime and EndTime are "15:04" local clock times.
type RideSlot struct {
	ID        int64        `json:"id"`
	DayOfWeek time.Weekday `json:"day_of_week"`
	StartTime string       `json:"start_time"`
	EndTime   string       `json:"end_time"`
}

// Minutes returns the slot bounds as minutes after local midnight.
func (r RideSlot) Minutes() (start, end int, err error) {
	start, err = parseClock(r.StartTime)
	if err != nil {
		return 0, 0, fmt.Errorf("start time: %w", err)
	}
	end, err = parseClock(r.EndTime)
	if err != nil {
		return 0, 0, fmt.Errorf("end time: %w", err)
	}
	if end <= start {
		return 0, 0, fmt.Errorf("end %s not after start %s", r.EndTime, r.StartTime)
	}
	return start, end, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

type MoistureEstimate struct {
	MoistureInches float64 `json:"moisture_inches"`
	HoursToDry     int     `json:"hours_to_dry"`
	EvapRate       float64 `json:"evap_rate"`
}

type FootingProjection struct {
	MoistureInches float64 `json:"moisture_inches"`
	HoursToDry     int     `json:"hours_to_dry"`
	RainInches     float64 `json:"rain_inches"`
}

type ScoredDay struct {
	Date     time.Time          `json:"date"`
	Score    Score              `json:"score"`
	Reasons  []string           `json:"reasons"`
	Notes    []string           `json:"notes"`
	Forecast DailyForecast      `json:"forecast"`
	Footing  *FootingProjection `json:"footing,omitempty"`
}

// Snapshot is what was predicted for a date, kept so rider feedback can be graded later.
type Snapshot struct {
	Date                 string    `json:"date"`
	RunID                string    `json:"run_id"`
	Score                Score     `json:"score"`
	Reasons              []string  `json:"reasons"`
	MoistureInches       float64   `json:"moisture_inches"`
	HoursToDry           int       `json:"hours_to_dry"`
	ForecastTempF        float64   `json:"forecast_temp_f"`
	ForecastRainInches   float64   `json:"forecast_rain_inches"`
	ForecastPrecipChance float64   `json:"forecast_precipitation_chance"`
	ForecastCloudPct     float64   `json:"forecast_cloud_pct"`
	ForecastWindMph      float64   `json:"forecast_wind_mph"`
	DryingRate           float64   `json:"drying_rate"`
	CreatedAt            time.Time `json:"created_at"`
}

// NewSnapshot captures a scored day. The day's own footing projection is preferred
// over the current-moisture estimate when one was made.
func NewSnapshot(runID string, day ScoredDay, moisture MoistureEstimate, dryingRate float64, at time.Time) Snapshot {
	snap := Snapshot{
		Date:                 DateKey(day.Date),
		RunID:                runID,
		Score:                day.Score,
		Reasons:              day.Reasons,
		MoistureInches:       moisture.MoistureInches,
		HoursToDry:           moisture.HoursToDry,
		ForecastTempF:        day.Forecast.DayF,
		ForecastRainInches:   day.Forecast.PrecipInches,
		ForecastPrecipChance: day.Forecast.PrecipChance,
		ForecastCloudPct:     day.Forecast.CloudPct,
		ForecastWindMph:      day.Forecast.WindSpeedMph,
		DryingRate:           dryingRate,
		CreatedAt:            at,
	}
	if day.Footing != nil {
		snap.MoistureInches = day.Footing.MoistureInches
		snap.HoursToDry = day.Footing.HoursToDry
	}
	return snap
}

type FootingFeedback struct {
	ID                  int64     `json:"id"`
	Date                string    `json:"date"`
	RideSessionID       *string   `json:"ride_session_id,omitempty"`
	ActualFooting       Footing   `json:"actual_footing"`
	PredictedScore      *Score    `json:"predicted_score,omitempty"`
	PredictedMoisture   *float64  `json:"predicted_moisture,omitempty"`
	PredictedHoursToDry *int      `json:"predicted_hours_to_dry,omitempty"`
	PredictedDryingRate *float64  `json:"predicted_drying_rate,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// MinAccuracySamples is the sample count below which accuracy is not reported.
const MinAccuracySamples = 5

type AccuracyStats struct {
	Total           int      `json:"total"`
	Correct         int      `json:"correct"`
	TooConservative int      `json:"too_conservative"`
	TooAggressive   int      `json:"too_aggressive"`
	AccuracyPct     *float64 `json:"accuracy_pct"`
}

// Add counts one classified sample.
func (a *AccuracyStats) Add(c FeedbackClass) {
	a.Total++
	switch c {
	case ClassCorrect:
		a.Correct++
	case ClassTooConservative:
		a.TooConservative++
	case ClassTooAggressive:
		a.TooAggressive++
	}
}

// Finalize fills AccuracyPct once enough samples exist.
func (a *AccuracyStats) Finalize() {
	a.AccuracyPct = nil
	if a.Total < MinAccuracySamples {
		return
	}
	pct := math.Round(float64(a.Correct)/float64(a.Total)*1000) / 10
	a.AccuracyPct = &pct
}

type AlertType string

const (
	AlertCold    AlertType = "cold"
	AlertBlanket AlertType = "blanket"
	AlertHeat    AlertType = "heat"
	AlertWind    AlertType = "wind"
	AlertRain    AlertType = "rain"
)

type WeatherAlert struct {
	Type     AlertType `json:"type"`
	Message  string    `json:"message"`
	Severity Score     `json:"severity"`
}

type DryingRateAdjustment struct {
	ID              int64     `json:"id"`
	OldRate         float64   `json:"old_rate"`
	NewRate         float64   `json:"new_rate"`
	Reason          string    `json:"reason"`
	Samples         int       `json:"samples"`
	TooConservative int       `json:"too_conservative"`
	TooAggressive   int       `json:"too_aggressive"`
	AdjustedAt      time.Time `json:"adjusted_at"`
}
