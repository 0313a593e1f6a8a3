package forecast

import (
	"testing"
	"time"

	"github.com/lox/saddleweather/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDay = time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC) // a Friday

func mildDay(date time.Time) models.DailyForecast {
	return models.DailyForecast{Date: date, DayF: 70, LowF: 50, CloudPct: 20, WindSpeedMph: 5}
}

func scoreOne(f models.DailyForecast, s models.WeatherSettings) models.ScoredDay {
	days := ScoreDays(ScoreInput{Forecasts: []models.DailyForecast{f}, Settings: s})
	return days[0]
}

func TestScoreDaysEmpty(t *testing.T) {
	assert.Nil(t, ScoreDays(ScoreInput{Settings: models.DefaultSettings()}))
}

func TestScoreDaysGoodConditions(t *testing.T) {
	day := scoreOne(mildDay(testDay), models.DefaultSettings())

	assert.Equal(t, models.ScoreGreen, day.Score)
	assert.Equal(t, []string{"Good riding conditions"}, day.Reasons)
	assert.NotNil(t, day.Notes)
	assert.Empty(t, day.Notes)
	assert.Nil(t, day.Footing)
}

func TestScoreDaysHeat(t *testing.T) {
	f := models.DailyForecast{Date: testDay, DayF: 105, LowF: 75, WindSpeedMph: 5}

	day := scoreOne(f, models.DefaultSettings())

	assert.Equal(t, models.ScoreRed, day.Score)
	assert.Equal(t, []string{"Heat: 105°F daytime"}, day.Reasons)
}

func TestScoreDaysDailyChecks(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.DailyForecast)
		score   models.Score
		reasons []string
	}{
		{
			name:    "rain over cutoff",
			mutate:  func(f *models.DailyForecast) { f.PrecipInches = 0.4 },
			score:   models.ScoreRed,
			reasons: []string{`Rain: 0.40" expected`},
		},
		{
			name:    "likely rain without amount",
			mutate:  func(f *models.DailyForecast) { f.PrecipChance = 70 },
			score:   models.ScoreYellow,
			reasons: []string{"Rain: 70% chance (timing unavailable)"},
		},
		{
			name:    "likely rain with small amount",
			mutate:  func(f *models.DailyForecast) { f.PrecipChance = 80; f.PrecipInches = 0.1 },
			score:   models.ScoreYellow,
			reasons: []string{`Rain: 80% chance (0.10") (timing unavailable)`},
		},
		{
			name:    "sixty percent is not enough",
			mutate:  func(f *models.DailyForecast) { f.PrecipChance = 60 },
			score:   models.ScoreGreen,
			reasons: []string{"Good riding conditions"},
		},
		{
			name:    "freezing",
			mutate:  func(f *models.DailyForecast) { f.DayF = 30 },
			score:   models.ScoreRed,
			reasons: []string{"Cold: 30°F daytime"},
		},
		{
			name:    "chilly",
			mutate:  func(f *models.DailyForecast) { f.DayF = 42 },
			score:   models.ScoreYellow,
			reasons: []string{"Chilly: 42°F daytime"},
		},
		{
			name:    "warm",
			mutate:  func(f *models.DailyForecast) { f.DayF = 85 },
			score:   models.ScoreYellow,
			reasons: []string{"Warm: 85°F daytime"},
		},
		{
			name:    "breezy",
			mutate:  func(f *models.DailyForecast) { f.WindSpeedMph = 15 },
			score:   models.ScoreYellow,
			reasons: []string{"Breezy: 15 mph"},
		},
		{
			name:    "most severe first",
			mutate:  func(f *models.DailyForecast) { f.DayF = 40; f.WindSpeedMph = 30 },
			score:   models.ScoreRed,
			reasons: []string{"Wind: 30 mph", "Chilly: 40°F daytime"},
		},
		{
			name:    "equal severity keeps check order",
			mutate:  func(f *models.DailyForecast) { f.DayF = 100; f.PrecipInches = 0.5; f.WindSpeedMph = 40 },
			score:   models.ScoreRed,
			reasons: []string{`Rain: 0.50" expected`, "Heat: 100°F daytime", "Wind: 40 mph"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mildDay(testDay)
			tt.mutate(&f)
			day := scoreOne(f, models.DefaultSettings())
			assert.Equal(t, tt.score, day.Score)
			assert.Equal(t, tt.reasons, day.Reasons)
		})
	}
}

func TestIndoorArenaOverride(t *testing.T) {
	arena := models.DefaultSettings()
	arena.HasIndoorArena = true

	tests := []struct {
		name     string
		mutate   func(*models.DailyForecast)
		settings models.WeatherSettings
		score    models.Score
		reasons  []string
	}{
		{
			name:     "rain is mitigated",
			mutate:   func(f *models.DailyForecast) { f.PrecipInches = 0.5 },
			settings: arena,
			score:    models.ScoreYellow,
			reasons:  []string{`Rain: 0.50" expected`, "Indoor arena available"},
		},
		{
			name:     "wind is mitigated",
			mutate:   func(f *models.DailyForecast) { f.WindSpeedMph = 35 },
			settings: arena,
			score:    models.ScoreYellow,
			reasons:  []string{"Wind: 35 mph", "Indoor arena available"},
		},
		{
			name:     "no arena, no downgrade",
			mutate:   func(f *models.DailyForecast) { f.PrecipInches = 0.5 },
			settings: models.DefaultSettings(),
			score:    models.ScoreRed,
			reasons:  []string{`Rain: 0.50" expected`},
		},
		{
			name:     "heat is never mitigated",
			mutate:   func(f *models.DailyForecast) { f.DayF = 105 },
			settings: arena,
			score:    models.ScoreRed,
			reasons:  []string{"Heat: 105°F daytime"},
		},
		{
			name:     "heat alongside rain blocks the override",
			mutate:   func(f *models.DailyForecast) { f.DayF = 105; f.PrecipInches = 0.5 },
			settings: arena,
			score:    models.ScoreRed,
			reasons:  []string{`Rain: 0.50" expected`, "Heat: 105°F daytime"},
		},
		{
			name:     "a chilly day blocks the override",
			mutate:   func(f *models.DailyForecast) { f.DayF = 40; f.PrecipInches = 0.5 },
			settings: arena,
			score:    models.ScoreRed,
			reasons:  []string{`Rain: 0.50" expected`, "Chilly: 40°F daytime"},
		},
		{
			name:     "yellow never becomes green",
			mutate:   func(f *models.DailyForecast) { f.PrecipChance = 75 },
			settings: arena,
			score:    models.ScoreYellow,
			reasons:  []string{"Rain: 75% chance (timing unavailable)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mildDay(testDay)
			tt.mutate(&f)
			day := scoreOne(f, tt.settings)
			assert.Equal(t, tt.score, day.Score)
			assert.Equal(t, tt.reasons, day.Reasons)
		})
	}
}

func soakedInput(s models.WeatherSettings) ScoreInput {
	today := models.DailyForecast{Date: testDay, DayF: 60, LowF: 50, CloudPct: 100}
	tomorrow := models.DailyForecast{Date: testDay.AddDate(0, 0, 1), DayF: 80, LowF: 55, WindSpeedMph: 10}
	return ScoreInput{
		Forecasts:  []models.DailyForecast{today, tomorrow},
		Settings:   s,
		RecentRain: []models.HourlyRain{{Time: testDay.Add(-time.Hour), RainInches: 1.0}},
		Current:    &models.CurrentWeather{},
	}
}

func TestFootingOverlay(t *testing.T) {
	days := ScoreDays(soakedInput(models.DefaultSettings()))
	require.Len(t, days, 2)

	today := days[0]
	assert.Equal(t, models.ScoreRed, today.Score)
	require.NotNil(t, today.Footing)
	assert.Equal(t, 0.9, today.Footing.MoistureInches)
	require.Len(t, today.Reasons, 1)
	assert.Contains(t, today.Reasons[0], `Footing unsafe: 0.90" moisture, ~`)
	assert.Contains(t, today.Reasons[0], "(from recent rain)")

	tomorrow := days[1]
	assert.Equal(t, models.ScoreRed, tomorrow.Score)
	require.NotNil(t, tomorrow.Footing)
	assert.Equal(t, 0.0, tomorrow.Footing.RainInches)
	assert.Contains(t, tomorrow.Reasons[0], "(accumulated moisture)")
}

func TestFootingOverlaySoft(t *testing.T) {
	s := models.DefaultSettings()
	s.FootingDangerInches = 2
	days := ScoreDays(soakedInput(s))

	assert.Equal(t, models.ScoreYellow, days[0].Score)
	assert.Contains(t, days[0].Reasons[0], "Footing soft: ")
}

func TestFootingOverlayComesFirst(t *testing.T) {
	s := models.DefaultSettings()
	s.HasIndoorArena = true
	in := soakedInput(s)
	in.Forecasts[0].PrecipInches = 0.5

	day := ScoreDays(in)[0]

	// The arena mitigates the rain, not the ground it leaves behind.
	assert.Equal(t, models.ScoreRed, day.Score)
	require.Len(t, day.Reasons, 3)
	assert.Contains(t, day.Reasons[0], "Footing unsafe")
	assert.Equal(t, `Rain: 0.50" expected`, day.Reasons[1])
	assert.Equal(t, "Indoor arena available", day.Reasons[2])
}

func TestFootingOverlaySkippedWithoutHistory(t *testing.T) {
	in := soakedInput(models.DefaultSettings())
	in.RecentRain = nil

	for _, day := range ScoreDays(in) {
		assert.Nil(t, day.Footing)
		assert.Equal(t, models.ScoreGreen, day.Score)
	}
}

func TestFootingOverlayForecastRain(t *testing.T) {
	in := ScoreInput{
		Forecasts: []models.DailyForecast{
			mildDay(testDay),
			{Date: testDay.AddDate(0, 0, 1), DayF: 60, LowF: 50, CloudPct: 100, PrecipInches: 0.2, PrecipChance: 50},
		},
		Settings:   models.DefaultSettings(),
		RecentRain: []models.HourlyRain{},
	}

	days := ScoreDays(in)

	assert.Equal(t, models.ScoreGreen, days[0].Score)
	require.NotNil(t, days[1].Footing)
	assert.Equal(t, 0.2, days[1].Footing.RainInches)
	assert.Equal(t, models.ScoreYellow, days[1].Score)
	assert.Contains(t, days[1].Reasons[0], "Footing soft")
	assert.Contains(t, days[1].Reasons[0], "(from forecast rain)")
}

func TestScoreDaysFuzzNeverDowngradesBelowChecks(t *testing.T) {
	s := models.DefaultSettings()
	for temp := 0.0; temp <= 120; temp += 15 {
		for wind := 0.0; wind <= 40; wind += 10 {
			for _, rain := range []float64{0, 0.1, 0.3} {
				f := models.DailyForecast{Date: testDay, DayF: temp, LowF: 50, WindSpeedMph: wind, PrecipInches: rain}
				day := scoreOne(f, s)
				require.True(t, day.Score.Valid())
				require.NotEmpty(t, day.Reasons)

				for _, r := range temperatureAndWind(f, s) {
					require.GreaterOrEqual(t, day.Score.Rank(), r.severity.Rank())
				}
			}
		}
	}
}
