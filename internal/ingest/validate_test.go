package ingest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lox/saddleweather/internal/models"
)

func TestSanitizeBundle(t *testing.T) {
	day := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		bundle    models.ForecastBundle
		wantFlags []string
		check     func(t *testing.T, b models.ForecastBundle)
	}{
		{
			name: "clean bundle - no flags",
			bundle: models.ForecastBundle{
				Current: &models.CurrentWeather{TempF: 60, CloudPct: 40},
				Daily:   []models.DailyForecast{{Date: day, DayF: 70, LowF: 50, CloudPct: 20, PrecipChance: 30}},
			},
			wantFlags: nil,
		},
		{
			name: "cloud over 100",
			bundle: models.ForecastBundle{
				Daily: []models.DailyForecast{{Date: day, CloudPct: 140}},
			},
			wantFlags: []string{FlagCloudOutOfRange},
			check: func(t *testing.T, b models.ForecastBundle) {
				assert.Equal(t, 100.0, b.Daily[0].CloudPct)
			},
		},
		{
			name: "negative rain everywhere flagged once",
			bundle: models.ForecastBundle{
				Daily:      []models.DailyForecast{{Date: day, PrecipInches: -0.1}},
				Hourly:     []models.HourlyForecast{{RainInches: -0.01}},
				RecentRain: []models.HourlyRain{{RainInches: -1}},
			},
			wantFlags: []string{FlagPrecipNegative},
			check: func(t *testing.T, b models.ForecastBundle) {
				assert.Equal(t, 0.0, b.Daily[0].PrecipInches)
				assert.Equal(t, 0.0, b.Hourly[0].RainInches)
				assert.Equal(t, 0.0, b.RecentRain[0].RainInches)
			},
		},
		{
			name: "chance and wind",
			bundle: models.ForecastBundle{
				Current: &models.CurrentWeather{WindSpeedMph: -3},
				Hourly:  []models.HourlyForecast{{PrecipChance: 120}},
			},
			wantFlags: []string{FlagWindNegative, FlagChanceOutOfRange},
		},
		{
			name: "NaN is zeroed",
			bundle: models.ForecastBundle{
				Daily: []models.DailyForecast{{Date: day, WindSpeedMph: math.NaN()}},
			},
			wantFlags: []string{FlagNonFiniteValue},
			check: func(t *testing.T, b models.ForecastBundle) {
				assert.Equal(t, 0.0, b.Daily[0].WindSpeedMph)
			},
		},
		{
			name: "implausible temperature is only flagged",
			bundle: models.ForecastBundle{
				Current: &models.CurrentWeather{TempF: 190},
			},
			wantFlags: []string{FlagTempUnlikely},
			check: func(t *testing.T, b models.ForecastBundle) {
				assert.Equal(t, 190.0, b.Current.TempF)
			},
		},
		{
			name: "sunset before sunrise",
			bundle: models.ForecastBundle{
				Daily: []models.DailyForecast{{Date: day, Sunrise: day.Add(20 * time.Hour), Sunset: day.Add(6 * time.Hour)}},
			},
			wantFlags: []string{FlagSunsetBeforeRise},
			check: func(t *testing.T, b models.ForecastBundle) {
				assert.True(t, b.Daily[0].Sunrise.IsZero())
				assert.True(t, b.Daily[0].Sunset.IsZero())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.bundle
			assert.Equal(t, tt.wantFlags, SanitizeBundle(&b))
			if tt.check != nil {
				tt.check(t, b)
			}
		})
	}
}
