package forecast

import (
	"testing"

	"github.com/lox/saddleweather/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestGetAlerts(t *testing.T) {
	s := models.DefaultSettings()

	tests := []struct {
		name string
		cur  *models.CurrentWeather
		want []models.WeatherAlert
	}{
		{
			name: "no current conditions",
			cur:  nil,
			want: nil,
		},
		{
			name: "pleasant",
			cur:  &models.CurrentWeather{TempF: 68, WindSpeedMph: 6},
			want: nil,
		},
		{
			name: "freezing",
			cur:  &models.CurrentWeather{TempF: 28},
			want: []models.WeatherAlert{{Type: models.AlertCold, Message: "Freezing: 28°F now", Severity: models.ScoreRed}},
		},
		{
			name: "blanket weather",
			cur:  &models.CurrentWeather{TempF: 40},
			want: []models.WeatherAlert{{Type: models.AlertBlanket, Message: "Cold: 40°F now, consider a blanket", Severity: models.ScoreYellow}},
		},
		{
			name: "heat",
			cur:  &models.CurrentWeather{TempF: 97},
			want: []models.WeatherAlert{{Type: models.AlertHeat, Message: "Heat: 97°F now", Severity: models.ScoreRed}},
		},
		{
			name: "cold windy rain all at once",
			cur:  &models.CurrentWeather{TempF: 31, WindSpeedMph: 30, PrecipInches: 0.04},
			want: []models.WeatherAlert{
				{Type: models.AlertCold, Message: "Freezing: 31°F now", Severity: models.ScoreRed},
				{Type: models.AlertWind, Message: "High wind: 30 mph now", Severity: models.ScoreRed},
				{Type: models.AlertRain, Message: `Raining now: 0.04"`, Severity: models.ScoreYellow},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, GetAlerts(tt.cur, s))
		})
	}
}
