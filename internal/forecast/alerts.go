package forecast

import (
	"fmt"

	"github.com/lox/saddleweather/internal/models"
)

// GetAlerts derives right-now hazards from current conditions alone.
func GetAlerts(cur *models.CurrentWeather, s models.WeatherSettings) []models.WeatherAlert {
	if cur == nil {
		return nil
	}

	var alerts []models.WeatherAlert

	switch {
	case cur.TempF <= s.ColdAlertTempF:
		alerts = append(alerts, models.WeatherAlert{
			Type:     models.AlertCold,
			Message:  fmt.Sprintf("Freezing: %.0f°F now", cur.TempF),
			Severity: models.ScoreRed,
		})
	case cur.TempF <= s.ColdAlertTempF+10:
		alerts = append(alerts, models.WeatherAlert{
			Type:     models.AlertBlanket,
			Message:  fmt.Sprintf("Cold: %.0f°F now, consider a blanket", cur.TempF),
			Severity: models.ScoreYellow,
		})
	}

	if cur.TempF >= s.HeatAlertTempF {
		alerts = append(alerts, models.WeatherAlert{
			Type:     models.AlertHeat,
			Message:  fmt.Sprintf("Heat: %.0f°F now", cur.TempF),
			Severity: models.ScoreRed,
		})
	}

	if cur.WindSpeedMph >= s.WindCutoffMph {
		alerts = append(alerts, models.WeatherAlert{
			Type:     models.AlertWind,
			Message:  fmt.Sprintf("High wind: %.0f mph now", cur.WindSpeedMph),
			Severity: models.ScoreRed,
		})
	}

	if cur.PrecipInches > 0 {
		alerts = append(alerts, models.WeatherAlert{
			Type:     models.AlertRain,
			Message:  fmt.Sprintf("Raining now: %.2f\"", cur.PrecipInches),
			Severity: models.ScoreYellow,
		})
	}

	return alerts
}
