package forecast

import (
	"fmt"
	"sort"
	"time"

	"github.com/lox/saddleweather/internal/models"
)

// hourlyDays is how many leading days get the hour-aware rain check.
const hourlyDays = 2

const popYellowThreshold = 60.0

const (
	reasonGoodConditions = "Good riding conditions"
	reasonIndoorArena    = "Indoor arena available"
)

// ScoreInput is one scoring run's worth of already-fetched data.
// A nil RecentRain means no moisture data, which skips the footing overlay.
// Location is used to localise hourly timestamps; nil means UTC.
type ScoreInput struct {
	Forecasts  []models.DailyForecast
	Settings   models.WeatherSettings
	RecentRain []models.HourlyRain
	Current    *models.CurrentWeather
	Hourly     []models.HourlyForecast
	RideSlots  []models.RideSlot
	Location   *time.Location
}

// category orders reasons of equal severity: footing first, then hour-level
// rain, then the daily checks in evaluation order.
type category int

const (
	catFooting category = iota
	catDaytimeRain
	catSlotRain
	catRain
	catCold
	catHeat
	catWind
	catArena
)

type reason struct {
	cat      category
	severity models.Score
	text     string
}

func (r reason) rainOrWind() bool {
	switch r.cat {
	case catDaytimeRain, catSlotRain, catRain, catWind:
		return true
	}
	return false
}

// ScoreDays scores every forecast day. It never fails: missing hourly data falls back
// to the daily rain check and missing moisture data skips the footing overlay.
func ScoreDays(in ScoreInput) []models.ScoredDay {
	if len(in.Forecasts) == 0 {
		return nil
	}
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}

	var moisture *models.MoistureEstimate
	var recentTotal float64
	if in.RecentRain != nil {
		est := EstimateMoisture(in.RecentRain, in.Current, in.Forecasts[0], in.Settings.FootingDryHoursPerInch)
		moisture = &est
		for _, h := range in.RecentRain {
			recentTotal += h.RainInches
		}
	}

	days := make([]models.ScoredDay, 0, len(in.Forecasts))
	for i := range in.Forecasts {
		days = append(days, scoreDay(i, in, loc, moisture, recentTotal))
	}
	return days
}

func scoreDay(i int, in ScoreInput, loc *time.Location, moisture *models.MoistureEstimate, recentTotal float64) models.ScoredDay {
	f := in.Forecasts[i]
	s := in.Settings

	var reasons []reason
	var notes []string

	hours := hoursOnDate(in.Hourly, f.Date, loc)
	if i < hourlyDays && len(hours) > 0 {
		r, n := daytimeRain(hours, f, s, loc)
		reasons = append(reasons, r...)
		notes = append(notes, n...)
		reasons = append(reasons, slotRain(hours, f.Date, in.RideSlots, s, loc)...)
	} else if r, ok := dailyRain(f, s); ok {
		reasons = append(reasons, r)
	}
	reasons = append(reasons, temperatureAndWind(f, s)...)

	score := models.ScoreGreen
	for _, r := range reasons {
		score = models.Escalate(score, r.severity)
	}

	if score == models.ScoreRed && s.HasIndoorArena && onlyRainOrWind(reasons) {
		score = models.ScoreYellow
		reasons = append(reasons, reason{cat: catArena, text: reasonIndoorArena})
	}

	var footing *models.FootingProjection
	if moisture != nil {
		proj := EstimateFutureMoisture(moisture.MoistureInches, in.Forecasts, i, s)
		footing = &proj
		if r, ok := footingReason(i, proj, recentTotal, s); ok {
			reasons = append(reasons, r)
			score = models.Escalate(score, r.severity)
		}
	}

	if note, ok := blanketNote(f, in.Hourly, s, loc); ok {
		notes = append(notes, note)
	}

	texts := orderReasons(reasons)
	if len(texts) == 0 {
		texts = []string{reasonGoodConditions}
	}
	if notes == nil {
		notes = []string{}
	}

	return models.ScoredDay{
		Date:     f.Date,
		Score:    score,
		Reasons:  texts,
		Notes:    notes,
		Forecast: f,
		Footing:  footing,
	}
}

// orderReasons puts the most severe reasons first; ties keep category order and
// then insertion order.
func orderReasons(reasons []reason) []string {
	sorted := make([]reason, len(reasons))
	copy(sorted, reasons)
	sort.SliceStable(sorted, func(a, b int) bool {
		ra, rb := sorted[a].severity.Rank(), sorted[b].severity.Rank()
		if ra != rb {
			return ra > rb
		}
		return sorted[a].cat < sorted[b].cat
	})
	texts := make([]string, 0, len(sorted))
	for _, r := range sorted {
		texts = append(texts, r.text)
	}
	return texts
}

func onlyRainOrWind(reasons []reason) bool {
	if len(reasons) == 0 {
		return false
	}
	for _, r := range reasons {
		if !r.rainOrWind() {
			return false
		}
	}
	return true
}

// dailyRain is the coarse rain check used when no hour-level data covers the day.
func dailyRain(f models.DailyForecast, s models.WeatherSettings) (reason, bool) {
	if f.PrecipInches >= s.RainCutoffInches {
		return reason{
			cat:      catRain,
			severity: models.ScoreRed,
			text:     fmt.Sprintf("Rain: %.2f\" expected", f.PrecipInches),
		}, true
	}
	if f.PrecipChance > popYellowThreshold {
		text := fmt.Sprintf("Rain: %.0f%% chance", f.PrecipChance)
		if f.PrecipInches > 0 {
			text += fmt.Sprintf(" (%.2f\")", f.PrecipInches)
		}
		text += " (timing unavailable)"
		return reason{cat: catRain, severity: models.ScoreYellow, text: text}, true
	}
	return reason{}, false
}

func temperatureAndWind(f models.DailyForecast, s models.WeatherSettings) []reason {
	var out []reason

	switch {
	case f.DayF <= s.ColdAlertTempF:
		out = append(out, reason{cat: catCold, severity: models.ScoreRed, text: fmt.Sprintf("Cold: %.0f°F daytime", f.DayF)})
	case f.DayF <= s.ColdAlertTempF+10:
		out = append(out, reason{cat: catCold, severity: models.ScoreYellow, text: fmt.Sprintf("Chilly: %.0f°F daytime", f.DayF)})
	}

	switch {
	case f.DayF >= s.HeatAlertTempF:
		out = append(out, reason{cat: catHeat, severity: models.ScoreRed, text: fmt.Sprintf("Heat: %.0f°F daytime", f.DayF)})
	case f.DayF >= s.HeatAlertTempF-10:
		out = append(out, reason{cat: catHeat, severity: models.ScoreYellow, text: fmt.Sprintf("Warm: %.0f°F daytime", f.DayF)})
	}

	switch {
	case f.WindSpeedMph >= s.WindCutoffMph:
		out = append(out, reason{cat: catWind, severity: models.ScoreRed, text: fmt.Sprintf("Wind: %.0f mph", f.WindSpeedMph)})
	case f.WindSpeedMph >= s.WindCutoffMph-10:
		out = append(out, reason{cat: catWind, severity: models.ScoreYellow, text: fmt.Sprintf("Breezy: %.0f mph", f.WindSpeedMph)})
	}

	return out
}

func footingReason(day int, proj models.FootingProjection, recentTotal float64, s models.WeatherSettings) (reason, bool) {
	if proj.MoistureInches <= 0 {
		return reason{}, false
	}

	var severity models.Score
	var label string
	switch {
	case proj.MoistureInches >= s.FootingDangerInches:
		severity, label = models.ScoreRed, "Footing unsafe"
	case proj.MoistureInches >= s.FootingCautionInches:
		severity, label = models.ScoreYellow, "Footing soft"
	default:
		return reason{}, false
	}

	var source string
	switch {
	case day > 0 && proj.RainInches > 0:
		source = "from forecast rain"
	case day == 0 && recentTotal > 0:
		source = "from recent rain"
	default:
		source = "accumulated moisture"
	}

	return reason{
		cat:      catFooting,
		severity: severity,
		text:     fmt.Sprintf("%s: %.2f\" moisture, %s (%s)", label, proj.MoistureInches, dryingText(proj.HoursToDry), source),
	}, true
}

func dryingText(hours int) string {
	if hours >= NeverDryHours {
		return "not drying in forecast conditions"
	}
	return fmt.Sprintf("~%dh to dry", hours)
}
