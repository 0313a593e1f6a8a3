package forecast

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lox/saddleweather/internal/models"
)

const (
	rainAllDayFraction = 0.8
	maxNamedBlocks     = 2

	// Used when the forecast carries no sunrise/sunset.
	defaultSunriseHour = 6
	defaultSunsetHour  = 20

	blanketWindowStartHour = 20
	blanketWindowEndHour   = 9
)

// civilDate returns midnight of date's calendar day in loc.
func civilDate(date time.Time, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// hoursOnDate keeps the hourly records whose local calendar date is date's.
func hoursOnDate(hourly []models.HourlyForecast, date time.Time, loc *time.Location) []models.HourlyForecast {
	y, m, d := date.Date()
	var out []models.HourlyForecast
	for _, h := range hourly {
		hy, hm, hd := h.Time.In(loc).Date()
		if hy == y && hm == m && hd == d {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func daylight(f models.DailyForecast, loc *time.Location) (time.Time, time.Time) {
	day := civilDate(f.Date, loc)
	rise, set := f.Sunrise, f.Sunset
	if rise.IsZero() {
		rise = day.Add(defaultSunriseHour * time.Hour)
	}
	if set.IsZero() || !set.After(rise) {
		set = day.Add(defaultSunsetHour * time.Hour)
	}
	return rise, set
}

// daytimeRain replaces the daily rain check for near-term days. Only hours that
// overlap sunrise–sunset count toward the score; overnight-only rain becomes a note.
func daytimeRain(hours []models.HourlyForecast, f models.DailyForecast, s models.WeatherSettings, loc *time.Location) ([]reason, []string) {
	rise, set := daylight(f, loc)

	var dayHours int
	var dayRainy, nightRainy []int
	var total, maxPOP float64
	for _, h := range hours {
		start := h.Time.In(loc)
		inDay := start.Add(time.Hour).After(rise) && start.Before(set)
		rainy := h.RainInches > 0
		if !inDay {
			if rainy {
				nightRainy = append(nightRainy, start.Hour())
			}
			continue
		}
		dayHours++
		total += h.RainInches
		maxPOP = math.Max(maxPOP, h.PrecipChance)
		if rainy {
			dayRainy = append(dayRainy, start.Hour())
		}
	}

	var notes []string
	if len(dayRainy) == 0 {
		if len(nightRainy) > 0 {
			notes = append(notes, "Rain overnight "+formatBlocks(rainBlocks(nightRainy)))
		}
		if maxPOP > popYellowThreshold {
			return []reason{{
				cat:      catDaytimeRain,
				severity: models.ScoreYellow,
				text:     fmt.Sprintf("%.0f%% chance of rain during daylight", maxPOP),
			}}, notes
		}
		return nil, notes
	}

	summary := summarizeRain(dayRainy, dayHours)
	switch {
	case total >= s.RainCutoffInches:
		return []reason{{
			cat:      catDaytimeRain,
			severity: models.ScoreRed,
			text:     fmt.Sprintf("%s (%.2f\")", summary, total),
		}}, notes
	case maxPOP > popYellowThreshold:
		return []reason{{
			cat:      catDaytimeRain,
			severity: models.ScoreYellow,
			text:     fmt.Sprintf("%s (%.0f%% chance)", summary, maxPOP),
		}}, notes
	}
	notes = append(notes, fmt.Sprintf("Light rain: %s (%.2f\")", strings.TrimPrefix(summary, "Rain "), total))
	return nil, notes
}

func summarizeRain(rainyHours []int, daytimeHours int) string {
	if daytimeHours > 0 && float64(len(rainyHours)) >= rainAllDayFraction*float64(daytimeHours) {
		return "Rain all day"
	}
	blocks := rainBlocks(rainyHours)
	if len(blocks) <= maxNamedBlocks {
		return "Rain " + formatBlocks(blocks)
	}
	return "Scattered showers throughout the day"
}

// block is a run of consecutive rainy hours; end is exclusive.
type block struct {
	start, end int
}

func rainBlocks(hours []int) []block {
	var blocks []block
	for _, h := range hours {
		if n := len(blocks); n > 0 && blocks[n-1].end == h {
			blocks[n-1].end = h + 1
			continue
		}
		blocks = append(blocks, block{start: h, end: h + 1})
	}
	return blocks
}

func formatBlocks(blocks []block) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, clockLabel(b.start*60)+"–"+clockLabel(b.end*60))
	}
	return strings.Join(parts, ", ")
}

// clockLabel renders minutes after midnight as "4pm" or "4:30pm".
func clockLabel(minutes int) string {
	minutes = ((minutes % 1440) + 1440) % 1440
	h, m := minutes/60, minutes%60
	suffix := "am"
	if h >= 12 {
		suffix = "pm"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	if m == 0 {
		return fmt.Sprintf("%d%s", h12, suffix)
	}
	return fmt.Sprintf("%d:%02d%s", h12, m, suffix)
}

// slotRain applies the rain thresholds to each ride slot falling on date.
func slotRain(hours []models.HourlyForecast, date time.Time, slots []models.RideSlot, s models.WeatherSettings, loc *time.Location) []reason {
	weekday := civilDate(date, loc).Weekday()

	var out []reason
	for _, slot := range slots {
		if slot.DayOfWeek != weekday {
			continue
		}
		start, end, err := slot.Minutes()
		if err != nil {
			continue
		}

		var total, maxPOP float64
		var matched bool
		for _, h := range hours {
			lt := h.Time.In(loc)
			m := lt.Hour()*60 + lt.Minute()
			if m < end && m+60 > start {
				matched = true
				total += h.RainInches
				maxPOP = math.Max(maxPOP, h.PrecipChance)
			}
		}
		if !matched {
			continue
		}

		window := clockLabel(start) + "–" + clockLabel(end)
		switch {
		case total >= s.RainCutoffInches:
			out = append(out, reason{
				cat:      catSlotRain,
				severity: models.ScoreRed,
				text:     fmt.Sprintf("Rain during your %s ride (%.2f\")", window, total),
			})
		case maxPOP > popYellowThreshold:
			out = append(out, reason{
				cat:      catSlotRain,
				severity: models.ScoreYellow,
				text:     fmt.Sprintf("%.0f%% chance of rain during your %s ride", maxPOP, window),
			})
		}
	}
	return out
}

// blanketNote looks at the overnight low from 8pm on the day to 9am the next,
// preferring hourly temperatures and falling back to the daily low.
func blanketNote(f models.DailyForecast, hourly []models.HourlyForecast, s models.WeatherSettings, loc *time.Location) (string, bool) {
	day := civilDate(f.Date, loc)
	start := day.Add(blanketWindowStartHour * time.Hour)
	end := day.AddDate(0, 0, 1).Add(blanketWindowEndHour * time.Hour)

	low := math.Inf(1)
	for _, h := range hourly {
		if h.Time.Before(start) || h.Time.After(end) {
			continue
		}
		low = math.Min(low, h.TempF)
	}

	if !math.IsInf(low, 1) {
		if low <= s.ColdAlertTempF {
			return fmt.Sprintf("Blanket advisory: overnight low near %.0f°F (8pm–9am)", low), true
		}
		return "", false
	}
	if f.LowF <= s.ColdAlertTempF {
		return fmt.Sprintf("Blanket advisory: forecast low of %.0f°F tonight", f.LowF), true
	}
	return "", false
}
