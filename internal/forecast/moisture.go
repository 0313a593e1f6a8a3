package forecast

import (
	"math"
	"sort"

	"github.com/lox/saddleweather/internal/models"
)

// NeverDryHours stands in for hours-to-dry when nothing is evaporating.
const NeverDryHours = 999

const (
	rideDayHours = 12.0
	fullDayHours = 24.0
)

// EvapRate returns inches evaporated per hour. baseRate is the reference rate
// (1 / hours-per-inch), scaled by sun, temperature and wind factors.
func EvapRate(cloudPct, tempF, windMph, baseRate float64) float64 {
	cloudPct = math.Max(0, math.Min(100, cloudPct))
	windMph = math.Max(0, windMph)

	sun := 0.5 + (100-cloudPct)/200
	temp := 0.5 + tempF/140
	wind := 1.0 + windMph/30

	rate := baseRate * sun * temp * wind
	if rate < 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0
	}
	return rate
}

// BaseRate converts hours-per-inch into inches-per-hour.
func BaseRate(dryHoursPerInch float64) float64 {
	if dryHoursPerInch <= 0 {
		return 0
	}
	return 1.0 / dryHoursPerInch
}

func dayEvap(f models.DailyForecast, baseRate float64) float64 {
	return EvapRate(f.CloudPct, f.DayF, f.WindSpeedMph, baseRate)
}

// EstimateMoisture steps through the recent rain history hour by hour: each hour adds
// its rain and loses one hour of evaporation at today's forecast conditions.
// Rain falling right now is added after the loop.
func EstimateMoisture(recent []models.HourlyRain, current *models.CurrentWeather, today models.DailyForecast, dryHoursPerInch float64) models.MoistureEstimate {
	evap := dayEvap(today, BaseRate(dryHoursPerInch))

	hours := make([]models.HourlyRain, len(recent))
	copy(hours, recent)
	sort.SliceStable(hours, func(i, j int) bool { return hours[i].Time.Before(hours[j].Time) })

	var moisture float64
	for _, h := range hours {
		moisture += math.Max(0, h.RainInches)
		moisture = math.Max(0, moisture-evap)
	}
	if current != nil && current.PrecipInches > 0 {
		moisture += current.PrecipInches
	}

	return models.MoistureEstimate{
		MoistureInches: round2(moisture),
		HoursToDry:     hoursToDry(moisture, evap),
		EvapRate:       evap,
	}
}

func hoursToDry(moisture, evap float64) int {
	if moisture <= 0 {
		return 0
	}
	if evap <= 0 {
		return NeverDryHours
	}
	h := math.Ceil(moisture / evap)
	if h > NeverDryHours {
		return NeverDryHours
	}
	return int(h)
}

// RainContribution is the rain a forecast day adds to the footing: the stated amount,
// or a probability-weighted share of the rain cutoff when that is larger.
func RainContribution(f models.DailyForecast, rainCutoffInches float64) float64 {
	floor := f.PrecipChance / 100 * rainCutoffInches
	return math.Max(math.Max(0, f.PrecipInches), math.Max(0, floor))
}

// EstimateFutureMoisture projects current moisture forward to forecasts[dayIndex],
// with the ride taken mid-day on the target day.
func EstimateFutureMoisture(currentMoisture float64, forecasts []models.DailyForecast, dayIndex int, s models.WeatherSettings) models.FootingProjection {
	if dayIndex < 0 || dayIndex >= len(forecasts) {
		return models.FootingProjection{}
	}
	base := BaseRate(s.FootingDryHoursPerInch)

	moisture := math.Max(0, currentMoisture)
	var targetRain float64
	for i := 0; i <= dayIndex; i++ {
		f := forecasts[i]
		if i > 0 {
			rain := RainContribution(f, s.RainCutoffInches)
			moisture += rain
			if i == dayIndex {
				targetRain = rain
			}
		}
		hours := fullDayHours
		if i == dayIndex {
			hours = rideDayHours
		}
		moisture = math.Max(0, moisture-dayEvap(f, base)*hours)
	}

	return models.FootingProjection{
		MoistureInches: round2(moisture),
		HoursToDry:     projectHoursToDry(moisture, forecasts, dayIndex, base),
		RainInches:     round2(targetRain),
	}
}

// projectHoursToDry walks the rest of the horizon from the target day: half a day
// remains on the target day, whole days after that. Past the horizon the last
// day's rate is assumed to continue.
func projectHoursToDry(moisture float64, forecasts []models.DailyForecast, dayIndex int, base float64) int {
	if moisture <= 0 {
		return 0
	}
	remaining := moisture
	var elapsed float64
	for j := dayIndex; j < len(forecasts); j++ {
		evap := dayEvap(forecasts[j], base)
		avail := fullDayHours
		if j == dayIndex {
			avail = rideDayHours
		}
		if evap > 0 && remaining <= evap*avail {
			elapsed += remaining / evap
			return capHours(math.Ceil(elapsed))
		}
		remaining -= evap * avail
		elapsed += avail
	}

	last := dayEvap(forecasts[len(forecasts)-1], base)
	if last <= 0 {
		return NeverDryHours
	}
	return capHours(math.Ceil(elapsed + remaining/last))
}

func capHours(h float64) int {
	if h > NeverDryHours {
		return NeverDryHours
	}
	return int(h)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
