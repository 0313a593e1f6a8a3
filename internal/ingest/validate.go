package ingest

import (
	"math"
	"time"

	"github.com/lox/saddleweather/internal/models"
)

const (
	FlagCloudOutOfRange  = "cloud_out_of_range"
	FlagChanceOutOfRange = "chance_out_of_range"
	FlagPrecipNegative   = "precip_negative"
	FlagWindNegative     = "wind_negative"
	FlagTempUnlikely     = "temp_unlikely"
	FlagSunsetBeforeRise = "sunset_before_sunrise"
	FlagNonFiniteValue   = "non_finite_value"
)

// SanitizeBundle clamps out-of-range provider values in place so scoring never sees
// them, and returns one flag per kind of problem found.
func SanitizeBundle(b *models.ForecastBundle) []string {
	seen := map[string]bool{}
	var flags []string
	flag := func(f string) {
		if !seen[f] {
			seen[f] = true
			flags = append(flags, f)
		}
	}

	pct := func(v *float64, f string) {
		switch {
		case math.IsNaN(*v) || math.IsInf(*v, 0):
			*v = 0
			flag(FlagNonFiniteValue)
		case *v < 0:
			*v = 0
			flag(f)
		case *v > 100:
			*v = 100
			flag(f)
		}
	}
	nonNeg := func(v *float64, f string) {
		switch {
		case math.IsNaN(*v) || math.IsInf(*v, 0):
			*v = 0
			flag(FlagNonFiniteValue)
		case *v < 0:
			*v = 0
			flag(f)
		}
	}
	temp := func(v float64) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			flag(FlagNonFiniteValue)
		} else if v < -80 || v > 140 {
			flag(FlagTempUnlikely)
		}
	}

	if c := b.Current; c != nil {
		temp(c.TempF)
		pct(&c.CloudPct, FlagCloudOutOfRange)
		nonNeg(&c.PrecipInches, FlagPrecipNegative)
		nonNeg(&c.WindSpeedMph, FlagWindNegative)
	}

	for i := range b.Daily {
		d := &b.Daily[i]
		temp(d.DayF)
		temp(d.LowF)
		pct(&d.CloudPct, FlagCloudOutOfRange)
		pct(&d.PrecipChance, FlagChanceOutOfRange)
		nonNeg(&d.PrecipInches, FlagPrecipNegative)
		nonNeg(&d.WindSpeedMph, FlagWindNegative)
		if !d.Sunrise.IsZero() && !d.Sunset.IsZero() && !d.Sunset.After(d.Sunrise) {
			// The scorer falls back to default daylight hours.
			d.Sunrise, d.Sunset = time.Time{}, time.Time{}
			flag(FlagSunsetBeforeRise)
		}
	}

	for i := range b.Hourly {
		h := &b.Hourly[i]
		temp(h.TempF)
		pct(&h.PrecipChance, FlagChanceOutOfRange)
		nonNeg(&h.RainInches, FlagPrecipNegative)
	}

	for i := range b.RecentRain {
		nonNeg(&b.RecentRain[i].RainInches, FlagPrecipNegative)
	}

	return flags
}
