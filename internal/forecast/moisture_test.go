package forecast

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/lox/saddleweather/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvapRate(t *testing.T) {
	base := BaseRate(60)

	tests := []struct {
		name  string
		cloud float64
		temp  float64
		wind  float64
		base  float64
		want  float64
	}{
		{"reference day", 50, 70, 5, base, base * 0.75 * 1.0 * (1 + 5.0/30)},
		{"clear sky", 0, 70, 0, base, base * 1.0 * 1.0},
		{"overcast", 100, 70, 0, base, base * 0.5 * 1.0},
		{"cloud above 100 clamps", 150, 70, 0, base, base * 0.5 * 1.0},
		{"negative wind clamps", 100, 70, -20, base, base * 0.5 * 1.0},
		{"deep freeze never negative", 0, -200, 0, base, 0},
		{"zero base rate", 0, 70, 10, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvapRate(tt.cloud, tt.temp, tt.wind, tt.base)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestBaseRate(t *testing.T) {
	assert.InDelta(t, 1.0/60, BaseRate(60), 1e-12)
	assert.Equal(t, 0.0, BaseRate(0))
	assert.Equal(t, 0.0, BaseRate(-5))
}

func recentRain(start time.Time, amounts ...float64) []models.HourlyRain {
	out := make([]models.HourlyRain, len(amounts))
	for i, a := range amounts {
		out[i] = models.HourlyRain{Time: start.Add(time.Duration(i) * time.Hour), RainInches: a}
	}
	return out
}

func TestEstimateMoistureAfterOvernightRain(t *testing.T) {
	start := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	amounts := make([]float64, 24)
	amounts[0] = 0.5
	today := models.DailyForecast{Date: start, CloudPct: 50, DayF: 70, WindSpeedMph: 5}

	est := EstimateMoisture(recentRain(start, amounts...), &models.CurrentWeather{}, today, 60)

	assert.InDelta(t, 0.014583, est.EvapRate, 1e-5)
	// 0.5" less 24 hours of evaporation, rain hour included.
	assert.InDelta(t, 0.15, est.MoistureInches, 0.011)
	assert.Greater(t, est.MoistureInches, 0.0)
	assert.Equal(t, 11, est.HoursToDry)
}

func TestEstimateMoistureOrdersHistory(t *testing.T) {
	start := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	today := models.DailyForecast{CloudPct: 20, DayF: 60, WindSpeedMph: 8}
	hist := recentRain(start, 0, 0, 0.3, 0, 0, 0.1, 0, 0)

	reversed := make([]models.HourlyRain, len(hist))
	for i := range hist {
		reversed[len(hist)-1-i] = hist[i]
	}

	assert.Equal(t,
		EstimateMoisture(hist, nil, today, 60),
		EstimateMoisture(reversed, nil, today, 60))
}

func TestEstimateMoistureBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.Intn(48)
		amounts := make([]float64, n)
		var total float64
		for i := range amounts {
			if rng.Float64() < 0.3 {
				amounts[i] = math.Round(rng.Float64()*30) / 100
			}
			total += amounts[i]
		}
		today := models.DailyForecast{
			CloudPct:     rng.Float64() * 100,
			DayF:         rng.Float64()*100 - 10,
			WindSpeedMph: rng.Float64() * 30,
		}
		rate := 20 + rng.Float64()*100

		est := EstimateMoisture(recentRain(start, amounts...), nil, today, rate)

		require.GreaterOrEqual(t, est.MoistureInches, 0.0, "trial %d", trial)
		bound := math.Max(0, total-float64(n)*est.EvapRate)
		// Clamping at zero can only leave more than the unclamped difference, never more than the rain.
		require.LessOrEqual(t, est.MoistureInches, total+0.005, "trial %d", trial)
		require.GreaterOrEqual(t, est.MoistureInches, bound-0.005, "trial %d", trial)
	}
}

func TestEstimateMoistureLiveRain(t *testing.T) {
	today := models.DailyForecast{CloudPct: 100, DayF: 50}
	est := EstimateMoisture(nil, &models.CurrentWeather{PrecipInches: 0.2}, today, 60)
	assert.Equal(t, 0.2, est.MoistureInches)
	assert.Greater(t, est.HoursToDry, 0)

	dry := EstimateMoisture(nil, nil, today, 60)
	assert.Equal(t, 0.0, dry.MoistureInches)
	assert.Equal(t, 0, dry.HoursToDry)
}

func TestHoursToDry(t *testing.T) {
	tests := []struct {
		name     string
		moisture float64
		evap     float64
		want     int
	}{
		{"dry", 0, 0.01, 0},
		{"dry without evaporation", 0, 0, 0},
		{"no evaporation", 0.2, 0, NeverDryHours},
		{"exact", 0.1, 0.01, 10},
		{"rounds up", 0.105, 0.01, 11},
		{"capped", 50, 0.001, NeverDryHours},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hoursToDry(tt.moisture, tt.evap))
		})
	}
}

func TestRainContribution(t *testing.T) {
	assert.InDelta(t, 0.2, RainContribution(models.DailyForecast{PrecipChance: 80, PrecipInches: 0.05}, 0.25), 1e-9)
	assert.InDelta(t, 0.6, RainContribution(models.DailyForecast{PrecipChance: 80, PrecipInches: 0.6}, 0.25), 1e-9)
	assert.Equal(t, 0.0, RainContribution(models.DailyForecast{PrecipInches: -1}, 0.25))
}

func TestEstimateFutureMoisture(t *testing.T) {
	s := models.DefaultSettings()
	day := func(i int) time.Time { return time.Date(2026, 4, 10+i, 0, 0, 0, 0, time.UTC) }
	forecasts := []models.DailyForecast{
		{Date: day(0), CloudPct: 0, DayF: 70},
		{Date: day(1), CloudPct: 100, DayF: 40, PrecipInches: 0.5, PrecipChance: 90},
		{Date: day(2), CloudPct: 0, DayF: 75, WindSpeedMph: 10},
	}

	t.Run("out of range", func(t *testing.T) {
		assert.Equal(t, models.FootingProjection{}, EstimateFutureMoisture(0.3, forecasts, 3, s))
		assert.Equal(t, models.FootingProjection{}, EstimateFutureMoisture(0.3, forecasts, -1, s))
	})

	t.Run("today only loses half a day", func(t *testing.T) {
		got := EstimateFutureMoisture(0.3, forecasts, 0, s)
		evap := EvapRate(0, 70, 0, BaseRate(60))
		assert.InDelta(t, 0.3-12*evap, got.MoistureInches, 0.006)
		assert.Equal(t, 0.0, got.RainInches)
	})

	t.Run("forecast rain lands on target day", func(t *testing.T) {
		got := EstimateFutureMoisture(0, forecasts, 1, s)
		evap := EvapRate(100, 40, 0, BaseRate(60))
		assert.Equal(t, 0.5, got.RainInches)
		assert.InDelta(t, 0.5-12*evap, got.MoistureInches, 0.006)
		assert.Greater(t, got.HoursToDry, 12)
		assert.Less(t, got.HoursToDry, NeverDryHours)
	})

	t.Run("never negative", func(t *testing.T) {
		got := EstimateFutureMoisture(0, forecasts, 2, s)
		assert.GreaterOrEqual(t, got.MoistureInches, 0.0)
	})

	t.Run("no evaporation past horizon", func(t *testing.T) {
		frozen := models.DefaultSettings()
		frozen.FootingDryHoursPerInch = 0
		got := EstimateFutureMoisture(0.4, forecasts[:1], 0, frozen)
		assert.Equal(t, 0.4, got.MoistureInches)
		assert.Equal(t, NeverDryHours, got.HoursToDry)
	})
}

func TestProjectHoursToDryExtrapolates(t *testing.T) {
	base := BaseRate(60)
	forecasts := []models.DailyForecast{{CloudPct: 100, DayF: 70}}
	evap := EvapRate(100, 70, 0, base)

	moisture := 20.5 * evap
	// 12 hours remain on the only forecast day, the rest comes from extrapolation.
	assert.Equal(t, 21, projectHoursToDry(moisture, forecasts, 0, base))
	assert.Equal(t, 0, projectHoursToDry(0, forecasts, 0, base))
}
