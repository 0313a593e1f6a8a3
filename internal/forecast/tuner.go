package forecast

import (
	"fmt"
	"time"

	"github.com/lox/saddleweather/internal/logger"
	"github.com/lox/saddleweather/internal/metrics"
	"github.com/lox/saddleweather/internal/models"
)

const (
	tuneSampleLimit    = 10
	minTuneSamples     = 5
	tuneTrendThreshold = 0.6
	tuneStep           = 5.0
	tuneCooldown       = 24 * time.Hour
)

// TunerStore is the persistence the tuner reads and writes.
// ApplyDryingRateAdjustment must write the new rate and last-tuned time as one update.
type TunerStore interface {
	GetSettings() (*models.WeatherSettings, error)
	GetRecentFeedback(limit int) ([]models.FootingFeedback, error)
	ApplyDryingRateAdjustment(adj models.DryingRateAdjustment) error
}

type TuneResult struct {
	Adjusted bool    `json:"adjusted"`
	OldRate  float64 `json:"old_rate,omitempty"`
	NewRate  float64 `json:"new_rate,omitempty"`
	Reason   string  `json:"reason,omitempty"`
	Samples  int     `json:"samples"`
}

// Tuner nudges the drying rate toward what rider feedback says. It moves in fixed
// steps, only on a clear majority, and at most once a day.
type Tuner struct {
	store TunerStore
	log   *logger.Logger
	now   func() time.Time
}

func NewTuner(s TunerStore, log *logger.Logger) *Tuner {
	return &Tuner{store: s, log: log.With("component", "tuner"), now: time.Now}
}

// SetClock replaces the tuner's time source.
func (t *Tuner) SetClock(now func() time.Time) {
	t.now = now
}

// TuneCounts tallies classifications over feedback that has a prediction attached.
type TuneCounts struct {
	Samples         int
	Correct         int
	TooConservative int
	TooAggressive   int
}

func countFeedback(feedback []models.FootingFeedback) TuneCounts {
	var c TuneCounts
	for _, fb := range feedback {
		if fb.PredictedScore == nil {
			continue
		}
		c.Samples++
		switch models.ClassifyFeedback(*fb.PredictedScore, fb.ActualFooting) {
		case models.ClassCorrect:
			c.Correct++
		case models.ClassTooConservative:
			c.TooConservative++
		case models.ClassTooAggressive:
			c.TooAggressive++
		}
	}
	return c
}

const reasonNoTrend = "no clear trend"

// nextDryingRate decides the step for a set of counts. trend is false when neither
// direction has a clear majority.
func nextDryingRate(current float64, c TuneCounts) (next float64, why string, trend bool) {
	if c.Samples == 0 {
		return current, reasonNoTrend, false
	}
	conservative := float64(c.TooConservative) / float64(c.Samples)
	aggressive := float64(c.TooAggressive) / float64(c.Samples)

	switch {
	case conservative >= tuneTrendThreshold:
		return models.ClampDryingRate(current - tuneStep),
			fmt.Sprintf("%d of %d rides were better than predicted; footing dries faster than modeled", c.TooConservative, c.Samples),
			true
	case aggressive >= tuneTrendThreshold:
		return models.ClampDryingRate(current + tuneStep),
			fmt.Sprintf("%d of %d rides were worse than predicted; footing stays wet longer than modeled", c.TooAggressive, c.Samples),
			true
	}
	return current, reasonNoTrend, false
}

// CheckAndTune runs one tuning pass. Every guard yields a non-adjusted result with a
// reason; only store failures are returned as errors.
func (t *Tuner) CheckAndTune() (TuneResult, error) {
	settings, err := t.store.GetSettings()
	if err != nil {
		return TuneResult{}, fmt.Errorf("load settings: %w", err)
	}

	result, err := t.tune(settings)
	if err != nil {
		metrics.TunerRuns.WithLabelValues("error").Inc()
		return TuneResult{}, err
	}
	if result.Adjusted {
		metrics.TunerRuns.WithLabelValues("adjusted").Inc()
		metrics.DryingRate.Set(result.NewRate)
		t.log.Info("tuner: adjusted drying rate", "old", result.OldRate, "new", result.NewRate, "reason", result.Reason)
	} else {
		metrics.TunerRuns.WithLabelValues("skipped").Inc()
		t.log.Debug("tuner: no adjustment", "reason", result.Reason, "samples", result.Samples)
	}
	return result, nil
}

func (t *Tuner) tune(settings *models.WeatherSettings) (TuneResult, error) {
	if !settings.AutoTuneDryingRate {
		return TuneResult{Reason: "auto-tune is disabled"}, nil
	}

	now := t.now()
	if settings.LastTunedAt != nil {
		if since := now.Sub(*settings.LastTunedAt); since < tuneCooldown {
			return TuneResult{
				Reason: fmt.Sprintf("last tuned %s ago; adjustments are at most once per 24h", since.Round(time.Minute)),
			}, nil
		}
	}

	recent, err := t.store.GetRecentFeedback(tuneSampleLimit)
	if err != nil {
		return TuneResult{}, fmt.Errorf("load feedback: %w", err)
	}
	counts := countFeedback(recent)
	if counts.Samples < minTuneSamples {
		return TuneResult{
			Reason:  fmt.Sprintf("need at least %d rides with a prediction, have %d", minTuneSamples, counts.Samples),
			Samples: counts.Samples,
		}, nil
	}

	old := settings.FootingDryHoursPerInch
	next, why, trend := nextDryingRate(old, counts)
	if !trend {
		return TuneResult{Reason: why, Samples: counts.Samples}, nil
	}
	if next == old {
		return TuneResult{
			Reason:  fmt.Sprintf("drying rate already at its limit (%.0f h/in)", old),
			Samples: counts.Samples,
		}, nil
	}

	adj := models.DryingRateAdjustment{
		OldRate:         old,
		NewRate:         next,
		Reason:          why,
		Samples:         counts.Samples,
		TooConservative: counts.TooConservative,
		TooAggressive:   counts.TooAggressive,
		AdjustedAt:      now,
	}
	if err := t.store.ApplyDryingRateAdjustment(adj); err != nil {
		return TuneResult{}, fmt.Errorf("apply drying rate: %w", err)
	}

	return TuneResult{
		Adjusted: true,
		OldRate:  old,
		NewRate:  next,
		Reason:   why,
		Samples:  counts.Samples,
	}, nil
}
