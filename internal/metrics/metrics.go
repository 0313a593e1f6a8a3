package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ForecastFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saddleweather_forecast_fetches_total",
			Help: "Total upstream forecast fetches",
		},
		[]string{"status"},
	)

	ForecastFetchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "saddleweather_forecast_fetch_latency_seconds",
			Help:    "Upstream forecast fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ForecastCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saddleweather_forecast_cache_total",
			Help: "Forecast cache lookups",
		},
		[]string{"result"},
	)

	DaysScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saddleweather_days_scored_total",
			Help: "Total days scored, by resulting score",
		},
		[]string{"score"},
	)

	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saddleweather_alerts_raised_total",
			Help: "Total current-condition alerts raised",
		},
		[]string{"type"},
	)

	FeedbackReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saddleweather_feedback_received_total",
			Help: "Rider footing feedback, by classification against the prediction",
		},
		[]string{"class"},
	)

	TunerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saddleweather_tuner_runs_total",
			Help: "Drying-rate tuner runs, by outcome",
		},
		[]string{"outcome"},
	)

	DryingRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "saddleweather_drying_rate_hours_per_inch",
			Help: "Drying rate currently in effect",
		},
	)

	SnapshotsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "saddleweather_snapshots_pruned_total",
			Help: "Prediction snapshots removed by retention",
		},
	)
)
