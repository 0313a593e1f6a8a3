package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/saddleweather/internal/logger"
)

var farmZone = time.FixedZone("", -4*3600)

func local(day, hour, minute int) time.Time {
	return time.Date(2026, 4, day, hour, minute, 0, 0, farmZone)
}

func openMeteoFixture() map[string]any {
	var hourlyTimes []int64
	for h := 12; h <= 16; h++ {
		hourlyTimes = append(hourlyTimes, local(10, h, 0).Unix())
	}
	return map[string]any{
		"latitude":           38.25,
		"longitude":          -85.75,
		"utc_offset_seconds": -4 * 3600,
		"current": map[string]any{
			"time":           local(10, 14, 15).Unix(),
			"temperature_2m": 61.5,
			"precipitation":  0.02,
			"cloud_cover":    85,
			"wind_speed_10m": 9.4,
		},
		"hourly": map[string]any{
			"time":                      hourlyTimes,
			"temperature_2m":            []any{58, 59, 61, 62, 60},
			"precipitation":             []any{0.1, 0.05, 0.02, 0, 0},
			"precipitation_probability": []any{nil, nil, 70, 40, 20},
		},
		"daily": map[string]any{
			"time":                          []int64{local(10, 0, 0).Unix(), local(11, 0, 0).Unix()},
			"temperature_2m_max":            []any{63, 71},
			"temperature_2m_min":            []any{48, 45},
			"precipitation_sum":             []any{0.31, 0},
			"precipitation_probability_max": []any{90, 10},
			"cloud_cover_mean":              []any{80, nil},
			"wind_speed_10m_max":            []any{14, 8},
			"sunrise":                       []int64{local(10, 7, 1).Unix(), local(11, 6, 59).Unix()},
			"sunset":                        []int64{local(10, 20, 5).Unix(), local(11, 20, 6).Unix()},
		},
	}
}

func TestOpenMeteoFetch(t *testing.T) {
	var query map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = map[string]string{}
		for k := range r.URL.Query() {
			query[k] = r.URL.Query().Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openMeteoFixture())
	}))
	defer srv.Close()

	src := NewOpenMeteo(srv.URL, srv.Client(), logger.NewNop())
	bundle, err := src.Fetch(context.Background(), Query{Latitude: 38.2527, Longitude: -85.7585, PastHours: 24})
	require.NoError(t, err)

	assert.Equal(t, "38.2527", query["latitude"])
	assert.Equal(t, "fahrenheit", query["temperature_unit"])
	assert.Equal(t, "inch", query["precipitation_unit"])
	assert.Equal(t, "unixtime", query["timeformat"])
	assert.Equal(t, "24", query["past_hours"])
	assert.Equal(t, "8", query["forecast_days"])

	assert.Equal(t, -4*3600, bundle.UTCOffsetSeconds)
	_, offset := time.Now().In(bundle.Location()).Zone()
	assert.Equal(t, -4*3600, offset)

	require.NotNil(t, bundle.Current)
	assert.Equal(t, 61.5, bundle.Current.TempF)
	assert.Equal(t, 0.02, bundle.Current.PrecipInches)
	assert.Equal(t, 85.0, bundle.Current.CloudPct)

	require.Len(t, bundle.RecentRain, 2)
	assert.Equal(t, 12, bundle.RecentRain[0].Time.Hour())
	assert.Equal(t, 0.1, bundle.RecentRain[0].RainInches)

	require.Len(t, bundle.Hourly, 3)
	assert.Equal(t, 14, bundle.Hourly[0].Time.Hour())
	assert.Equal(t, 70.0, bundle.Hourly[0].PrecipChance)
	assert.Equal(t, 61.0, bundle.Hourly[0].TempF)

	require.Len(t, bundle.Daily, 2)
	today := bundle.Daily[0]
	assert.Equal(t, 10, today.Date.Day())
	assert.Equal(t, 0, today.Date.Hour())
	assert.Equal(t, 63.0, today.DayF)
	assert.Equal(t, 48.0, today.LowF)
	assert.Equal(t, 0.31, today.PrecipInches)
	assert.Equal(t, 90.0, today.PrecipChance)
	assert.Equal(t, 80.0, today.CloudPct)
	assert.Equal(t, 7, today.Sunrise.Hour())
	assert.Equal(t, 20, today.Sunset.Hour())
	assert.Equal(t, 0.0, bundle.Daily[1].CloudPct)

	assert.True(t, src.Available())
}

type fakeRecorder struct {
	source, key string
	payload     []byte
}

func (f *fakeRecorder) StoreForecastPayload(source, queryKey string, payload []byte) (int64, error) {
	f.source, f.key, f.payload = source, queryKey, payload
	return 1, nil
}

func TestOpenMeteoArchivesPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(openMeteoFixture())
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	src := NewOpenMeteo(srv.URL, srv.Client(), logger.NewNop())
	src.SetRecorder(rec)

	q := Query{Latitude: 38.2527, Longitude: -85.7585, PastHours: 24}
	_, err := src.Fetch(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, "open-meteo", rec.source)
	assert.Equal(t, q.Key(), rec.key)
	assert.Contains(t, string(rec.payload), `"daily"`)
}

func TestOpenMeteoRejectsEmptyForecast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"latitude": 1, "longitude": 2, "daily": {"time": []}}`))
	}))
	defer srv.Close()

	_, err := NewOpenMeteo(srv.URL, srv.Client(), logger.NewNop()).Fetch(context.Background(), Query{})
	assert.ErrorContains(t, err, "no daily data")
}

func TestOpenMeteoBecomesUnavailable(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewOpenMeteo(srv.URL, srv.Client(), logger.NewNop())
	for i := 0; i < breakerFailures; i++ {
		_, err := src.Fetch(context.Background(), Query{})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrSourceUnavailable)
		assert.ErrorContains(t, err, "status 502")
	}

	assert.False(t, src.Available())

	_, err := src.Fetch(context.Background(), Query{})
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Equal(t, int32(breakerFailures), requests.Load())
}
