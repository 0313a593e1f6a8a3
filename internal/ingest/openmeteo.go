package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/lox/saddleweather/internal/logger"
	"github.com/lox/saddleweather/internal/metrics"
	"github.com/lox/saddleweather/internal/models"
)

const (
	OpenMeteoURL = "https://api.open-meteo.com/v1/forecast"

	forecastDays  = 8
	forecastHours = 48

	maxResponseBytes = 8 << 20

	breakerFailures = 3
	breakerCooldown = 2 * time.Minute
)

// OpenMeteo fetches current conditions, daily and hourly forecasts and recent rain
// from Open-Meteo in imperial units. Requests are not retried; after repeated
// failures the source reports itself unavailable for a cooldown period.
type OpenMeteo struct {
	baseURL  string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[*models.ForecastBundle]
	recorder PayloadRecorder
	log      *logger.Logger
	now      func() time.Time
}

func NewOpenMeteo(baseURL string, client *http.Client, log *logger.Logger) *OpenMeteo {
	if baseURL == "" {
		baseURL = OpenMeteoURL
	}
	log = log.With("component", "open-meteo")
	o := &OpenMeteo{
		baseURL: baseURL,
		client:  client,
		log:     log,
		now:     time.Now,
	}
	o.breaker = gobreaker.NewCircuitBreaker[*models.ForecastBundle](gobreaker.Settings{
		Name:        "open-meteo",
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("open-meteo: availability changed", "from", from.String(), "to", to.String())
		},
	})
	return o
}

// SetRecorder archives every successful response body through r.
func (o *OpenMeteo) SetRecorder(r PayloadRecorder) {
	o.recorder = r
}

func (o *OpenMeteo) Name() string {
	return "open-meteo"
}

func (o *OpenMeteo) Available() bool {
	return o.breaker.State() != gobreaker.StateOpen
}

func (o *OpenMeteo) Fetch(ctx context.Context, q Query) (*models.ForecastBundle, error) {
	start := time.Now()
	bundle, err := o.breaker.Execute(func() (*models.ForecastBundle, error) {
		return o.fetch(ctx, q)
	})
	metrics.ForecastFetchLatency.Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.ForecastFetchesTotal.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	case err != nil:
		metrics.ForecastFetchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.ForecastFetchesTotal.WithLabelValues("ok").Inc()
	return bundle, nil
}

func (o *OpenMeteo) requestURL(q Query) string {
	values := url.Values{}
	values.Set("latitude", strconv.FormatFloat(q.Latitude, 'f', 4, 64))
	values.Set("longitude", strconv.FormatFloat(q.Longitude, 'f', 4, 64))
	values.Set("current", "temperature_2m,precipitation,cloud_cover,wind_speed_10m")
	values.Set("hourly", "temperature_2m,precipitation,precipitation_probability")
	values.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_sum,precipitation_probability_max,cloud_cover_mean,wind_speed_10m_max,sunrise,sunset")
	values.Set("temperature_unit", "fahrenheit")
	values.Set("wind_speed_unit", "mph")
	values.Set("precipitation_unit", "inch")
	values.Set("timezone", "auto")
	values.Set("timeformat", "unixtime")
	values.Set("forecast_days", strconv.Itoa(forecastDays))
	values.Set("forecast_hours", strconv.Itoa(forecastHours))
	if q.PastHours > 0 {
		values.Set("past_hours", strconv.Itoa(q.PastHours))
	}
	return o.baseURL + "?" + values.Encode()
}

type openMeteoResponse struct {
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	UTCOffsetSeconds int     `json:"utc_offset_seconds"`
	Current          *struct {
		Time          int64    `json:"time"`
		Temperature   *float64 `json:"temperature_2m"`
		Precipitation *float64 `json:"precipitation"`
		CloudCover    *float64 `json:"cloud_cover"`
		WindSpeed     *float64 `json:"wind_speed_10m"`
	} `json:"current"`
	Hourly struct {
		Time                     []int64    `json:"time"`
		Temperature              []*float64 `json:"temperature_2m"`
		Precipitation            []*float64 `json:"precipitation"`
		PrecipitationProbability []*float64 `json:"precipitation_probability"`
	} `json:"hourly"`
	Daily struct {
		Time                        []int64    `json:"time"`
		TemperatureMax              []*float64 `json:"temperature_2m_max"`
		TemperatureMin              []*float64 `json:"temperature_2m_min"`
		PrecipitationSum            []*float64 `json:"precipitation_sum"`
		PrecipitationProbabilityMax []*float64 `json:"precipitation_probability_max"`
		CloudCoverMean              []*float64 `json:"cloud_cover_mean"`
		WindSpeedMax                []*float64 `json:"wind_speed_10m_max"`
		Sunrise                     []int64    `json:"sunrise"`
		Sunset                      []int64    `json:"sunset"`
	} `json:"daily"`
}

func (o *OpenMeteo) fetch(ctx context.Context, q Query) (*models.ForecastBundle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.requestURL(q), nil)
	if err != nil {
		return nil, err
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch forecast: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch forecast: status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read forecast: %w", err)
	}
	if o.recorder != nil {
		if _, err := o.recorder.StoreForecastPayload(o.Name(), q.Key(), body); err != nil {
			o.log.Warn("open-meteo: failed to archive payload", "error", err)
		}
	}

	var data openMeteoResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if len(data.Daily.Time) == 0 {
		return nil, errors.New("fetch forecast: no daily data returned")
	}

	bundle := data.toBundle(o.now().UTC())
	if flags := SanitizeBundle(bundle); len(flags) > 0 {
		o.log.Warn("open-meteo: sanitized out-of-range values", "flags", flags)
	}
	return bundle, nil
}

func at(values []*float64, i int) float64 {
	if i < len(values) && values[i] != nil {
		return *values[i]
	}
	return 0
}

func unixAt(values []int64, i int, loc *time.Location) time.Time {
	if i < len(values) && values[i] != 0 {
		return time.Unix(values[i], 0).In(loc)
	}
	return time.Time{}
}

// toBundle splits the hourly series at the current hour: earlier hours become recent
// rain history, the rest is the hourly forecast.
func (r *openMeteoResponse) toBundle(fetchedAt time.Time) *models.ForecastBundle {
	loc := time.FixedZone("", r.UTCOffsetSeconds)
	b := &models.ForecastBundle{
		Latitude:         r.Latitude,
		Longitude:        r.Longitude,
		UTCOffsetSeconds: r.UTCOffsetSeconds,
		FetchedAt:        fetchedAt,
	}

	nowHour := fetchedAt.Truncate(time.Hour)
	if r.Current != nil {
		observed := time.Unix(r.Current.Time, 0).In(loc)
		b.Current = &models.CurrentWeather{
			ObservedAt:   observed,
			TempF:        deref(r.Current.Temperature),
			WindSpeedMph: deref(r.Current.WindSpeed),
			CloudPct:     deref(r.Current.CloudCover),
			PrecipInches: deref(r.Current.Precipitation),
		}
		nowHour = observed.Truncate(time.Hour)
	}

	for i, ts := range r.Hourly.Time {
		t := time.Unix(ts, 0).In(loc)
		rain := at(r.Hourly.Precipitation, i)
		if t.Before(nowHour) {
			b.RecentRain = append(b.RecentRain, models.HourlyRain{Time: t, RainInches: rain})
			continue
		}
		b.Hourly = append(b.Hourly, models.HourlyForecast{
			Time:         t,
			TempF:        at(r.Hourly.Temperature, i),
			RainInches:   rain,
			PrecipChance: at(r.Hourly.PrecipitationProbability, i),
		})
	}
	if b.RecentRain == nil {
		b.RecentRain = []models.HourlyRain{}
	}

	for i, ts := range r.Daily.Time {
		b.Daily = append(b.Daily, models.DailyForecast{
			Date:         time.Unix(ts, 0).In(loc),
			DayF:         at(r.Daily.TemperatureMax, i),
			LowF:         at(r.Daily.TemperatureMin, i),
			CloudPct:     at(r.Daily.CloudCoverMean, i),
			WindSpeedMph: at(r.Daily.WindSpeedMax, i),
			PrecipChance: at(r.Daily.PrecipitationProbabilityMax, i),
			PrecipInches: at(r.Daily.PrecipitationSum, i),
			Sunrise:      unixAt(r.Daily.Sunrise, i, loc),
			Sunset:       unixAt(r.Daily.Sunset, i, loc),
		})
	}
	return b
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
