package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/lox/saddleweather/internal/models"
)

// ErrSourceUnavailable is returned while a forecast source is refusing requests
// after repeated upstream failures.
var ErrSourceUnavailable = errors.New("forecast source unavailable")

// Query identifies one forecast fetch.
type Query struct {
	Latitude  float64
	Longitude float64
	// PastHours is how much trailing hourly rain history to include.
	PastHours int
}

// Key groups queries for the same place, rounded to about 100m.
func (q Query) Key() string {
	return fmt.Sprintf("%.3f,%.3f,%d", q.Latitude, q.Longitude, q.PastHours)
}

// Source fetches everything one scoring run needs in a single call.
type Source interface {
	Name() string
	Fetch(ctx context.Context, q Query) (*models.ForecastBundle, error)
	// Available reports whether the source is currently accepting requests.
	Available() bool
}

// PayloadRecorder archives raw provider responses.
type PayloadRecorder interface {
	StoreForecastPayload(source, queryKey string, payload []byte) (int64, error)
}
