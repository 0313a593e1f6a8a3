package ingest

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lox/saddleweather/internal/metrics"
	"github.com/lox/saddleweather/internal/models"
)

const DefaultCacheTTL = 15 * time.Minute

type cacheEntry struct {
	bundle  *models.ForecastBundle
	expires time.Time
}

// CachedSource keeps each bundle for a fixed TTL per location. Concurrent misses for
// the same location share one upstream fetch. Failures are not cached.
type CachedSource struct {
	source Source
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

func NewCachedSource(source Source, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedSource{
		source:  source,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// SetClock replaces the cache's time source.
func (c *CachedSource) SetClock(now func() time.Time) {
	c.now = now
}

func (c *CachedSource) Name() string {
	return c.source.Name()
}

func (c *CachedSource) Available() bool {
	return c.source.Available()
}

func (c *CachedSource) Fetch(ctx context.Context, q Query) (*models.ForecastBundle, error) {
	key := q.Key()
	if b, ok := c.get(key); ok {
		metrics.ForecastCacheTotal.WithLabelValues("hit").Inc()
		return b, nil
	}
	metrics.ForecastCacheTotal.WithLabelValues("miss").Inc()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if b, ok := c.get(key); ok {
			return b, nil
		}
		// Shared by every waiter, so one caller going away must not cancel it.
		b, err := c.source.Fetch(context.WithoutCancel(ctx), q)
		if err != nil {
			return nil, err
		}
		c.put(key, b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.ForecastBundle), nil
}

// Invalidate drops every cached bundle.
func (c *CachedSource) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

func (c *CachedSource) get(key string) (*models.ForecastBundle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.bundle, true
}

func (c *CachedSource) put(key string, b *models.ForecastBundle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{bundle: b, expires: c.now().Add(c.ttl)}
}
