package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForecastPayloadArchive(t *testing.T) {
	store := setupTestStore(t)
	payload := []byte(`{"latitude":38.05,"daily":{"time":[1775793600]}}`)

	id, err := store.StoreForecastPayload("open-meteo", "38.050,-84.500,24", payload)
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := store.GetForecastPayload(id)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// The same body is archived once.
	dup, err := store.StoreForecastPayload("open-meteo", "38.050,-84.500,24", payload)
	require.NoError(t, err)
	assert.Zero(t, dup)

	listed, err := store.GetRecentForecastPayloads(10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "open-meteo", listed[0].Source)
	assert.Equal(t, "38.050,-84.500,24", listed[0].QueryKey)
	assert.True(t, listed[0].FetchedAt.Equal(testNow))
	assert.Positive(t, listed[0].SizeBytes)
	assert.Len(t, listed[0].Hash, 64)
}

func TestGetForecastPayloadMissing(t *testing.T) {
	store := setupTestStore(t)

	got, err := store.GetForecastPayload(42)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPruneForecastPayloads(t *testing.T) {
	store := setupTestStore(t)

	for i, age := range []int{40, 31, 29, 0} {
		at := testNow.AddDate(0, 0, -age)
		store.SetClock(func() time.Time { return at })
		_, err := store.StoreForecastPayload("open-meteo", "k", []byte{byte('a' + i)})
		require.NoError(t, err)
	}

	deleted, err := store.PruneForecastPayloads(30, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	left, err := store.GetRecentForecastPayloads(10)
	require.NoError(t, err)
	assert.Len(t, left, 2)
}
