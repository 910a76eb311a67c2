package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/aqhi-etl/internal/aqhi"
	"github.com/couchcryptid/aqhi-etl/internal/domain"
	"github.com/couchcryptid/aqhi-etl/internal/ingest"
)

func TestAQHIWindows(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	register(t, store, beijingPage(updateDtm))
	svc := ingest.NewService(store, discardLogger())

	// seven hourly records: two full windows and one left over
	for i := range 7 {
		page := beijingPage(updateDtm.Add(time.Duration(i) * time.Hour))
		c := &page.Record.City
		c.PM10, c.PM25, c.SO2, c.NO2, c.O3 = dec("605"), dec("579"), dec("7"), dec("12"), dec("162")
		res, err := svc.CreateCityRecord(ctx, page)
		require.NoError(t, err)
		require.True(t, res.Success)
	}

	domain.SetClock(clockwork.NewFakeClockAt(updateDtm.Add(7 * time.Hour)))
	t.Cleanup(func() { domain.SetClock(nil) })

	points, err := ingest.NewWindows(store).AQHIWindows(ctx, ingest.WindowQuery{CityKey: "beijing"})
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, updateDtm.Add(6*time.Hour), points[0].UpdateDtm)
	for _, p := range points {
		assert.True(t, p.Valid)
		assert.Equal(t, aqhi.BandAboveScale, p.Band)
	}

	points, err = ingest.NewWindows(store).AQHIWindows(ctx, ingest.WindowQuery{
		CityKey: "beijing",
		Since:   updateDtm.Add(4 * time.Hour),
	})
	require.NoError(t, err)
	assert.Len(t, points, 1)
}

func TestAQHIWindows_DefaultLookback(t *testing.T) {
	store := openStore(t)
	register(t, store, beijingPage(updateDtm))

	domain.SetClock(clockwork.NewFakeClockAt(updateDtm.Add(48 * time.Hour)))
	t.Cleanup(func() { domain.SetClock(nil) })

	res, err := ingest.NewService(store, discardLogger()).CreateCityRecord(context.Background(), beijingPage(updateDtm))
	require.NoError(t, err)
	require.True(t, res.Success)

	points, err := ingest.NewWindows(store).AQHIWindows(context.Background(), ingest.WindowQuery{CityKey: "beijing", Hours: 1})
	require.NoError(t, err)
	assert.Empty(t, points, "records older than a day are outside the default window")
}

func TestAQHIWindows_UnknownCity(t *testing.T) {
	_, err := ingest.NewWindows(openStore(t)).AQHIWindows(context.Background(), ingest.WindowQuery{CityKey: "tianjin"})
	assert.ErrorIs(t, err, domain.ErrCityNotFound)
}
