package ingest

import (
	"context"
	"time"

	"github.com/couchcryptid/aqhi-etl/internal/aqhi"
	"github.com/couchcryptid/aqhi-etl/internal/domain"
)

// DefaultWindowLookback bounds window queries that give no start time.
const DefaultWindowLookback = 24 * time.Hour

// WindowQuery describes a windowed AQHI lookup. Zero Since means the last
// DefaultWindowLookback; zero Hours means aqhi.WindowHours.
type WindowQuery struct {
	CityKey string
	Since   time.Time
	Hours   int
}

// Windows reads stored city records and reduces them to banded windows.
type Windows struct {
	queries Queries
}

// NewWindows creates a Windows reader.
func NewWindows(queries Queries) *Windows {
	return &Windows{queries: queries}
}

// AQHIWindows returns the banded windows of a city, newest first. An
// unknown city returns domain.ErrCityNotFound (wrapped).
func (w *Windows) AQHIWindows(ctx context.Context, wq WindowQuery) ([]aqhi.Point, error) {
	if _, err := w.queries.FindCity(ctx, wq.CityKey); err != nil {
		return nil, err
	}
	since := wq.Since
	if since.IsZero() {
		since = domain.Now().Add(-DefaultWindowLookback)
	}
	hours := wq.Hours
	if hours <= 0 {
		hours = aqhi.WindowHours
	}

	recs, err := w.queries.CityRecords(ctx, RecordFilter{CityKey: wq.CityKey, Since: since})
	if err != nil {
		return nil, err
	}
	samples := make([]aqhi.Sample, len(recs))
	for i, rec := range recs {
		samples[i] = aqhi.SampleFrom(rec)
	}
	return aqhi.Series(samples, hours), nil
}
