//go:build mapbox

package mapbox

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/aqhi-etl/internal/observability"
)

// These tests hit the real Mapbox API and require a valid MAPBOX_TOKEN env var.
// Run with: go test -tags=mapbox ./internal/adapter/mapbox/ -v -count=1

func smokeClient(t *testing.T) *Client {
	t.Helper()
	token := os.Getenv("MAPBOX_TOKEN")
	if token == "" {
		t.Fatal("MAPBOX_TOKEN must be set to run smoke tests")
	}
	return &Client{
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    defaultBaseURL,
		metrics:    observability.NewMetricsForTesting(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestSmoke_ForwardGeocode_City(t *testing.T) {
	c := smokeClient(t)

	result, err := c.ForwardGeocode(context.Background(), "北京", "")
	require.NoError(t, err)

	assert.InDelta(t, 39.9, result.Lat, 0.3, "lat should be near Beijing")
	assert.InDelta(t, 116.4, result.Lon, 0.3, "lon should be near Beijing")
	assert.Greater(t, result.Confidence, 0.5)
}

func TestSmoke_ForwardGeocode_Station(t *testing.T) {
	c := smokeClient(t)

	// station-level matches are fuzzy; only require a Beijing-area answer
	result, err := c.ForwardGeocode(context.Background(), "天坛", "北京")
	require.NoError(t, err)
	if result.FormattedAddress != "" {
		assert.InDelta(t, 39.9, result.Lat, 1.0)
	}
}

func TestSmoke_CachedGeocoder(t *testing.T) {
	c := smokeClient(t)
	cached := NewCachedGeocoder(c, 10, observability.NewMetricsForTesting())

	r1, err := cached.ForwardGeocode(context.Background(), "上海", "")
	require.NoError(t, err)

	r2, err := cached.ForwardGeocode(context.Background(), "上海", "")
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}
