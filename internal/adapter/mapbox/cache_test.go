package mapbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/aqhi-etl/internal/domain"
)

type countingGeocoder struct {
	calls  int
	result domain.GeocodingResult
	err    error
}

func (m *countingGeocoder) ForwardGeocode(_ context.Context, _, _ string) (domain.GeocodingResult, error) {
	m.calls++
	return m.result, m.err
}

func found(name string) domain.GeocodingResult {
	return domain.GeocodingResult{Lat: 39.9, Lon: 116.4, PlaceName: name, FormattedAddress: name + ", 中国"}
}

func TestCachedGeocoder_CacheHit(t *testing.T) {
	inner := &countingGeocoder{result: found("北京市")}
	metrics := testMetrics()
	cached := NewCachedGeocoder(inner, 10, metrics)

	r1, err := cached.ForwardGeocode(context.Background(), "北京", "")
	require.NoError(t, err)
	assert.Equal(t, "北京市", r1.PlaceName)

	r2, err := cached.ForwardGeocode(context.Background(), "北京", "")
	require.NoError(t, err)
	assert.Equal(t, r1, r2)

	assert.Equal(t, 1, inner.calls, "should only call inner once")
	assert.Equal(t, 1.0, counterValue(t, metrics.GeocodeCache.WithLabelValues("hit")))
	assert.Equal(t, 1.0, counterValue(t, metrics.GeocodeCache.WithLabelValues("miss")))
}

func TestCachedGeocoder_RegionIsPartOfKey(t *testing.T) {
	inner := &countingGeocoder{result: found("人民公园")}
	cached := NewCachedGeocoder(inner, 10, testMetrics())

	_, err := cached.ForwardGeocode(context.Background(), "人民公园", "成都")
	require.NoError(t, err)
	_, err = cached.ForwardGeocode(context.Background(), "人民公园", "重庆")
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 2, cached.Len())
}

func TestCachedGeocoder_EmptyResultNotCached(t *testing.T) {
	inner := &countingGeocoder{}
	cached := NewCachedGeocoder(inner, 10, testMetrics())

	for range 2 {
		_, err := cached.ForwardGeocode(context.Background(), "不存在", "北京")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, inner.calls)
	assert.Zero(t, cached.Len())
}

func TestCachedGeocoder_ErrorNotCached(t *testing.T) {
	inner := &countingGeocoder{err: errors.New("boom")}
	cached := NewCachedGeocoder(inner, 10, testMetrics())

	_, err := cached.ForwardGeocode(context.Background(), "北京", "")
	require.Error(t, err)
	assert.Zero(t, cached.Len())
}

func TestCachedGeocoder_EvictsLeastRecentlyUsed(t *testing.T) {
	inner := &countingGeocoder{result: found("x")}
	cached := NewCachedGeocoder(inner, 2, testMetrics())
	ctx := context.Background()

	_, _ = cached.ForwardGeocode(ctx, "北京", "")
	_, _ = cached.ForwardGeocode(ctx, "上海", "")
	_, _ = cached.ForwardGeocode(ctx, "北京", "") // hit, refreshes 北京
	_, _ = cached.ForwardGeocode(ctx, "广州", "") // evicts 上海
	require.Equal(t, 3, inner.calls)
	assert.Equal(t, 2, cached.Len())

	_, _ = cached.ForwardGeocode(ctx, "北京", "")
	assert.Equal(t, 3, inner.calls, "北京 should still be cached")

	_, _ = cached.ForwardGeocode(ctx, "上海", "")
	assert.Equal(t, 4, inner.calls, "上海 should have been evicted")
}
