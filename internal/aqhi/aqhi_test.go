package aqhi

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/aqhi-etl/internal/domain"
)

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func TestSimple(t *testing.T) {
	tests := []struct {
		pm10, no2 string
		want      string
	}{
		{"47", "36", "1.9008"},
		{"0", "0", "0"},
		{"99", "53", "3.1614"},
		{"28", "11", "0.7358"},
	}
	for _, tt := range tests {
		t.Run(tt.pm10+"/"+tt.no2, func(t *testing.T) {
			got := Simple(nd(tt.pm10), nd(tt.no2))
			require.True(t, got.Valid)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got.Decimal), "got %s", got.Decimal)
		})
	}
}

func TestSimple_NullInput(t *testing.T) {
	for _, x := range []string{"0", "12", "500"} {
		assert.False(t, Simple(decimal.NullDecimal{}, nd(x)).Valid)
		assert.False(t, Simple(nd(x), decimal.NullDecimal{}).Valid)
	}
	assert.False(t, Simple(decimal.NullDecimal{}, decimal.NullDecimal{}).Valid)
}

func TestSimple_Monotonic(t *testing.T) {
	fixed := []int64{0, 10, 80, 300}
	for _, other := range fixed {
		prevPM, prevNO2 := decimal.NewFromInt(-1), decimal.NewFromInt(-1)
		for x := int64(0); x <= 600; x += 7 {
			byPM := Simple(decimal.NewNullDecimal(decimal.NewFromInt(x)), decimal.NewNullDecimal(decimal.NewFromInt(other)))
			byNO2 := Simple(decimal.NewNullDecimal(decimal.NewFromInt(other)), decimal.NewNullDecimal(decimal.NewFromInt(x)))
			assert.True(t, byPM.Decimal.GreaterThanOrEqual(prevPM), "pm10=%d no2=%d", x, other)
			assert.True(t, byNO2.Decimal.GreaterThanOrEqual(prevNO2), "pm10=%d no2=%d", other, x)
			prevPM, prevNO2 = byPM.Decimal, byNO2.Decimal
		}
	}
}

func TestAppendAQHI(t *testing.T) {
	rec := domain.AggregateRecord{
		City: domain.CityFields{RecordFields: domain.NewRecordFields()},
		Stations: []domain.StationFields{
			{Name: "万寿西宫", RecordFields: domain.NewRecordFields()},
			{Name: "定陵", RecordFields: domain.NewRecordFields()},
		},
	}
	rec.City.PM10 = domain.Decimal(decimal.NewFromInt(47))
	rec.City.NO2 = domain.Decimal(decimal.NewFromInt(36))
	rec.Stations[0].PM10 = domain.Decimal(decimal.NewFromInt(28))
	rec.Stations[0].NO2 = domain.Decimal(decimal.NewFromInt(11))
	rec.Stations[1].NO2 = domain.Decimal(decimal.NewFromInt(11))

	AppendAQHI(&rec)

	assert.True(t, domain.Decimal(decimal.RequireFromString("1.9008")).Equal(rec.City.AQHI))
	assert.True(t, domain.Decimal(decimal.RequireFromString("0.7358")).Equal(rec.Stations[0].AQHI))
	assert.True(t, rec.Stations[1].AQHI.IsNull())
}

func TestAddedRisk(t *testing.T) {
	r, ok := AddedRisk(domain.ColumnO3, decimal.Zero)
	require.True(t, ok)
	assert.Zero(t, r)

	r, ok = AddedRisk(domain.ColumnPM10, decimal.NewFromInt(605))
	require.True(t, ok)
	assert.InDelta(t, 18.615, r, 0.001)

	_, ok = AddedRisk(domain.ColumnCO, decimal.NewFromInt(1))
	assert.False(t, ok)
}

func TestWindowedBand(t *testing.T) {
	tests := []struct {
		name  string
		c     Concentrations
		total float64
		band  Band
	}{
		{
			name:  "above scale",
			c:     Concentrations{PM10: nd("605"), PM25: nd("579"), SO2: nd("7"), NO2: nd("12"), O3: nd("162")},
			total: 27.89,
			band:  BandAboveScale,
		},
		{
			name:  "low",
			c:     Concentrations{PM10: nd("20"), PM25: nd("10"), SO2: nd("5"), NO2: nd("20"), O3: nd("30")},
			total: 3.0789,
			band:  2,
		},
		{
			name:  "moderate",
			c:     Concentrations{PM10: nd("50"), PM25: nd("35"), SO2: nd("10"), NO2: nd("40"), O3: nd("60")},
			total: 6.4787,
			band:  4,
		},
		{
			name:  "high",
			c:     Concentrations{PM10: nd("100"), PM25: nd("75"), SO2: nd("20"), NO2: nd("60"), O3: nd("100")},
			total: 11.104,
			band:  6,
		},
		{
			name:  "all zero",
			c:     Concentrations{PM10: nd("0"), PM25: nd("0"), SO2: nd("0"), NO2: nd("0"), O3: nd("0")},
			total: 0,
			band:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, ok := TotalRisk(tt.c)
			require.True(t, ok)
			assert.InDelta(t, tt.total, total, 0.01)

			band, ok := WindowedBand(tt.c)
			require.True(t, ok)
			assert.Equal(t, tt.band, band)
		})
	}
}

func TestWindowedBand_MissingConcentration(t *testing.T) {
	full := Concentrations{PM10: nd("1"), PM25: nd("1"), SO2: nd("1"), NO2: nd("1"), O3: nd("1")}
	drops := []func(*Concentrations){
		func(c *Concentrations) { c.PM10 = decimal.NullDecimal{} },
		func(c *Concentrations) { c.PM25 = decimal.NullDecimal{} },
		func(c *Concentrations) { c.SO2 = decimal.NullDecimal{} },
		func(c *Concentrations) { c.NO2 = decimal.NullDecimal{} },
		func(c *Concentrations) { c.O3 = decimal.NullDecimal{} },
	}
	for i, drop := range drops {
		c := full
		drop(&c)
		_, ok := WindowedBand(c)
		assert.False(t, ok, "drop %d", i)
	}
}

func TestBandFor_Boundaries(t *testing.T) {
	assert.Equal(t, Band(1), BandFor(1.88))
	assert.Equal(t, Band(2), BandFor(1.8801))
	assert.Equal(t, Band(10), BandFor(19.37))
	assert.Equal(t, BandAboveScale, BandFor(19.3701))
}

func TestBand_String(t *testing.T) {
	assert.Equal(t, "4", Band(4).String())
	assert.Equal(t, "10", Band(10).String())
	assert.Equal(t, "10+", BandAboveScale.String())
	assert.True(t, BandAboveScale.AboveScale())
	assert.False(t, Band(10).AboveScale())
}

func hourly(start time.Time, n int, value func(i int) decimal.NullDecimal) []Sample {
	out := make([]Sample, n)
	for i := range n {
		out[i] = Sample{
			UpdateDtm: start.Add(time.Duration(i) * time.Hour),
			Values:    map[domain.Column]decimal.NullDecimal{domain.ColumnPM10: value(i)},
		}
	}
	return out
}

var t0 = time.Date(2016, 5, 7, 0, 0, 0, 0, time.UTC)

func TestReduceToAverageInHours_FullWindows(t *testing.T) {
	samples := hourly(t0, 9, func(i int) decimal.NullDecimal {
		return decimal.NewNullDecimal(decimal.NewFromInt(int64(i)))
	})

	windows := ReduceToAverageInHours(samples, 3, []domain.Column{domain.ColumnPM10})

	require.Len(t, windows, 3)
	// newest first, each stamped with its newest sample
	assert.Equal(t, t0.Add(8*time.Hour), windows[0].UpdateDtm)
	assert.Equal(t, t0.Add(5*time.Hour), windows[1].UpdateDtm)
	assert.Equal(t, t0.Add(2*time.Hour), windows[2].UpdateDtm)
	assert.True(t, decimal.NewFromInt(7).Equal(windows[0].Values[domain.ColumnPM10].Decimal))
	assert.True(t, decimal.NewFromInt(4).Equal(windows[1].Values[domain.ColumnPM10].Decimal))
	assert.True(t, decimal.NewFromInt(1).Equal(windows[2].Values[domain.ColumnPM10].Decimal))
}

func TestReduceToAverageInHours_DropsPartialWindow(t *testing.T) {
	samples := hourly(t0, 8, func(int) decimal.NullDecimal { return nd("1") })

	windows := ReduceToAverageInHours(samples, 3, []domain.Column{domain.ColumnPM10})
	assert.Len(t, windows, 2)
	assert.Equal(t, t0.Add(7*time.Hour), windows[0].UpdateDtm)
	assert.Equal(t, t0.Add(4*time.Hour), windows[1].UpdateDtm)

	assert.Empty(t, ReduceToAverageInHours(samples[:2], 3, []domain.Column{domain.ColumnPM10}))
	assert.Empty(t, ReduceToAverageInHours(nil, 3, []domain.Column{domain.ColumnPM10}))
	assert.Empty(t, ReduceToAverageInHours(samples, 0, []domain.Column{domain.ColumnPM10}))
}

func TestReduceToAverageInHours_UnsortedInput(t *testing.T) {
	samples := hourly(t0, 6, func(i int) decimal.NullDecimal {
		return decimal.NewNullDecimal(decimal.NewFromInt(int64(i * 10)))
	})
	shuffled := []Sample{samples[3], samples[0], samples[5], samples[1], samples[4], samples[2]}

	windows := ReduceToAverageInHours(shuffled, 3, []domain.Column{domain.ColumnPM10})

	require.Len(t, windows, 2)
	assert.True(t, decimal.NewFromInt(40).Equal(windows[0].Values[domain.ColumnPM10].Decimal))
	assert.True(t, decimal.NewFromInt(10).Equal(windows[1].Values[domain.ColumnPM10].Decimal))
}

func TestReduceToAverageInHours_Nulls(t *testing.T) {
	samples := hourly(t0, 3, func(i int) decimal.NullDecimal {
		if i == 1 {
			return nd("30")
		}
		return decimal.NullDecimal{}
	})
	fields := []domain.Column{domain.ColumnPM10, domain.ColumnNO2}

	windows := ReduceToAverageInHours(samples, 3, fields)
	require.Len(t, windows, 1)
	assert.True(t, decimal.NewFromInt(30).Equal(windows[0].Values[domain.ColumnPM10].Decimal))
	assert.False(t, windows[0].Values[domain.ColumnNO2].Valid)

	zero := WithDefault(func(domain.Column, Sample) decimal.NullDecimal { return nd("0") })
	windows = ReduceToAverageInHours(samples, 3, fields, zero)
	require.Len(t, windows, 1)
	assert.True(t, decimal.NewFromInt(10).Equal(windows[0].Values[domain.ColumnPM10].Decimal))
	assert.True(t, windows[0].Values[domain.ColumnNO2].Valid)
	assert.True(t, decimal.Zero.Equal(windows[0].Values[domain.ColumnNO2].Decimal))

	stillNull := WithDefault(func(domain.Column, Sample) decimal.NullDecimal { return decimal.NullDecimal{} })
	windows = ReduceToAverageInHours(samples, 3, fields, stillNull)
	assert.False(t, windows[0].Values[domain.ColumnNO2].Valid)
}

func TestSeries(t *testing.T) {
	values := map[domain.Column]decimal.NullDecimal{
		domain.ColumnPM10: nd("605"),
		domain.ColumnPM25: nd("579"),
		domain.ColumnSO2:  nd("7"),
		domain.ColumnNO2:  nd("12"),
		domain.ColumnO3:   nd("162"),
	}
	samples := make([]Sample, 0, 7)
	for i := range 6 {
		samples = append(samples, Sample{UpdateDtm: t0.Add(time.Duration(i) * time.Hour), Values: values})
	}
	// the oldest window lacks o3 entirely
	samples[0].Values = map[domain.Column]decimal.NullDecimal{domain.ColumnPM10: nd("605")}
	samples[1].Values = samples[0].Values
	samples[2].Values = samples[0].Values
	samples = append(samples, Sample{UpdateDtm: t0.Add(-time.Hour), Values: values})

	points := Series(samples, WindowHours)

	require.Len(t, points, 2)
	assert.True(t, points[0].Valid)
	assert.Equal(t, BandAboveScale, points[0].Band)
	assert.Equal(t, t0.Add(5*time.Hour), points[0].UpdateDtm)
	assert.False(t, points[1].Valid)
}

func TestSampleFrom(t *testing.T) {
	rec := domain.CityRecord{UpdateDtm: t0}
	rec.PM10 = nd("47")

	s := SampleFrom(rec)

	assert.Equal(t, t0, s.UpdateDtm)
	assert.True(t, s.Values[domain.ColumnPM10].Valid)
	assert.False(t, s.Values[domain.ColumnNO2].Valid)
}

func TestPoint_MarshalJSON(t *testing.T) {
	above := Point{UpdateDtm: t0, Band: BandAboveScale, Valid: true, Concentrations: Concentrations{PM10: nd("605")}}
	b, err := json.Marshal(above)
	require.NoError(t, err)
	assert.JSONEq(t, `{"update_dtm":"2016-05-07T00:00:00Z","band":"10+","above_scale":true,
		"pm10":"605","pm2_5":null,"so2":null,"no2":null,"o3":null}`, string(b))

	b, err = json.Marshal(Point{UpdateDtm: t0, Band: 4, Valid: true})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"band":"4","above_scale":false`)

	b, err = json.Marshal(Point{UpdateDtm: t0})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"band":null`)
}
