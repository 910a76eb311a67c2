package aqhi

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/couchcryptid/aqhi-etl/internal/domain"
)

// WindowHours is the averaging window of the windowed index.
const WindowHours = 3

// Sample is one stored hourly reading.
type Sample struct {
	UpdateDtm time.Time
	Values    map[domain.Column]decimal.NullDecimal
}

// Window is the mean of a run of samples, stamped with the newest sample's
// time.
type Window struct {
	UpdateDtm time.Time
	Values    map[domain.Column]decimal.NullDecimal
}

// DefaultFunc may substitute a value for a null sample value before
// averaging. Returning an invalid NullDecimal keeps the value null.
type DefaultFunc func(c domain.Column, s Sample) decimal.NullDecimal

type reduceOptions struct {
	fallback DefaultFunc
}

// Option configures ReduceToAverageInHours.
type Option func(*reduceOptions)

// WithDefault sets the substitute for null sample values.
func WithDefault(fn DefaultFunc) Option {
	return func(o *reduceOptions) { o.fallback = fn }
}

// ReduceToAverageInHours sorts samples newest first, cuts them into
// consecutive chunks of exactly hours samples and averages each field over
// the non-null values of each chunk. A trailing chunk with fewer samples is
// dropped. A field with no values in a chunk averages to null.
func ReduceToAverageInHours(samples []Sample, hours int, fields []domain.Column, opts ...Option) []Window {
	var o reduceOptions
	for _, opt := range opts {
		opt(&o)
	}

	if hours <= 0 || len(samples) < hours {
		return []Window{}
	}

	sorted := slices.Clone(samples)
	slices.SortStableFunc(sorted, func(a, b Sample) int {
		return b.UpdateDtm.Compare(a.UpdateDtm)
	})

	windows := make([]Window, 0, len(sorted)/hours)
	for start := 0; start+hours <= len(sorted); start += hours {
		chunk := sorted[start : start+hours]
		w := Window{
			UpdateDtm: chunk[0].UpdateDtm,
			Values:    make(map[domain.Column]decimal.NullDecimal, len(fields)),
		}
		for _, f := range fields {
			w.Values[f] = mean(chunk, f, o.fallback)
		}
		windows = append(windows, w)
	}
	return windows
}

func mean(chunk []Sample, f domain.Column, fallback DefaultFunc) decimal.NullDecimal {
	sum := decimal.Zero
	n := 0
	for _, s := range chunk {
		v := s.Values[f]
		if !v.Valid && fallback != nil {
			v = fallback(f, s)
		}
		if !v.Valid {
			continue
		}
		sum = sum.Add(v.Decimal)
		n++
	}
	if n == 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(sum.Div(decimal.NewFromInt(int64(n))))
}

// Point is one windowed index value.
type Point struct {
	UpdateDtm      time.Time
	Band           Band
	Valid          bool
	Concentrations Concentrations
}

// MarshalJSON renders the band as its label ("10+" past the scale) or null
// when the window is missing an input.
func (p Point) MarshalJSON() ([]byte, error) {
	var band *string
	if p.Valid {
		label := p.Band.String()
		band = &label
	}
	return json.Marshal(struct {
		UpdateDtm  time.Time           `json:"update_dtm"`
		Band       *string             `json:"band"`
		AboveScale bool                `json:"above_scale"`
		PM10       decimal.NullDecimal `json:"pm10"`
		PM25       decimal.NullDecimal `json:"pm2_5"`
		SO2        decimal.NullDecimal `json:"so2"`
		NO2        decimal.NullDecimal `json:"no2"`
		O3         decimal.NullDecimal `json:"o3"`
	}{
		UpdateDtm:  p.UpdateDtm,
		Band:       band,
		AboveScale: p.Valid && p.Band.AboveScale(),
		PM10:       p.Concentrations.PM10,
		PM25:       p.Concentrations.PM25,
		SO2:        p.Concentrations.SO2,
		NO2:        p.Concentrations.NO2,
		O3:         p.Concentrations.O3,
	})
}

// Series averages samples over windows of the given hours and derives the
// windowed band of each window. Averaging happens before deriving.
func Series(samples []Sample, hours int) []Point {
	windows := ReduceToAverageInHours(samples, hours, WindowColumns)
	points := make([]Point, 0, len(windows))
	for _, w := range windows {
		c := ConcentrationsFrom(w.Values)
		band, ok := WindowedBand(c)
		points = append(points, Point{
			UpdateDtm:      w.UpdateDtm,
			Band:           band,
			Valid:          ok,
			Concentrations: c,
		})
	}
	return points
}

// SampleFrom turns a stored city record into a Sample.
func SampleFrom(rec domain.CityRecord) Sample {
	values := make(map[domain.Column]decimal.NullDecimal, len(domain.NumericColumns))
	for _, c := range domain.NumericColumns {
		values[c] = rec.Measure(c)
	}
	return Sample{UpdateDtm: rec.UpdateDtm, Values: values}
}
