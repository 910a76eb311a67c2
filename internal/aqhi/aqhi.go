// Package aqhi computes the Air Quality Health Index from pollutant
// concentrations.
//
// Two formulas are provided. Simple is the instantaneous two-pollutant index
// stored with every record. WindowedBand is the five-pollutant index over
// three-hour averages, mapped to a 1..10 band with an open "10+" band above
// the scale.
package aqhi

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/couchcryptid/aqhi-etl/internal/domain"
)

// Precision is the number of decimal places kept for a computed index.
const Precision = domain.DecimalPlaces

const simpleScale = 10 / 16.4 * 100

// Simple returns 10/16.4 * 100 * (e^(0.00019*pm10) - 1 + e^(0.00061*no2) - 1)
// rounded to Precision places. It is null if either input is null.
func Simple(pm10, no2 decimal.NullDecimal) decimal.NullDecimal {
	if !pm10.Valid || !no2.Valid {
		return decimal.NullDecimal{}
	}
	p := pm10.Decimal.InexactFloat64()
	n := no2.Decimal.InexactFloat64()
	x := simpleScale * (math.Expm1(0.00019*p) + math.Expm1(0.00061*n))
	return decimal.NewNullDecimal(decimal.NewFromFloat(x).Round(Precision))
}

// AppendAQHI sets the simple index on the city and every station of rec.
func AppendAQHI(rec *domain.AggregateRecord) {
	appendTo(&rec.City.RecordFields)
	for i := range rec.Stations {
		appendTo(&rec.Stations[i].RecordFields)
	}
}

func appendTo(f *domain.RecordFields) {
	f.AQHI = domain.NullableDecimal(Simple(f.PM10.NullDecimal(), f.NO2.NullDecimal()))
}

// Published added-risk coefficients per unit of three-hour average
// concentration.
var coefficients = map[domain.Column]float64{
	domain.ColumnNO2:  0.0004462559,
	domain.ColumnSO2:  0.0001393235,
	domain.ColumnO3:   0.0005116328,
	domain.ColumnPM10: 0.0002821751,
	domain.ColumnPM25: 0.0002180567,
}

// WindowColumns are the pollutants the windowed index needs.
var WindowColumns = []domain.Column{
	domain.ColumnPM10, domain.ColumnPM25, domain.ColumnSO2, domain.ColumnNO2, domain.ColumnO3,
}

// Breakpoints are the ascending upper bounds of bands 1 through 10.
var Breakpoints = []float64{1.88, 3.76, 5.64, 7.52, 9.41, 11.29, 12.91, 15.07, 17.22, 19.37}

// Band is a windowed index band. Bands 1..10 follow Breakpoints;
// BandAboveScale means the total risk exceeds the last breakpoint.
type Band int

const BandAboveScale Band = 11

// AboveScale reports whether b is the open band past 10.
func (b Band) AboveScale() bool { return b >= BandAboveScale }

func (b Band) String() string {
	if b.AboveScale() {
		return "10+"
	}
	return strconv.Itoa(int(b))
}

// AddedRisk returns (e^(coefficient*avg3h) - 1) * 100 for the pollutant in
// column c. It reports false for a column without a published coefficient.
func AddedRisk(c domain.Column, avg3h decimal.Decimal) (float64, bool) {
	coef, ok := coefficients[c]
	if !ok {
		return 0, false
	}
	return math.Expm1(coef*avg3h.InexactFloat64()) * 100, true
}

// Concentrations are three-hour average concentrations.
type Concentrations struct {
	PM10 decimal.NullDecimal
	PM25 decimal.NullDecimal
	SO2  decimal.NullDecimal
	NO2  decimal.NullDecimal
	O3   decimal.NullDecimal
}

// ConcentrationsFrom picks the window columns out of a value map.
func ConcentrationsFrom(values map[domain.Column]decimal.NullDecimal) Concentrations {
	return Concentrations{
		PM10: values[domain.ColumnPM10],
		PM25: values[domain.ColumnPM25],
		SO2:  values[domain.ColumnSO2],
		NO2:  values[domain.ColumnNO2],
		O3:   values[domain.ColumnO3],
	}
}

func (c Concentrations) complete() bool {
	return c.PM10.Valid && c.PM25.Valid && c.SO2.Valid && c.NO2.Valid && c.O3.Valid
}

// TotalRisk sums the added risks of no2, so2, o3 and the worse of the two
// particulate measures. It reports false if any concentration is null.
func TotalRisk(c Concentrations) (float64, bool) {
	if !c.complete() {
		return 0, false
	}
	risk := func(col domain.Column, d decimal.NullDecimal) float64 {
		r, _ := AddedRisk(col, d.Decimal)
		return r
	}
	particulate := math.Max(risk(domain.ColumnPM10, c.PM10), risk(domain.ColumnPM25, c.PM25))
	return particulate +
		risk(domain.ColumnNO2, c.NO2) +
		risk(domain.ColumnSO2, c.SO2) +
		risk(domain.ColumnO3, c.O3), true
}

// BandFor maps a total risk to the 1-indexed position of the first
// breakpoint not below it, or BandAboveScale.
func BandFor(totalRisk float64) Band {
	for i, bp := range Breakpoints {
		if totalRisk <= bp {
			return Band(i + 1)
		}
	}
	return BandAboveScale
}

// WindowedBand computes the windowed index band. It reports false if any
// of the five concentrations is null.
func WindowedBand(c Concentrations) (Band, bool) {
	total, ok := TotalRisk(c)
	if !ok {
		return 0, false
	}
	return BandFor(total), true
}
