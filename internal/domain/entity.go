package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Limits of every stored measurement and coordinate column.
const (
	MaxDigits     = 8
	DecimalPlaces = 4
)

// City is a registered city, keyed by its lower-case English name.
type City struct {
	Key       string              `db:"key" json:"key" validate:"required,lowercase,max=30"`
	NameCN    string              `db:"name_cn" json:"name_cn" validate:"max=50"`
	Longitude decimal.NullDecimal `db:"longitude" json:"longitude" validate:"measure"`
	Latitude  decimal.NullDecimal `db:"latitude" json:"latitude" validate:"measure"`
}

// Station is a monitoring station, unique by name within its city.
type Station struct {
	ID        int64               `db:"id" json:"id"`
	CityKey   string              `db:"city_key" json:"city_key" validate:"required"`
	NameCN    string              `db:"name_cn" json:"name_cn" validate:"required,max=50"`
	Longitude decimal.NullDecimal `db:"longitude" json:"longitude" validate:"measure"`
	Latitude  decimal.NullDecimal `db:"latitude" json:"latitude" validate:"measure"`
}

// Measurements are the validated measurement columns shared by city and
// station records.
type Measurements struct {
	AQI     decimal.NullDecimal `db:"aqi" json:"aqi" validate:"measure"`
	AQHI    decimal.NullDecimal `db:"aqhi" json:"aqhi" validate:"measure"`
	CO      decimal.NullDecimal `db:"co" json:"co" validate:"measure"`
	NO2     decimal.NullDecimal `db:"no2" json:"no2" validate:"measure"`
	O3      decimal.NullDecimal `db:"o3" json:"o3" validate:"measure"`
	O3Avg8h decimal.NullDecimal `db:"o3_8h" json:"o3_8h" validate:"measure"`
	PM10    decimal.NullDecimal `db:"pm10" json:"pm10" validate:"measure"`
	PM25    decimal.NullDecimal `db:"pm2_5" json:"pm2_5" validate:"measure"`
	SO2     decimal.NullDecimal `db:"so2" json:"so2" validate:"measure"`
	Quality Quality             `db:"quality" json:"quality" validate:"omitempty,oneof=E G LP MP HP SP"`
}

func (m *Measurements) slot(c Column) *decimal.NullDecimal {
	switch c {
	case ColumnAQI:
		return &m.AQI
	case ColumnAQHI:
		return &m.AQHI
	case ColumnCO:
		return &m.CO
	case ColumnNO2:
		return &m.NO2
	case ColumnO3:
		return &m.O3
	case ColumnO3Avg8h:
		return &m.O3Avg8h
	case ColumnPM10:
		return &m.PM10
	case ColumnPM25:
		return &m.PM25
	case ColumnSO2:
		return &m.SO2
	default:
		return nil
	}
}

// Measure returns the stored value of a decimal column.
func (m Measurements) Measure(c Column) decimal.NullDecimal {
	if s := m.slot(c); s != nil {
		return *s
	}
	return decimal.NullDecimal{}
}

// CityRecord is one validated city-level reading.
type CityRecord struct {
	ID        int64     `db:"id" json:"id"`
	CityKey   string    `db:"city_key" json:"city" validate:"required"`
	UpdateDtm time.Time `db:"update_dtm" json:"update_dtm" validate:"required"`
	Measurements
	PrimaryPollutants []Pollutant `db:"-" json:"primary_pollutants" validate:"unique,dive,oneof=co no2 o3 o3_8h pm10 pm2_5 so2"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
}

// StationRecord is one validated station-level reading under a city record.
type StationRecord struct {
	ID           int64  `db:"id" json:"id"`
	CityRecordID int64  `db:"city_record_id" json:"city_record_id"`
	StationID    int64  `db:"station_id" json:"station_id" validate:"required"`
	StationName  string `db:"-" json:"station" validate:"required"`
	Measurements
	PrimaryPollutants []Pollutant `db:"-" json:"primary_pollutants" validate:"unique,dive,oneof=co no2 o3 o3_8h pm10 pm2_5 so2"`
}

var decimalColumns = []Column{
	ColumnAQI, ColumnAQHI, ColumnCO, ColumnNO2, ColumnO3, ColumnO3Avg8h, ColumnPM10, ColumnPM25, ColumnSO2,
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		nd, ok := field.Interface().(decimal.NullDecimal)
		if !ok || !nd.Valid {
			return ""
		}
		return nd.Decimal.String()
	}, decimal.NullDecimal{})
	if err := v.RegisterValidation("measure", func(fl validator.FieldLevel) bool {
		return measureProblem(fl.Field().String()) == ""
	}); err != nil {
		panic(err)
	}
	return v
}

// measureProblem describes why s does not fit a NUMERIC(8,4) column, or
// returns "" if it does. The empty string is a null value and always fits.
func measureProblem(s string) string {
	if s == "" {
		return ""
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "must be a decimal number"
	}
	return digitProblem(d)
}

func digitProblem(d decimal.Decimal) string {
	coef := d.Coefficient()
	ndigits := len(coef.Abs(coef).String())
	exp := int(d.Exponent())

	var digits, decimals int
	if exp >= 0 {
		digits = ndigits + exp
		if coef.Sign() == 0 {
			digits = 1
		}
	} else if -exp > ndigits {
		digits, decimals = -exp, -exp
	} else {
		digits, decimals = ndigits, -exp
	}

	switch {
	case digits > MaxDigits:
		return fmt.Sprintf("ensure that there are no more than %d digits in total", MaxDigits)
	case decimals > DecimalPlaces:
		return fmt.Sprintf("ensure that there are no more than %d decimal places", DecimalPlaces)
	case digits-decimals > MaxDigits-DecimalPlaces:
		return fmt.Sprintf("ensure that there are no more than %d digits before the decimal point", MaxDigits-DecimalPlaces)
	}
	return ""
}

// NewCity builds a validated City. The key is lower-cased.
func NewCity(key, nameCN string) (City, error) {
	c := City{Key: strings.ToLower(strings.TrimSpace(key)), NameCN: nameCN}
	return c, check(c)
}

// NewStation builds a validated Station.
func NewStation(cityKey, nameCN string) (Station, error) {
	s := Station{CityKey: cityKey, NameCN: nameCN}
	if err := validate.StructPartial(s, "CityKey", "NameCN"); err != nil {
		return s, translate(err)
	}
	return s, nil
}

// ValidateCoordinates checks a longitude/latitude pair against the column
// limits.
func ValidateCoordinates(lng, lat decimal.NullDecimal) error {
	var verr ValidationError
	if lng.Valid {
		if msg := digitProblem(lng.Decimal); msg != "" {
			verr.Add("longitude", msg)
		}
	}
	if lat.Valid {
		if msg := digitProblem(lat.Decimal); msg != "" {
			verr.Add("latitude", msg)
		}
	}
	if verr.Empty() {
		return nil
	}
	return &verr
}

// NewCityRecord validates the identifying fields first, then converts and
// validates the measurements. An unresolved non-numeric decimal column is
// a *ValueError, every other problem a *ValidationError.
func NewCityRecord(cityKey string, updateDtm time.Time, fields RecordFields) (CityRecord, error) {
	rec := CityRecord{CityKey: cityKey, UpdateDtm: updateDtm.UTC()}
	if err := validate.StructPartial(rec, "CityKey", "UpdateDtm"); err != nil {
		return rec, translate(err)
	}

	m, pollutants, err := convert(fields)
	var ve *ValueError
	if errors.As(err, &ve) {
		return rec, err
	}
	rec.Measurements = m
	rec.PrimaryPollutants = pollutants
	return rec, merge(err, check(rec))
}

// NewStationRecord is the station counterpart of NewCityRecord.
func NewStationRecord(cityRecordID int64, station Station, fields RecordFields) (StationRecord, error) {
	rec := StationRecord{CityRecordID: cityRecordID, StationID: station.ID, StationName: station.NameCN}
	if err := validate.StructPartial(rec, "StationID", "StationName"); err != nil {
		return rec, translate(err)
	}

	m, pollutants, err := convert(fields)
	var ve *ValueError
	if errors.As(err, &ve) {
		return rec, err
	}
	rec.Measurements = m
	rec.PrimaryPollutants = pollutants
	return rec, merge(err, check(rec))
}

// convert turns loosely typed fields into measurements. Problems other than
// a ValueError are returned as a *ValidationError alongside the partial
// result so callers can report them together with the tag checks.
func convert(f RecordFields) (Measurements, []Pollutant, error) {
	var (
		m    Measurements
		verr ValidationError
	)

	for _, c := range decimalColumns {
		v, _ := f.Get(c)
		d, err := toNullDecimal(c, v)
		if err != nil {
			var ve *ValueError
			if errors.As(err, &ve) {
				return m, nil, err
			}
			verr.Add(string(c), err.Error())
			continue
		}
		*m.slot(c) = d
	}

	switch f.Quality.Kind() {
	case KindText:
		q, _ := f.Quality.AsText()
		m.Quality = Quality(q)
	case KindNull:
	default:
		verr.Add(string(ColumnQuality), fmt.Sprintf("%q is not a valid choice", f.Quality.Raw()))
	}

	pollutants := make([]Pollutant, 0, len(f.PrimaryPollutant))
	for _, v := range f.PrimaryPollutant {
		switch v.Kind() {
		case KindNull:
			continue
		case KindText:
			code, _ := v.AsText()
			if code == "" {
				continue
			}
			pollutants = append(pollutants, Pollutant(code))
		default:
			pollutants = append(pollutants, Pollutant(v.Raw()))
		}
	}

	for label := range f.Extra {
		verr.Add(label, "unknown column")
	}

	if !verr.Empty() {
		return m, pollutants, &verr
	}
	return m, pollutants, nil
}

func toNullDecimal(c Column, v Value) (decimal.NullDecimal, error) {
	switch v.Kind() {
	case KindNull:
		return decimal.NullDecimal{}, nil
	case KindDecimal:
		return v.NullDecimal(), nil
	case KindUnresolved:
		d, err := decimal.NewFromString(strings.TrimSpace(v.Raw()))
		if err != nil {
			return decimal.NullDecimal{}, &ValueError{Field: string(c), Value: v.Raw()}
		}
		return decimal.NullDecimal{Decimal: d, Valid: true}, nil
	case KindText:
		s, _ := v.AsText()
		if s == "" {
			return decimal.NullDecimal{}, nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.NullDecimal{}, fmt.Errorf("%q must be a decimal number", s)
		}
		return decimal.NullDecimal{Decimal: d, Valid: true}, nil
	default:
		return decimal.NullDecimal{}, fmt.Errorf("%q must be a decimal number", v.Raw())
	}
}

func check(v any) error {
	if err := validate.Struct(v); err != nil {
		return translate(err)
	}
	return nil
}

// merge folds several validation results into one *ValidationError. Any
// other error is returned as is.
func merge(errs ...error) error {
	var out ValidationError
	for _, err := range errs {
		if err == nil {
			continue
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			return err
		}
		for field, msgs := range verr.Fields {
			for _, msg := range msgs {
				out.Add(field, msg)
			}
		}
	}
	if out.Empty() {
		return nil
	}
	return &out
}

func translate(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	var verr ValidationError
	for _, fe := range fieldErrs {
		field, _, _ := strings.Cut(fe.Field(), "[")
		verr.Add(field, message(fe))
	}
	return &verr
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("%q is not a valid choice", fe.Value())
	case "unique":
		return "contains duplicates"
	case "lowercase":
		return "must be lower case"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "measure":
		switch v := fe.Value().(type) {
		case string:
			return measureProblem(v)
		case decimal.NullDecimal:
			return digitProblem(v.Decimal)
		}
		return "must be a decimal number"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// RecordSet is a city record together with the station records created in
// the same transaction.
type RecordSet struct {
	City     CityRecord      `json:"city_record"`
	Stations []StationRecord `json:"station_records"`
}
