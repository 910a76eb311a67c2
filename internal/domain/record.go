package domain

import (
	"encoding/json"
	"time"
)

// Column is a canonical record column code produced by the constant table.
type Column string

const (
	ColumnAQI     Column = "aqi"
	ColumnPM25    Column = "pm2_5"
	ColumnPM10    Column = "pm10"
	ColumnCO      Column = "co"
	ColumnNO2     Column = "no2"
	ColumnO3      Column = "o3"
	ColumnO3Avg8h Column = "o3_8h"
	ColumnSO2     Column = "so2"
	ColumnAQHI    Column = "aqhi"

	ColumnName             Column = "name"
	ColumnQuality          Column = "quality"
	ColumnPrimaryPollutant Column = "primary_pollutant"
)

// NumericColumns are the eight pollutant/AQI columns whose empty placeholder
// means "no data".
var NumericColumns = []Column{
	ColumnAQI, ColumnCO, ColumnNO2, ColumnO3, ColumnO3Avg8h, ColumnPM10, ColumnPM25, ColumnSO2,
}

// Quality is the six-level air quality band.
type Quality string

const (
	QualityExcellent          Quality = "E"
	QualityGood               Quality = "G"
	QualityLightlyPolluted    Quality = "LP"
	QualityModeratelyPolluted Quality = "MP"
	QualityHeavilyPolluted    Quality = "HP"
	QualitySeverelyPolluted   Quality = "SP"
)

// Pollutant is a primary pollutant code.
type Pollutant string

const (
	PollutantCO      Pollutant = "co"
	PollutantNO2     Pollutant = "no2"
	PollutantO3      Pollutant = "o3"
	PollutantO3Avg8h Pollutant = "o3_8h"
	PollutantPM10    Pollutant = "pm10"
	PollutantPM25    Pollutant = "pm2_5"
	PollutantSO2     Pollutant = "so2"
)

// RecordFields are the loosely typed measurements of one city or station
// before validation. Slots keep whatever the parser produced, including
// unresolved values, so the record builder can report them precisely.
type RecordFields struct {
	AQI     Value
	CO      Value
	NO2     Value
	O3      Value
	O3Avg8h Value
	PM10    Value
	PM25    Value
	SO2     Value
	AQHI    Value
	Quality Value

	PrimaryPollutant []Value

	// Extra holds columns whose label resolved to no known column, keyed by
	// the source label.
	Extra map[string]Value
}

// NewRecordFields returns fields with every measurement set to Null.
func NewRecordFields() RecordFields {
	return RecordFields{
		AQI:     Null(),
		CO:      Null(),
		NO2:     Null(),
		O3:      Null(),
		O3Avg8h: Null(),
		PM10:    Null(),
		PM25:    Null(),
		SO2:     Null(),
		AQHI:    Null(),
		Quality: Text(""),
	}
}

func (f *RecordFields) slot(c Column) *Value {
	switch c {
	case ColumnAQI:
		return &f.AQI
	case ColumnCO:
		return &f.CO
	case ColumnNO2:
		return &f.NO2
	case ColumnO3:
		return &f.O3
	case ColumnO3Avg8h:
		return &f.O3Avg8h
	case ColumnPM10:
		return &f.PM10
	case ColumnPM25:
		return &f.PM25
	case ColumnSO2:
		return &f.SO2
	case ColumnAQHI:
		return &f.AQHI
	case ColumnQuality:
		return &f.Quality
	default:
		return nil
	}
}

// Set stores v under the column named by label. A label that is not a
// resolved column code lands in Extra.
func (f *RecordFields) Set(label Value, v Value) {
	code, ok := label.AsText()
	if ok {
		c := Column(code)
		if c == ColumnPrimaryPollutant {
			f.PrimaryPollutant = []Value{v}
			return
		}
		if s := f.slot(c); s != nil {
			*s = v
			return
		}
	}
	if f.Extra == nil {
		f.Extra = make(map[string]Value)
	}
	f.Extra[label.Raw()] = v
}

// Get returns the value stored for a measurement or quality column.
func (f *RecordFields) Get(c Column) (Value, bool) {
	s := f.slot(c)
	if s == nil {
		return Value{}, false
	}
	return *s, true
}

// NormalizeEmpty rewrites an empty placeholder in any numeric column to Null.
func (f *RecordFields) NormalizeEmpty() {
	for _, c := range NumericColumns {
		s := f.slot(c)
		if text, ok := s.AsText(); ok && text == "" {
			*s = Null()
		}
	}
}

func (f RecordFields) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		string(ColumnAQI):              f.AQI,
		string(ColumnCO):               f.CO,
		string(ColumnNO2):              f.NO2,
		string(ColumnO3):               f.O3,
		string(ColumnO3Avg8h):          f.O3Avg8h,
		string(ColumnPM10):             f.PM10,
		string(ColumnPM25):             f.PM25,
		string(ColumnSO2):              f.SO2,
		string(ColumnAQHI):             f.AQHI,
		string(ColumnQuality):          f.Quality,
		string(ColumnPrimaryPollutant): f.PrimaryPollutant,
	}
	for k, v := range f.Extra {
		out[k] = v
	}
	return json.Marshal(out)
}

// CityFields are the city-level measurements plus the page's city name.
type CityFields struct {
	RecordFields
	AreaCN Value
}

func (c CityFields) MarshalJSON() ([]byte, error) {
	inner, err := json.Marshal(c.RecordFields)
	if err != nil {
		return nil, err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(inner, &out); err != nil {
		return nil, err
	}
	area, err := json.Marshal(c.AreaCN)
	if err != nil {
		return nil, err
	}
	out["area_cn"] = area
	return json.Marshal(out)
}

// StationFields are one station row keyed by its name cell.
type StationFields struct {
	Name string `json:"name"`
	RecordFields
}

func (s StationFields) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name   string       `json:"name"`
		Fields RecordFields `json:"fields"`
	}{s.Name, s.RecordFields})
}

// AggregateRecord is one page reshaped into a city record and its station
// records. Stations keep page row order.
type AggregateRecord struct {
	City      CityFields      `json:"city"`
	Stations  []StationFields `json:"stations"`
	UpdateDtm Value           `json:"update_dtm"`
}

// Station looks a station up by name.
func (a *AggregateRecord) Station(name string) (*RecordFields, bool) {
	for i := range a.Stations {
		if a.Stations[i].Name == name {
			return &a.Stations[i].RecordFields, true
		}
	}
	return nil, false
}

// StationNames returns the station keys in row order.
func (a AggregateRecord) StationNames() []string {
	names := make([]string, len(a.Stations))
	for i, s := range a.Stations {
		names[i] = s.Name
	}
	return names
}

// Timestamp returns the resolved update time.
func (a AggregateRecord) Timestamp() (time.Time, bool) {
	return a.UpdateDtm.AsTime()
}
