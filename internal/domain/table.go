package domain

import "encoding/json"

// FieldName is one of the closed set of fields the rule tables key against.
type FieldName string

const (
	FieldCityQualityNames    FieldName = "city_quality_names"
	FieldCityQualityValues   FieldName = "city_quality_values"
	FieldAreaCN              FieldName = "area_cn"
	FieldUpdateDtm           FieldName = "update_dtm"
	FieldQuality             FieldName = "quality"
	FieldPrimaryPollutant    FieldName = "primary_pollutant"
	FieldStationQualityNames FieldName = "station_quality_names"
	FieldStationQualityRows  FieldName = "station_quality_rows"
)

// Fields lists the field vocabulary in page order.
var Fields = []FieldName{
	FieldCityQualityNames,
	FieldCityQualityValues,
	FieldAreaCN,
	FieldUpdateDtm,
	FieldQuality,
	FieldPrimaryPollutant,
	FieldStationQualityNames,
	FieldStationQualityRows,
}

// RawField holds the extracted strings of one field. Tabular fields carry
// rows of cells, the rest a flat list.
type RawField struct {
	Values  []string
	Rows    [][]string
	Tabular bool
}

// RawList builds a one-dimensional raw field.
func RawList(values ...string) RawField {
	if values == nil {
		values = []string{}
	}
	return RawField{Values: values}
}

// RawRows builds a tabular raw field.
func RawRows(rows ...[]string) RawField {
	if rows == nil {
		rows = [][]string{}
	}
	return RawField{Rows: rows, Tabular: true}
}

// RawFieldTable is the extractor's output. Every configured field is present.
type RawFieldTable map[FieldName]RawField

// ParsedField is a RawField after the pattern pipeline ran over it.
type ParsedField struct {
	Values  []Value
	Rows    [][]Value
	Tabular bool
}

// Scalar returns the bare element of a one-element list field. Tabular
// fields never collapse.
func (f ParsedField) Scalar() (Value, bool) {
	if f.Tabular || len(f.Values) != 1 {
		return Value{}, false
	}
	return f.Values[0], true
}

// Items returns the field as a list, whether or not it collapsed.
func (f ParsedField) Items() []Value {
	return f.Values
}

func (f ParsedField) MarshalJSON() ([]byte, error) {
	if v, ok := f.Scalar(); ok {
		return json.Marshal(v)
	}
	if f.Tabular {
		if f.Rows == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(f.Rows)
	}
	if f.Values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(f.Values)
}

// ParsedFieldTable has the same keys as the RawFieldTable it came from.
type ParsedFieldTable map[FieldName]ParsedField
