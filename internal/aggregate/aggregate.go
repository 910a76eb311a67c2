// Package aggregate reshapes a parsed field table into one city record and
// its per-station records.
package aggregate

import (
	"strings"

	"github.com/couchcryptid/aqhi-etl/internal/domain"
)

// Aggregate builds the city and station records of one page.
//
// The city record zips city_quality_names with city_quality_values and adds
// area_cn, quality and primary_pollutant. Each station row is keyed by the
// source text of its name cell; the other cells are zipped with the other
// headers in column order. Empty placeholders in numeric columns become
// Null.
func Aggregate(parsed domain.ParsedFieldTable) (domain.AggregateRecord, error) {
	city := cityFields(parsed)

	stations, err := stationFields(
		parsed[domain.FieldStationQualityNames].Items(),
		parsed[domain.FieldStationQualityRows].Rows,
	)
	if err != nil {
		return domain.AggregateRecord{}, err
	}

	rec := domain.AggregateRecord{
		City:      city,
		Stations:  stations,
		UpdateDtm: domain.Null(),
	}
	if v, ok := parsed[domain.FieldUpdateDtm].Scalar(); ok {
		rec.UpdateDtm = v
	}
	return rec, nil
}

// cityFields zips names with values up to the shorter of the two.
func cityFields(parsed domain.ParsedFieldTable) domain.CityFields {
	names := parsed[domain.FieldCityQualityNames].Items()
	values := parsed[domain.FieldCityQualityValues].Items()

	city := domain.CityFields{RecordFields: domain.NewRecordFields(), AreaCN: domain.Null()}
	for i := range min(len(names), len(values)) {
		city.Set(names[i], values[i])
	}

	if v, ok := single(parsed[domain.FieldAreaCN]); ok {
		city.AreaCN = v
	}
	if v, ok := single(parsed[domain.FieldQuality]); ok {
		city.Quality = v
	}
	if items := parsed[domain.FieldPrimaryPollutant].Items(); len(items) > 0 {
		city.PrimaryPollutant = items
	}

	city.NormalizeEmpty()
	return city
}

// single returns the one value of a scalar field. A field that extracted
// to several values comes back unresolved with their source text joined, so
// the record builder rejects it instead of storing a blank.
func single(f domain.ParsedField) (domain.Value, bool) {
	if v, ok := f.Scalar(); ok {
		return v, true
	}
	if f.Tabular || len(f.Values) < 2 {
		return domain.Value{}, false
	}
	raws := make([]string, len(f.Values))
	for i, v := range f.Values {
		raws[i] = v.Raw()
	}
	return domain.Unresolved(strings.Join(raws, " ")), true
}

func stationFields(header []domain.Value, rows [][]domain.Value) ([]domain.StationFields, error) {
	stations := make([]domain.StationFields, 0, len(rows))
	if len(header) == 0 && len(rows) == 0 {
		return stations, nil
	}

	nameIdx := nameColumn(header)
	if nameIdx < 0 {
		return nil, domain.ErrMissingNameColumn
	}

	index := make(map[string]int, len(rows))
	for _, row := range rows {
		if nameIdx >= len(row) {
			continue
		}
		st := domain.StationFields{
			Name:         row[nameIdx].Raw(),
			RecordFields: domain.NewRecordFields(),
		}
		for i, label := range header {
			if i == nameIdx {
				continue
			}
			if i >= len(row) {
				break
			}
			st.Set(label, row[i])
		}
		st.NormalizeEmpty()

		// A repeated station name replaces the earlier row in place.
		if pos, ok := index[st.Name]; ok {
			stations[pos] = st
			continue
		}
		index[st.Name] = len(stations)
		stations = append(stations, st)
	}
	return stations, nil
}

func nameColumn(header []domain.Value) int {
	for i, label := range header {
		if code, ok := label.AsText(); ok && domain.Column(code) == domain.ColumnName {
			return i
		}
	}
	return -1
}
