// Package domain models hourly air quality readings published on
// pm25.in style city pages.
//
// # Data Source
//
// Each page covers one city. It shows the city-wide readings, the update
// time, the overall quality level, the primary pollutants and a table with
// one row per monitoring station. Pages are stored or published under an
// identifier that follows the {key}.html convention, e.g.
// "pages/2016/beijing.html"; the key is the lower-case pinyin city name.
// See [CityKeyFromIdentifier].
//
// # Values
//
// Fields move through the pipeline as [Value] slots. A slot starts
// Unresolved with the extracted text and may be resolved to a constant code,
// a decimal, a localized name or a UTC timestamp. A slot no stage could
// classify stays Unresolved and keeps its raw text; it is rejected only when
// a record is validated for storage.
//
// Conventions seen on the source pages:
//
//	"_" or "—"      no data, read as Null
//	"优" .. "严重污染" quality levels, mapped to E, G, LP, MP, HP, SP
//	"PM2.5/1h"      column labels, mapped to canonical columns such as pm2_5
//	"2016-05-07 08:00:00"  local time in Asia/Shanghai, stored as UTC
//
// # Records
//
// An [AggregateRecord] is one page after aggregation: city-level
// [CityFields], one [StationFields] per station and the update time.
// [NewCityRecord] and [NewStationRecord] validate aggregated fields into the
// storable [CityRecord] and [StationRecord]. Decimal measurements allow at
// most 8 digits with 4 decimal places, see [DecimalPlaces].
//
// # Identity
//
// A city is identified by its key and a station by (city key, Chinese
// name). A city has at most one record per update time; creating a second
// one is a uniqueness failure, not an overwrite.
package domain
