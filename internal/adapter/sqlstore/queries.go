package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/couchcryptid/aqhi-etl/internal/domain"
	"github.com/couchcryptid/aqhi-etl/internal/ingest"
	"github.com/couchcryptid/aqhi-etl/internal/observability"
)

const measurementColumns = "aqi, aqhi, co, no2, o3, o3_8h, pm10, pm2_5, so2, quality"

// queries implements ingest.Queries on either the database or a
// transaction.
type queries struct {
	ext     sqlx.ExtContext
	metrics *observability.Metrics
}

func (q *queries) observe(operation string, start time.Time) {
	if q.metrics == nil {
		return
	}
	q.metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (q *queries) get(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
}

func (q *queries) sel(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.ext.ExecContext(ctx, q.ext.Rebind(query), args...)
}

func (q *queries) FindCity(ctx context.Context, key string) (domain.City, error) {
	defer q.observe("find_city", time.Now())
	var c domain.City
	err := q.get(ctx, &c, `SELECT key, name_cn, longitude, latitude FROM cities WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("%w: %s", domain.ErrCityNotFound, key)
	}
	if err != nil {
		return c, fmt.Errorf("find city %s: %w", key, err)
	}
	return c, nil
}

func (q *queries) FindCitiesByName(ctx context.Context, nameCN string) ([]domain.City, error) {
	defer q.observe("find_cities_by_name", time.Now())
	var cs []domain.City
	err := q.sel(ctx, &cs, `SELECT key, name_cn, longitude, latitude FROM cities WHERE name_cn = ? ORDER BY key`, nameCN)
	if err != nil {
		return nil, fmt.Errorf("find cities named %s: %w", nameCN, err)
	}
	return cs, nil
}

func (q *queries) RecordExists(ctx context.Context, cityKey string, at time.Time) (bool, error) {
	defer q.observe("record_exists", time.Now())
	var exists bool
	err := q.get(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM city_records WHERE city_key = ? AND update_dtm = ?)`,
		cityKey, at.UTC())
	if err != nil {
		return false, fmt.Errorf("check record %s at %s: %w", cityKey, at, err)
	}
	return exists, nil
}

func (q *queries) FindStation(ctx context.Context, cityKey, nameCN string) (domain.Station, error) {
	defer q.observe("find_station", time.Now())
	var s domain.Station
	err := q.get(ctx, &s,
		`SELECT id, city_key, name_cn, longitude, latitude FROM stations WHERE city_key = ? AND name_cn = ?`,
		cityKey, nameCN)
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("%w: %s/%s", domain.ErrStationNotFound, cityKey, nameCN)
	}
	if err != nil {
		return s, fmt.Errorf("find station %s/%s: %w", cityKey, nameCN, err)
	}
	return s, nil
}

func (q *queries) InsertCity(ctx context.Context, c domain.City) error {
	defer q.observe("insert_city", time.Now())
	_, err := q.exec(ctx,
		`INSERT INTO cities (key, name_cn, longitude, latitude) VALUES (?, ?, ?, ?)`,
		c.Key, c.NameCN, c.Longitude, c.Latitude)
	return insertErr("city "+c.Key, err)
}

func (q *queries) InsertStation(ctx context.Context, s *domain.Station) error {
	defer q.observe("insert_station", time.Now())
	err := q.get(ctx, &s.ID,
		`INSERT INTO stations (city_key, name_cn, longitude, latitude) VALUES (?, ?, ?, ?) RETURNING id`,
		s.CityKey, s.NameCN, s.Longitude, s.Latitude)
	return insertErr("station "+s.CityKey+"/"+s.NameCN, err)
}

func measurementArgs(m domain.Measurements) []any {
	return []any{m.AQI, m.AQHI, m.CO, m.NO2, m.O3, m.O3Avg8h, m.PM10, m.PM25, m.SO2, string(m.Quality)}
}

func (q *queries) InsertCityRecord(ctx context.Context, rec *domain.CityRecord) error {
	defer q.observe("insert_city_record", time.Now())
	args := append([]any{rec.CityKey, rec.UpdateDtm.UTC()}, measurementArgs(rec.Measurements)...)
	args = append(args, rec.CreatedAt.UTC())
	err := q.get(ctx, &rec.ID,
		`INSERT INTO city_records (city_key, update_dtm, `+measurementColumns+`, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		args...)
	if err := insertErr(fmt.Sprintf("city record %s at %s", rec.CityKey, rec.UpdateDtm), err); err != nil {
		return err
	}
	return q.insertPollutants(ctx, "city_primary_pollutants", "city_record_id", rec.ID, rec.PrimaryPollutants)
}

func (q *queries) InsertStationRecord(ctx context.Context, rec *domain.StationRecord) error {
	defer q.observe("insert_station_record", time.Now())
	args := append([]any{rec.CityRecordID, rec.StationID}, measurementArgs(rec.Measurements)...)
	err := q.get(ctx, &rec.ID,
		`INSERT INTO station_records (city_record_id, station_id, `+measurementColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		args...)
	if err := insertErr(fmt.Sprintf("station record %d/%d", rec.CityRecordID, rec.StationID), err); err != nil {
		return err
	}
	return q.insertPollutants(ctx, "station_primary_pollutants", "station_record_id", rec.ID, rec.PrimaryPollutants)
}

func (q *queries) insertPollutants(ctx context.Context, table, fk string, id int64, ps []domain.Pollutant) error {
	for _, p := range ps {
		_, err := q.exec(ctx, `INSERT INTO `+table+` (`+fk+`, pollutant) VALUES (?, ?)`, id, string(p))
		if err := insertErr(fmt.Sprintf("%s %d %s", table, id, p), err); err != nil {
			return err
		}
	}
	return nil
}

func insertErr(what string, err error) error {
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return fmt.Errorf("insert %s: %w", what, domain.ErrDuplicateRecord)
	default:
		return fmt.Errorf("insert %s: %w", what, err)
	}
}

func (q *queries) UpdateCityCoordinates(ctx context.Context, key string, lng, lat decimal.NullDecimal) error {
	defer q.observe("update_city_coordinates", time.Now())
	res, err := q.exec(ctx, `UPDATE cities SET longitude = ?, latitude = ? WHERE key = ?`, lng, lat, key)
	if err != nil {
		return fmt.Errorf("update city %s coordinates: %w", key, err)
	}
	return requireRow(res, fmt.Errorf("%w: %s", domain.ErrCityNotFound, key))
}

func (q *queries) UpdateStationCoordinates(ctx context.Context, id int64, lng, lat decimal.NullDecimal) error {
	defer q.observe("update_station_coordinates", time.Now())
	res, err := q.exec(ctx, `UPDATE stations SET longitude = ?, latitude = ? WHERE id = ?`, lng, lat, id)
	if err != nil {
		return fmt.Errorf("update station %d coordinates: %w", id, err)
	}
	return requireRow(res, fmt.Errorf("%w: id %d", domain.ErrStationNotFound, id))
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// where joins conditions built from f, prefixing columns of the city
// record table with alias.
func where(f ingest.RecordFilter, alias, aqhiColumn string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.CityKey != "" {
		conds = append(conds, alias+".city_key = ?")
		args = append(args, f.CityKey)
	}
	if !f.Since.IsZero() {
		conds = append(conds, alias+".update_dtm >= ?")
		args = append(args, f.Since.UTC())
	}
	if f.MissingAQHI {
		conds = append(conds, aqhiColumn+" IS NULL")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (q *queries) CityRecords(ctx context.Context, f ingest.RecordFilter) ([]domain.CityRecord, error) {
	defer q.observe("city_records", time.Now())
	cond, args := where(f, "cr", "cr.aqhi")
	var recs []domain.CityRecord
	err := q.sel(ctx, &recs,
		`SELECT cr.id, cr.city_key, cr.update_dtm, `+prefixed("cr", measurementColumns)+`, cr.created_at
		 FROM city_records cr`+cond+` ORDER BY cr.update_dtm DESC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("list city records: %w", err)
	}
	for i := range recs {
		recs[i].UpdateDtm = recs[i].UpdateDtm.UTC()
		recs[i].CreatedAt = recs[i].CreatedAt.UTC()
	}

	ids := make([]int64, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	pollutants, err := q.pollutants(ctx, "city_primary_pollutants", "city_record_id", ids)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i].PrimaryPollutants = pollutants[recs[i].ID]
	}
	return recs, nil
}

type stationRecordRow struct {
	domain.StationRecord
	Name string `db:"name_cn"`
}

func (q *queries) StationRecords(ctx context.Context, f ingest.RecordFilter) ([]domain.StationRecord, error) {
	defer q.observe("station_records", time.Now())
	cond, args := where(f, "cr", "sr.aqhi")
	var rows []stationRecordRow
	err := q.sel(ctx, &rows,
		`SELECT sr.id, sr.city_record_id, sr.station_id, `+prefixed("sr", measurementColumns)+`, s.name_cn
		 FROM station_records sr
		 JOIN city_records cr ON cr.id = sr.city_record_id
		 JOIN stations s ON s.id = sr.station_id`+cond+`
		 ORDER BY cr.update_dtm DESC, sr.id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("list station records: %w", err)
	}

	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	pollutants, err := q.pollutants(ctx, "station_primary_pollutants", "station_record_id", ids)
	if err != nil {
		return nil, err
	}
	recs := make([]domain.StationRecord, len(rows))
	for i, r := range rows {
		recs[i] = r.StationRecord
		recs[i].StationName = r.Name
		recs[i].PrimaryPollutants = pollutants[r.ID]
	}
	return recs, nil
}

func (q *queries) pollutants(ctx context.Context, table, fk string, ids []int64) (map[int64][]domain.Pollutant, error) {
	out := make(map[int64][]domain.Pollutant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT `+fk+` AS record_id, pollutant FROM `+table+` WHERE `+fk+` IN (?) ORDER BY pollutant`, ids)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		RecordID  int64  `db:"record_id"`
		Pollutant string `db:"pollutant"`
	}
	if err := q.sel(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	for _, r := range rows {
		out[r.RecordID] = append(out[r.RecordID], domain.Pollutant(r.Pollutant))
	}
	return out, nil
}

func (q *queries) UpdateCityRecordAQHI(ctx context.Context, id int64, aqhi decimal.NullDecimal) error {
	defer q.observe("update_city_record_aqhi", time.Now())
	_, err := q.exec(ctx, `UPDATE city_records SET aqhi = ? WHERE id = ?`, aqhi, id)
	if err != nil {
		return fmt.Errorf("update city record %d aqhi: %w", id, err)
	}
	return nil
}

func (q *queries) UpdateStationRecordAQHI(ctx context.Context, id int64, aqhi decimal.NullDecimal) error {
	defer q.observe("update_station_record_aqhi", time.Now())
	_, err := q.exec(ctx, `UPDATE station_records SET aqhi = ? WHERE id = ?`, aqhi, id)
	if err != nil {
		return fmt.Errorf("update station record %d aqhi: %w", id, err)
	}
	return nil
}

func prefixed(alias, columns string) string {
	cols := strings.Split(columns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}
