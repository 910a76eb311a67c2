package ingest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/couchcryptid/aqhi-etl/internal/domain"
)

// RecordFilter narrows record listings. Zero fields do not filter.
type RecordFilter struct {
	CityKey     string
	Since       time.Time
	MissingAQHI bool
}

// Queries is the storage surface the ingest operations run against. Every
// method is usable both inside and outside a transaction.
type Queries interface {
	// FindCity returns domain.ErrCityNotFound (wrapped) for an unknown key.
	FindCity(ctx context.Context, key string) (domain.City, error)
	FindCitiesByName(ctx context.Context, nameCN string) ([]domain.City, error)
	RecordExists(ctx context.Context, cityKey string, at time.Time) (bool, error)
	// FindStation returns domain.ErrStationNotFound (wrapped) for an unknown
	// (city, name) pair.
	FindStation(ctx context.Context, cityKey, nameCN string) (domain.Station, error)

	// Inserts return domain.ErrDuplicateRecord (wrapped) on a unique key
	// violation and set the generated ID where there is one.
	InsertCity(ctx context.Context, c domain.City) error
	InsertStation(ctx context.Context, s *domain.Station) error
	InsertCityRecord(ctx context.Context, rec *domain.CityRecord) error
	InsertStationRecord(ctx context.Context, rec *domain.StationRecord) error

	UpdateCityCoordinates(ctx context.Context, key string, lng, lat decimal.NullDecimal) error
	UpdateStationCoordinates(ctx context.Context, id int64, lng, lat decimal.NullDecimal) error

	CityRecords(ctx context.Context, f RecordFilter) ([]domain.CityRecord, error)
	StationRecords(ctx context.Context, f RecordFilter) ([]domain.StationRecord, error)
	UpdateCityRecordAQHI(ctx context.Context, id int64, aqhi decimal.NullDecimal) error
	UpdateStationRecordAQHI(ctx context.Context, id int64, aqhi decimal.NullDecimal) error
}

// Store adds transactions to Queries. InTx commits when fn returns nil and
// rolls back otherwise, returning fn's error.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
}
