// Package ingest persists aggregated pages: the checked, all-or-nothing
// create of a city record with its station records, plus the registration,
// backfill, coordinate and window operations built on the same store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/aqhi-etl/internal/domain"
)

// CityRecordName is the record key of the city record in validation
// results. Station records are keyed by station name.
const CityRecordName = "city"

// errRollback aborts a transaction whose outcome is a failure result.
var errRollback = errors.New("rollback")

// Service runs create operations against a Store.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a Service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// CreateCityRecord stores page as one city record and a station record per
// station, in a single transaction.
//
// Checks run in order and stop at the first failing one: the city must
// exist, no record may exist for (city, update_dtm), and every station
// must exist under the city (all missing names are reported). Validation
// problems across all records are collected; any of them, or a hard
// numeric error, rolls back everything written so far.
//
// Failures are returned as a Result. The error return is reserved for
// storage failures.
func (s *Service) CreateCityRecord(ctx context.Context, page domain.CityPage) (Result, error) {
	var res Result
	err := s.store.InTx(ctx, func(q Queries) error {
		var err error
		res, err = s.create(ctx, q, page)
		if err != nil {
			return err
		}
		if !res.Success {
			return errRollback
		}
		return nil
	})

	switch {
	case errors.Is(err, errRollback):
		return res, nil
	case errors.Is(err, domain.ErrDuplicateRecord):
		// a concurrent create won the unique key after our pre-check
		at, _ := page.Record.Timestamp()
		return uniqueness(at), nil
	case err != nil:
		return Result{}, fmt.Errorf("create city record %s: %w", page.CityKey, err)
	}
	if set, ok := res.Created(); ok {
		s.logger.Debug("city record created",
			"city", page.CityKey,
			"update_dtm", set.City.UpdateDtm,
			"stations", len(set.Stations),
		)
	}
	return res, nil
}

func (s *Service) create(ctx context.Context, q Queries, page domain.CityPage) (Result, error) {
	city, err := q.FindCity(ctx, page.CityKey)
	if errors.Is(err, domain.ErrCityNotFound) {
		return cityNotFound(page.CityKey), nil
	}
	if err != nil {
		return Result{}, err
	}

	at, ok := page.Record.Timestamp()
	if !ok {
		return failed(ErrorValidation, map[string]map[string][]string{
			CityRecordName: {"update_dtm": {fmt.Sprintf("%q is not a valid date/time", page.Record.UpdateDtm.Raw())}},
		}), nil
	}

	exists, err := q.RecordExists(ctx, city.Key, at)
	if err != nil {
		return Result{}, err
	}
	if exists {
		return uniqueness(at), nil
	}

	stations, missing, err := s.lookupStations(ctx, q, city.Key, page.Record.StationNames())
	if err != nil {
		return Result{}, err
	}
	if len(missing) > 0 {
		return failed(ErrorStationNotFound, missing), nil
	}

	return s.write(ctx, q, city.Key, at, page.Record, stations)
}

// lookupStations resolves every station name, collecting all missing ones.
func (s *Service) lookupStations(ctx context.Context, q Queries, cityKey string, names []string) (map[string]domain.Station, []string, error) {
	found := make(map[string]domain.Station, len(names))
	var missing []string
	for _, name := range names {
		st, err := q.FindStation(ctx, cityKey, name)
		switch {
		case errors.Is(err, domain.ErrStationNotFound):
			missing = append(missing, name)
		case err != nil:
			return nil, nil, err
		default:
			found[name] = st
		}
	}
	return found, missing, nil
}

func (s *Service) write(ctx context.Context, q Queries, cityKey string, at time.Time, rec domain.AggregateRecord, stations map[string]domain.Station) (Result, error) {
	acc := recordErrors{}
	set := &domain.RecordSet{Stations: make([]domain.StationRecord, 0, len(rec.Stations))}

	cityRec, err := domain.NewCityRecord(cityKey, at, rec.City.RecordFields)
	if err != nil {
		res, ok := classify(CityRecordName, err, acc)
		if !ok {
			return Result{}, err
		}
		if res.ErrorType == ErrorValue {
			return res, nil
		}
	} else {
		cityRec.CreatedAt = domain.Now()
		if err := q.InsertCityRecord(ctx, &cityRec); err != nil {
			return Result{}, err
		}
		set.City = cityRec
	}

	for _, st := range rec.Stations {
		stRec, err := domain.NewStationRecord(cityRec.ID, stations[st.Name], st.RecordFields)
		if err != nil {
			res, ok := classify(st.Name, err, acc)
			if !ok {
				return Result{}, err
			}
			if res.ErrorType == ErrorValue {
				return res, nil
			}
			continue
		}
		if len(acc) > 0 {
			// already failing; keep validating the rest without writing
			continue
		}
		if err := q.InsertStationRecord(ctx, &stRec); err != nil {
			return Result{}, err
		}
		set.Stations = append(set.Stations, stRec)
	}

	if len(acc) > 0 {
		return failed(ErrorValidation, map[string]map[string][]string(acc)), nil
	}
	return succeeded(set), nil
}
