package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/aqhi-etl/internal/domain"
)

// Tally counts registration outcomes for one kind of entity.
type Tally struct {
	Scanned   int `json:"scanned"`
	New       int `json:"new"`
	Duplicate int `json:"duplicate"`
}

func (t *Tally) count(created bool) {
	t.Scanned++
	if created {
		t.New++
	} else {
		t.Duplicate++
	}
}

// Report summarizes a registration run.
type Report struct {
	Cities   Tally `json:"cities"`
	Stations Tally `json:"stations"`
}

// Registrar creates the cities and stations named by pages so their records
// can be stored.
type Registrar struct {
	store    Store
	geocoder domain.Geocoder
	logger   *slog.Logger
}

// NewRegistrar creates a Registrar. A nil geocoder leaves coordinates of new
// entries null.
func NewRegistrar(store Store, geocoder domain.Geocoder, logger *slog.Logger) *Registrar {
	return &Registrar{store: store, geocoder: geocoder, logger: logger}
}

// Register creates every city and station of pages that does not exist yet,
// all in one transaction. Existing entries are counted as duplicates.
func (r *Registrar) Register(ctx context.Context, pages []domain.CityPage) (Report, error) {
	var report Report
	err := r.store.InTx(ctx, func(q Queries) error {
		report = Report{}
		for _, page := range pages {
			city, created, err := r.city(ctx, q, page)
			if err != nil {
				return err
			}
			report.Cities.count(created)

			for _, name := range page.Record.StationNames() {
				created, err := r.station(ctx, q, city, name)
				if err != nil {
					return err
				}
				report.Stations.count(created)
			}
		}
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("register: %w", err)
	}
	r.logger.Debug("registration complete",
		"cities_new", report.Cities.New,
		"cities_duplicate", report.Cities.Duplicate,
		"stations_new", report.Stations.New,
		"stations_duplicate", report.Stations.Duplicate,
	)
	return report, nil
}

func (r *Registrar) city(ctx context.Context, q Queries, page domain.CityPage) (domain.City, bool, error) {
	city, err := q.FindCity(ctx, page.CityKey)
	if err == nil {
		return city, false, nil
	}
	if !errors.Is(err, domain.ErrCityNotFound) {
		return domain.City{}, false, err
	}

	nameCN, _ := page.Record.City.AreaCN.AsText()
	city, err = domain.NewCity(page.CityKey, nameCN)
	if err != nil {
		return domain.City{}, false, fmt.Errorf("city %s: %w", page.CityKey, err)
	}
	loc := domain.Locate(ctx, r.geocoder, nameCN, "", r.logger)
	city.Longitude, city.Latitude = loc.Longitude, loc.Latitude

	if err := q.InsertCity(ctx, city); err != nil {
		return domain.City{}, false, err
	}
	return city, true, nil
}

func (r *Registrar) station(ctx context.Context, q Queries, city domain.City, name string) (bool, error) {
	_, err := q.FindStation(ctx, city.Key, name)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, domain.ErrStationNotFound) {
		return false, err
	}

	st, err := domain.NewStation(city.Key, name)
	if err != nil {
		return false, fmt.Errorf("station %s/%s: %w", city.Key, name, err)
	}
	loc := domain.Locate(ctx, r.geocoder, name, city.NameCN, r.logger)
	st.Longitude, st.Latitude = loc.Longitude, loc.Latitude

	if err := q.InsertStation(ctx, &st); err != nil {
		return false, err
	}
	return true, nil
}
