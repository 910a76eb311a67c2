package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/couchcryptid/aqhi-etl/internal/domain"
)

var (
	// ErrMalformedLine is returned for a coordinate line with the wrong
	// number of fields or a non-numeric coordinate.
	ErrMalformedLine = errors.New("malformed coordinate line")
	// ErrAmbiguousCity is returned when a Chinese city name matches more
	// than one city.
	ErrAmbiguousCity = errors.New("ambiguous city name")
)

// CoordinateReport counts the entries of a coordinate file.
type CoordinateReport struct {
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// Coordinates loads longitude/latitude pairs from whitespace-separated
// files into existing cities and stations.
type Coordinates struct {
	store  Store
	logger *slog.Logger
}

// NewCoordinates creates a Coordinates loader.
func NewCoordinates(store Store, logger *slog.Logger) *Coordinates {
	return &Coordinates{store: store, logger: logger}
}

// UpdateCities reads "CITY LAT LNG" lines. Longitude and latitude are
// filled independently: a half that is already set is kept unless override
// is set. Any bad line fails the whole file.
func (c *Coordinates) UpdateCities(ctx context.Context, r io.Reader, override bool) (CoordinateReport, error) {
	lines, err := readFields(r, 3)
	if err != nil {
		return CoordinateReport{}, err
	}

	var report CoordinateReport
	err = c.store.InTx(ctx, func(q Queries) error {
		report = CoordinateReport{}
		for _, l := range lines {
			city, err := cityByName(ctx, q, l.fields[0])
			if err != nil {
				return fmt.Errorf("line %d: %w", l.n, err)
			}
			lat, lng, err := l.coordinates(1)
			if err != nil {
				return err
			}
			lng, lat, changed := fill(city.Longitude, city.Latitude, lng, lat, override)
			if !changed {
				report.Skipped++
				continue
			}
			if err := q.UpdateCityCoordinates(ctx, city.Key, lng, lat); err != nil {
				return err
			}
			report.Updated++
		}
		return nil
	})
	if err != nil {
		return CoordinateReport{}, fmt.Errorf("update city coordinates: %w", err)
	}
	c.logger.Info("city coordinates loaded", "updated", report.Updated, "skipped", report.Skipped)
	return report, nil
}

// UpdateStations reads "CITY STATION LAT LNG" lines, with the same skip and
// failure rules as UpdateCities.
func (c *Coordinates) UpdateStations(ctx context.Context, r io.Reader, override bool) (CoordinateReport, error) {
	lines, err := readFields(r, 4)
	if err != nil {
		return CoordinateReport{}, err
	}

	var report CoordinateReport
	err = c.store.InTx(ctx, func(q Queries) error {
		report = CoordinateReport{}
		for _, l := range lines {
			city, err := cityByName(ctx, q, l.fields[0])
			if err != nil {
				return fmt.Errorf("line %d: %w", l.n, err)
			}
			st, err := q.FindStation(ctx, city.Key, l.fields[1])
			if err != nil {
				return fmt.Errorf("line %d: %w", l.n, err)
			}
			lat, lng, err := l.coordinates(2)
			if err != nil {
				return err
			}
			lng, lat, changed := fill(st.Longitude, st.Latitude, lng, lat, override)
			if !changed {
				report.Skipped++
				continue
			}
			if err := q.UpdateStationCoordinates(ctx, st.ID, lng, lat); err != nil {
				return err
			}
			report.Updated++
		}
		return nil
	})
	if err != nil {
		return CoordinateReport{}, fmt.Errorf("update station coordinates: %w", err)
	}
	c.logger.Info("station coordinates loaded", "updated", report.Updated, "skipped", report.Skipped)
	return report, nil
}

// fill merges new coordinates into old ones and reports whether anything
// would be written.
func fill(oldLng, oldLat, lng, lat decimal.NullDecimal, override bool) (decimal.NullDecimal, decimal.NullDecimal, bool) {
	if override {
		return lng, lat, true
	}
	changed := false
	if oldLng.Valid {
		lng = oldLng
	} else {
		changed = true
	}
	if oldLat.Valid {
		lat = oldLat
	} else {
		changed = true
	}
	return lng, lat, changed
}

func cityByName(ctx context.Context, q Queries, name string) (domain.City, error) {
	name = strings.TrimSuffix(name, "市")
	cities, err := q.FindCitiesByName(ctx, name)
	if err != nil {
		return domain.City{}, err
	}
	switch len(cities) {
	case 0:
		return domain.City{}, fmt.Errorf("%w: %s", domain.ErrCityNotFound, name)
	case 1:
		return cities[0], nil
	default:
		return domain.City{}, fmt.Errorf("%w: %s matches %d cities", ErrAmbiguousCity, name, len(cities))
	}
}

type line struct {
	n      int
	fields []string
}

// coordinates parses the latitude and longitude starting at field i,
// rounded to column precision.
func (l line) coordinates(i int) (lat, lng decimal.NullDecimal, err error) {
	latD, err := decimal.NewFromString(l.fields[i])
	if err != nil {
		return lat, lng, fmt.Errorf("line %d: %w: latitude %q", l.n, ErrMalformedLine, l.fields[i])
	}
	lngD, err := decimal.NewFromString(l.fields[i+1])
	if err != nil {
		return lat, lng, fmt.Errorf("line %d: %w: longitude %q", l.n, ErrMalformedLine, l.fields[i+1])
	}
	lat = decimal.NewNullDecimal(latD.Round(domain.DecimalPlaces))
	lng = decimal.NewNullDecimal(lngD.Round(domain.DecimalPlaces))
	if err := domain.ValidateCoordinates(lng, lat); err != nil {
		return lat, lng, fmt.Errorf("line %d: %w", l.n, err)
	}
	return lat, lng, nil
}

// readFields splits every non-blank line into exactly want fields.
func readFields(r io.Reader, want int) ([]line, error) {
	var lines []line
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != want {
			return nil, fmt.Errorf("line %d: %w: want %d fields, got %d", n, ErrMalformedLine, want, len(fields))
		}
		lines = append(lines, line{n: n, fields: fields})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read coordinates: %w", err)
	}
	return lines, nil
}
