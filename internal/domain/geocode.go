package domain

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Coordinates is a longitude/latitude pair at column precision.
type Coordinates struct {
	Longitude decimal.NullDecimal
	Latitude  decimal.NullDecimal
	Source    string // "forward", "failed", or "none"
}

// Locate forward-geocodes name within region. A nil geocoder, a failed
// lookup or an empty result all leave the coordinates null; failures are
// logged and never returned.
func Locate(ctx context.Context, geocoder Geocoder, name, region string, logger *slog.Logger) Coordinates {
	if geocoder == nil || name == "" {
		return Coordinates{Source: "none"}
	}

	result, err := geocoder.ForwardGeocode(ctx, name, region)
	if err != nil {
		logger.Warn("forward geocoding failed",
			"name", name,
			"region", region,
			"error", err,
		)
		return Coordinates{Source: "failed"}
	}
	if result.Lat == 0 && result.Lon == 0 {
		return Coordinates{Source: "none"}
	}

	return Coordinates{
		Longitude: decimal.NewNullDecimal(decimal.NewFromFloat(result.Lon).Round(DecimalPlaces)),
		Latitude:  decimal.NewNullDecimal(decimal.NewFromFloat(result.Lat).Round(DecimalPlaces)),
		Source:    "forward",
	}
}
