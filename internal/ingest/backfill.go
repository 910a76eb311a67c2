package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/aqhi-etl/internal/aqhi"
)

// BackfillReport counts the records whose AQHI was recomputed.
type BackfillReport struct {
	CityRecords    int `json:"city_records"`
	StationRecords int `json:"station_records"`
}

// Backfill recomputes the stored AQHI of existing records.
type Backfill struct {
	store  Store
	logger *slog.Logger
}

// NewBackfill creates a Backfill.
func NewBackfill(store Store, logger *slog.Logger) *Backfill {
	return &Backfill{store: store, logger: logger}
}

// UpdateAQHI fills in AQHI for records that have none, or for every record
// when override is set. City and station records are updated in separate
// transactions.
func (b *Backfill) UpdateAQHI(ctx context.Context, override bool) (BackfillReport, error) {
	var report BackfillReport
	filter := RecordFilter{MissingAQHI: !override}

	err := b.store.InTx(ctx, func(q Queries) error {
		recs, err := q.CityRecords(ctx, filter)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := q.UpdateCityRecordAQHI(ctx, rec.ID, aqhi.Simple(rec.PM10, rec.NO2)); err != nil {
				return err
			}
		}
		report.CityRecords = len(recs)
		return nil
	})
	if err != nil {
		return BackfillReport{}, fmt.Errorf("update city record aqhi: %w", err)
	}

	err = b.store.InTx(ctx, func(q Queries) error {
		recs, err := q.StationRecords(ctx, filter)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := q.UpdateStationRecordAQHI(ctx, rec.ID, aqhi.Simple(rec.PM10, rec.NO2)); err != nil {
				return err
			}
		}
		report.StationRecords = len(recs)
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("update station record aqhi: %w", err)
	}

	b.logger.Info("aqhi backfill complete",
		"override", override,
		"city_records", report.CityRecords,
		"station_records", report.StationRecords,
	)
	return report, nil
}
