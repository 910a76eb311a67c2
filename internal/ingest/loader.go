package ingest

import (
	"context"
	"errors"
	"log/slog"

	"github.com/couchcryptid/aqhi-etl/internal/domain"
	"github.com/couchcryptid/aqhi-etl/internal/observability"
)

// Creator creates the records of one page.
type Creator interface {
	CreateCityRecord(ctx context.Context, page domain.CityPage) (Result, error)
}

// Publisher announces created records downstream.
type Publisher interface {
	Publish(ctx context.Context, sets []domain.RecordSet) error
}

// PageRegistrar creates the cities and stations a page refers to.
type PageRegistrar interface {
	Register(ctx context.Context, pages []domain.CityPage) (Report, error)
}

// Loader stores a batch of transformed pages and publishes what was
// created. It implements pipeline.BatchLoader.
type Loader struct {
	creator   Creator
	publisher Publisher
	registrar PageRegistrar
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewLoader creates a Loader. A nil publisher disables publishing.
func NewLoader(creator Creator, publisher Publisher, logger *slog.Logger, metrics *observability.Metrics) *Loader {
	return &Loader{
		creator:   creator,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// WithRegistrar makes the loader register each page's city and stations
// before creating its records.
func (l *Loader) WithRegistrar(r PageRegistrar) *Loader {
	l.registrar = r
	return l
}

// LoadBatch creates every page in order. Failure results are logged and
// counted but do not fail the batch; a storage error does, so the pipeline
// retries the batch without committing. Pages created before the error
// come back as duplicates on retry.
func (l *Loader) LoadBatch(ctx context.Context, pages []domain.CityPage) error {
	created := make([]domain.RecordSet, 0, len(pages))
	for _, page := range pages {
		if err := l.register(ctx, page); err != nil {
			return err
		}
		res, err := l.creator.CreateCityRecord(ctx, page)
		if err != nil {
			return err
		}
		if set, ok := res.Created(); ok {
			l.metrics.RecordsCreated.Inc()
			created = append(created, *set)
			continue
		}
		l.metrics.CreateFailures.WithLabelValues(string(res.ErrorType)).Inc()
		l.logFailure(page, res)
	}

	if l.publisher == nil || len(created) == 0 {
		return nil
	}
	if err := l.publisher.Publish(ctx, created); err != nil {
		return err
	}
	l.metrics.RecordsPublished.Add(float64(len(created)))
	return nil
}

// register returns only storage errors. A page whose city or stations fail
// validation is left to CreateCityRecord, which reports it as a failure.
func (l *Loader) register(ctx context.Context, page domain.CityPage) error {
	if l.registrar == nil {
		return nil
	}
	_, err := l.registrar.Register(ctx, []domain.CityPage{page})
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		l.logger.Warn("page not registered", "city", page.CityKey, "source", page.Source, "error", err)
		return nil
	}
	return err
}

func (l *Loader) logFailure(page domain.CityPage, res Result) {
	attrs := []any{
		"city", page.CityKey,
		"source", page.Source,
		"update_dtm", page.Record.UpdateDtm.String(),
		"error_type", res.ErrorType,
		"info", res.Info,
	}
	if res.ErrorType == ErrorUniqueness {
		l.logger.Warn("duplicate city record, skipping", attrs...)
		return
	}
	l.logger.Error("create city record failed", attrs...)
}
