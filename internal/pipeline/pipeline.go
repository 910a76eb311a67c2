// Package pipeline runs the batch extract, transform and load loop over
// source pages.
//
// Offsets follow the outcome of each page. A page that cannot be parsed
// into a record (for example a station table with no name column) will not
// parse on redelivery either, so it is committed and dropped. Create-stage
// failures such as duplicates or unknown stations are results, not errors:
// the loader counts them and the page is committed with the rest of its
// batch. Only a load error, meaning the database or the sink is
// unreachable, leaves the batch uncommitted and backs the loop off.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/aqhi-etl/internal/domain"
	"github.com/couchcryptid/aqhi-etl/internal/observability"
)

// BatchExtractor reads up to batchSize raw pages from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawPage, error)
}

// Transformer turns a raw page into an aggregated city page.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawPage) (domain.CityPage, error)
}

// BatchLoader stores transformed pages.
type BatchLoader interface {
	LoadBatch(ctx context.Context, pages []domain.CityPage) error
}

// Pipeline moves pages from a source into the record store.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	batchSize   int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
	}
}

// CheckReadiness returns nil once the pipeline has loaded at least one batch.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not loaded any pages yet")
	}
	return nil
}

// Ready reports whether a batch has been loaded.
func (p *Pipeline) Ready() bool {
	return p.ready.Load()
}

// Run loads batches until ctx is cancelled. Source and load errors are
// retried with backoff, so Run only returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	retry := newBackoff(200*time.Millisecond, 5*time.Second)
	for ctx.Err() == nil {
		if err := p.step(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			p.logger.Error("pipeline step failed", "error", err, "retry_in", retry.current)
			if !retry.wait(ctx) {
				break
			}
			continue
		}
		retry.reset()
	}
	p.logger.Info("pipeline stopping", "reason", ctx.Err())
	return nil
}

// step runs one extract, transform and load cycle. An empty batch is not an
// error.
func (p *Pipeline) step(ctx context.Context) error {
	start := time.Now()

	raws, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		return err
	}
	if len(raws) == 0 {
		return nil
	}
	p.metrics.PagesConsumed.Add(float64(len(raws)))
	p.metrics.BatchSize.Observe(float64(len(raws)))

	pages, parsed := p.transform(ctx, raws)
	if len(pages) == 0 {
		return nil
	}
	if err := p.loader.LoadBatch(ctx, pages); err != nil {
		return fmt.Errorf("load %d pages: %w", len(pages), err)
	}
	for _, raw := range parsed {
		p.commit(ctx, raw)
	}

	p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
	p.ready.Store(true)
	return nil
}

// transform parses every raw page. Unparsable pages are committed here and
// left out; the rest come back with their raw pages in the same order.
func (p *Pipeline) transform(ctx context.Context, raws []domain.RawPage) ([]domain.CityPage, []domain.RawPage) {
	pages := make([]domain.CityPage, 0, len(raws))
	parsed := make([]domain.RawPage, 0, len(raws))

	for _, raw := range raws {
		page, err := p.transformer.Transform(ctx, raw)
		if err != nil {
			p.metrics.TransformErrors.Inc()
			p.logger.Warn("page not parsable, skipping",
				"error", err,
				"key", string(raw.Key),
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.commit(ctx, raw)
			continue
		}
		p.metrics.PagesTransformed.Inc()
		pages = append(pages, page)
		parsed = append(parsed, raw)
	}
	return pages, parsed
}

func (p *Pipeline) commit(ctx context.Context, raw domain.RawPage) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

// backoff doubles its delay after every failed wait, up to ceiling.
type backoff struct {
	initial time.Duration
	ceiling time.Duration
	current time.Duration
}

func newBackoff(initial, ceiling time.Duration) *backoff {
	return &backoff{initial: initial, ceiling: ceiling, current: initial}
}

func (b *backoff) reset() { b.current = b.initial }

// wait sleeps for the current delay and returns false if ctx ended first.
func (b *backoff) wait(ctx context.Context) bool {
	timer := time.NewTimer(b.current)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}
	b.current = min(b.current*2, b.ceiling)
	return true
}
