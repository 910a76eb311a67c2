// Package kafka adapts segmentio/kafka-go to the pipeline: a consumer group
// reader for raw pages and a writer for created records.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/aqhi-etl/internal/config"
	"github.com/couchcryptid/aqhi-etl/internal/domain"
)

// Reader consumes raw pages from the source topic with manual commits.
// It implements pipeline.BatchExtractor.
type Reader struct {
	reader        *kafkago.Reader
	flushInterval time.Duration
	logger        *slog.Logger
}

// NewReader creates a consumer group reader for the configured source topic.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaSourceTopic,
		GroupID:     cfg.KafkaGroupID,
		StartOffset: kafkago.FirstOffset,
		// pages are full HTML documents
		MaxBytes: 10e6,
	})
	return &Reader{reader: r, flushInterval: cfg.BatchFlushInterval, logger: logger}
}

// ExtractBatch fetches up to batchSize pages, returning early with what it
// has once the flush interval elapses. An empty batch is not an error.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawPage, error) {
	batchCtx, cancel := context.WithTimeout(ctx, r.flushInterval)
	defer cancel()

	pages := make([]domain.RawPage, 0, batchSize)
	for len(pages) < batchSize {
		msg, err := r.reader.FetchMessage(batchCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return nil, fmt.Errorf("fetch message: %w", err)
		}
		page := mapMessageToRawPage(msg)
		page.Commit = func(ctx context.Context) error {
			return r.reader.CommitMessages(ctx, msg)
		}
		pages = append(pages, page)
	}

	if len(pages) > 0 {
		r.logger.Debug("batch extracted", "pages", len(pages), "topic", pages[0].Topic)
	}
	return pages, nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessageToRawPage copies a Kafka message into a RawPage. The commit
// callback is attached by the caller.
func mapMessageToRawPage(msg kafkago.Message) domain.RawPage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return domain.RawPage{
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}
}
