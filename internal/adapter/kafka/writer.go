package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/aqhi-etl/internal/config"
	"github.com/couchcryptid/aqhi-etl/internal/domain"
)

// Header names set on every published record.
const (
	HeaderUpdateDtm   = "update_dtm"
	HeaderProcessedAt = "processed_at"
)

// Writer produces created records to the sink topic.
// It implements ingest.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes and writes every record set in a single WriteMessages
// call. Records of one city hash to the same partition.
func (w *Writer) Publish(ctx context.Context, sets []domain.RecordSet) error {
	if len(sets) == 0 {
		return nil
	}
	processedAt := domain.Now()
	msgs := make([]kafkago.Message, len(sets))
	for i := range sets {
		msg, err := serializeToMessage(sets[i], processedAt)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d records: %w", len(msgs), err)
	}
	w.logger.Debug("records published", "count", len(msgs), "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a RecordSet into a Kafka message keyed by its
// city.
func serializeToMessage(set domain.RecordSet, processedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(set)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize city record: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(set.City.CityKey),
		Value: data,
		Headers: []kafkago.Header{
			{Key: HeaderUpdateDtm, Value: []byte(set.City.UpdateDtm.Format(time.RFC3339))},
			{Key: HeaderProcessedAt, Value: []byte(processedAt.Format(time.RFC3339))},
		},
	}, nil
}
