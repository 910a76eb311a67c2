package kafka

import (
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/aqhi-etl/internal/domain"
)

func TestMapMessageToRawPage(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("pages/2016/beijing.html"),
		Value:     []byte(`<html><body></body></html>`),
		Topic:     "raw-aqi-pages",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte("pm25.in")},
		},
	}

	raw := mapMessageToRawPage(msg)

	assert.Equal(t, []byte("pages/2016/beijing.html"), raw.Key)
	assert.Equal(t, `<html><body></body></html>`, string(raw.Value))
	assert.Equal(t, "raw-aqi-pages", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "pm25.in", raw.Headers["source"])
	assert.Nil(t, raw.Commit)
}

func TestSerializeToMessage(t *testing.T) {
	at := time.Date(2016, 5, 7, 0, 0, 0, 0, time.UTC)
	processedAt := time.Date(2016, 5, 7, 0, 3, 12, 0, time.UTC)
	set := domain.RecordSet{
		City: domain.CityRecord{
			ID:        7,
			CityKey:   "beijing",
			UpdateDtm: at,
			Measurements: domain.Measurements{
				AQI:  decimal.NewNullDecimal(decimal.RequireFromString("48")),
				AQHI: decimal.NewNullDecimal(decimal.RequireFromString("1.9008")),
			},
			PrimaryPollutants: []domain.Pollutant{},
		},
		Stations: []domain.StationRecord{{ID: 1, CityRecordID: 7, StationID: 3, StationName: "万寿西宫"}},
	}

	msg, err := serializeToMessage(set, processedAt)
	require.NoError(t, err)

	assert.Equal(t, []byte("beijing"), msg.Key)
	assert.Contains(t, string(msg.Value), `"city":"beijing"`)
	assert.Contains(t, string(msg.Value), `"aqhi":"1.9008"`)
	assert.Contains(t, string(msg.Value), `"station":"万寿西宫"`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, HeaderUpdateDtm, msg.Headers[0].Key)
	assert.Equal(t, "2016-05-07T00:00:00Z", string(msg.Headers[0].Value))
	assert.Equal(t, HeaderProcessedAt, msg.Headers[1].Key)
	assert.Equal(t, []byte(processedAt.Format(time.RFC3339)), msg.Headers[1].Value)
}
