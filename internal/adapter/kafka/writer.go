package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/couchcryptid/precip-etl/internal/config"
	"github.com/couchcryptid/precip-etl/internal/domain"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

// batchSize caps the number of messages per WriteMessages call.
const batchSize = 1000

// Writer produces flagged records to a Kafka topic.
// It implements pipeline.Loader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "kafka" }

// Load publishes every record of a state, keyed by station and observation
// time so that one station's series stays on one partition.
func (w *Writer) Load(ctx context.Context, state domain.State, records []domain.FlaggedRecord) error {
	if len(records) == 0 {
		return nil
	}
	batchID := uuid.NewString()

	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		msgs := make([]kafkago.Message, 0, end-start)
		for i := start; i < end; i++ {
			msg, err := serializeToMessage(state, batchID, records[i])
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("write messages %d-%d: %w", start, end, err)
		}
	}

	w.logger.Debug("published records", "state", state.Name, "records", len(records), "batch_id", batchID)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// messageKey is <state>/<station>/<yyyy-mm-dd>/<hhmm>.
func messageKey(state domain.State, r domain.FlaggedRecord) string {
	return fmt.Sprintf("%s/%04d/%s/%04d", state.Code(), r.StationIndex, r.Date.Format("2006-01-02"), r.TimeOfValue)
}

// serializeToMessage marshals a FlaggedRecord into a Kafka message.
func serializeToMessage(state domain.State, batchID string, r domain.FlaggedRecord) (kafkago.Message, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize record: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(messageKey(state, r)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "state", Value: []byte(state.Name)},
			{Key: "batch_id", Value: []byte(batchID)},
			{Key: "was_deleted", Value: []byte(strconv.FormatBool(r.WasDeleted))},
			{Key: "is_missing", Value: []byte(strconv.FormatBool(r.IsMissing))},
		},
	}, nil
}
