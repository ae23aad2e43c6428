package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/score-import-etl/internal/config"
	"github.com/couchcryptid/score-import-etl/internal/domain"
)

// Writer produces canonical scores to a Kafka topic.
// It implements pipeline.ScoreLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
	clock  clockwork.Clock
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger, clock clockwork.Clock) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger, clock: clock}
}

// LoadScores serializes and publishes the scores of one import to the sink
// topic in a single WriteMessages call.
func (w *Writer) LoadScores(ctx context.Context, importID string, scores []domain.DryScore) error {
	if len(scores) == 0 {
		return nil
	}
	processedAt := w.clock.Now().UTC()
	msgs := make([]kafkago.Message, len(scores))
	for i := range scores {
		msg, err := serializeToMessage(importID, scores[i], processedAt)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d scores: %w", len(msgs), err)
	}
	w.logger.Debug("scores written", "import_id", importID, "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a DryScore into a Kafka message keyed by chart,
// so every score for one chart lands on the same partition.
func serializeToMessage(importID string, score domain.DryScore, processedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(score)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize score: %w", err)
	}
	key := score.ChartID
	if key == "" {
		key = importID
	}
	return kafkago.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "import_id", Value: []byte(importID)},
			{Key: "game", Value: []byte(score.Game)},
			{Key: "import_type", Value: []byte(score.ImportType)},
			{Key: "processed_at", Value: []byte(processedAt.Format(time.RFC3339))},
		},
	}, nil
}
