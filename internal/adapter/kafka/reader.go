package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/config"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
)

// Reader consumes job messages from a Kafka topic using a consumer group.
// It implements pipeline.JobReader.
type Reader struct {
	reader       *kafkago.Reader
	logger       *slog.Logger
	waitInterval time.Duration
}

// NewReader creates a Kafka consumer for the configured jobs topic.
// Offsets are committed explicitly once a job's result has been published.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaJobsTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Reader{reader: r, logger: logger, waitInterval: cfg.BatchFlushInterval}
}

// ReadJobs fetches up to batchSize messages. It blocks for the first message
// until one arrives or the wait interval passes, then returns whatever was
// collected. An empty batch is not an error. A fetch failure after some
// messages were collected is logged and the partial batch returned, since
// the consumer has already advanced past those messages.
func (r *Reader) ReadJobs(ctx context.Context, batchSize int) ([]domain.JobMessage, error) {
	batch := make([]domain.JobMessage, 0, batchSize)

	waitCtx, cancel := context.WithTimeout(ctx, r.waitInterval)
	defer cancel()

	for len(batch) < batchSize {
		msg, err := r.reader.FetchMessage(waitCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return batch, nil
			}
			if len(batch) > 0 {
				r.logger.Warn("fetch job message failed, returning partial batch", "error", err, "fetched", len(batch))
				return batch, nil
			}
			return nil, fmt.Errorf("fetch job message: %w", err)
		}
		batch = append(batch, r.mapMessageToJobMessage(msg))
	}
	return batch, nil
}

// mapMessageToJobMessage decodes the payload. A payload that does not decode
// still yields a message so its offset can be committed with an invalid result.
func (r *Reader) mapMessageToJobMessage(msg kafkago.Message) domain.JobMessage {
	jm := mapMessageToJobMessage(msg)
	jm.Commit = func(ctx context.Context) error {
		return r.reader.CommitMessages(ctx, msg)
	}
	return jm
}

func mapMessageToJobMessage(msg kafkago.Message) domain.JobMessage {
	jm := domain.JobMessage{
		Key:       msg.Key,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}

	if err := json.Unmarshal(msg.Value, &jm.Job); err != nil {
		jm.DecodeErr = fmt.Errorf("decode job: %w", err)
		// Keep the id from the key so the result can still be correlated.
		if jm.Job.ID == "" {
			jm.Job.ID = string(msg.Key)
		}
	}
	return jm
}

func (r *Reader) Close() error {
	return r.reader.Close()
}
