package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"go.uber.org/fx"

	"insight-engine-backend/config"
	"insight-engine-backend/internal/model"
)

// DatasetEventConsumer reads dataset-changed events published by the
// training pipeline. The invalidation service drains it.
type DatasetEventConsumer interface {
	FetchMessage(ctx context.Context) (*model.DatasetEvent, kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaDatasetEventConsumer struct {
	reader *kafka.Reader
}

func NewDatasetEventConsumer(lc fx.Lifecycle, cfg *config.Config) (DatasetEventConsumer, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.ConsumerGroup,
		Topic:          cfg.Kafka.DatasetEventsTopic,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        10 * time.Second,
		CommitInterval: 0,
		StartOffset:    kafka.LastOffset,
	})
	c := &kafkaDatasetEventConsumer{
		reader: reader,
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info().Str("group", cfg.Kafka.ConsumerGroup).Msg("Closing Kafka dataset event consumer")
			return c.Close()
		},
	})
	log.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("topic", cfg.Kafka.DatasetEventsTopic).
		Str("group", cfg.Kafka.ConsumerGroup).
		Msg("Kafka dataset event consumer initialized")
	return c, nil
}

func (c *kafkaDatasetEventConsumer) FetchMessage(ctx context.Context) (*model.DatasetEvent, kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, kafka.Message{}, err
	}
	log.Debug().
		Str("topic", msg.Topic).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("Fetched dataset event from Kafka")

	var event model.DatasetEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		log.Error().Err(err).Int64("offset", msg.Offset).Msg("Failed to unmarshal dataset event")
		return nil, msg, err
	}
	return &event, msg, nil
}

func (c *kafkaDatasetEventConsumer) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		log.Error().Err(err).Int("count", len(msgs)).Msg("Failed to commit Kafka messages")
		return err
	}
	return nil
}

func (c *kafkaDatasetEventConsumer) Close() error {
	return c.reader.Close()
}
