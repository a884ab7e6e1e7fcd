package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"go.uber.org/fx"

	"insight-engine-backend/config"
	"insight-engine-backend/internal/model"
)

// AuditProducer publishes query audit events. Publishing is best effort;
// the orchestrator logs failures and moves on.
type AuditProducer interface {
	Publish(ctx context.Context, events []model.QueryAuditEvent) error
	Close() error
}

type kafkaAuditProducer struct {
	writer *kafka.Writer
	topic  string
}

func NewAuditProducer(lc fx.Lifecycle, cfg *config.Config) (AuditProducer, error) {
	if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.AuditTopic == "" {
		log.Error().Msg("Kafka brokers or audit topic is not configured.")
		return nil, errors.New("kafka configuration missing")
	}
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.AuditTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: time.Second,
		Async:        true,
	})
	p := &kafkaAuditProducer{
		writer: writer,
		topic:  cfg.Kafka.AuditTopic,
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("Closing Kafka audit producer")
			return p.Close()
		},
	})
	log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.AuditTopic).Msg("Kafka audit producer initialized")
	return p, nil
}

func (p *kafkaAuditProducer) Publish(ctx context.Context, events []model.QueryAuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	messages := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		value, err := json.Marshal(event)
		if err != nil {
			log.Error().Err(err).Str("dataset", event.DatasetID).Msg("Failed to marshal audit event")
			continue
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(event.DatasetID),
			Value: value,
		})
	}
	if len(messages) == 0 {
		return nil
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		log.Error().Err(err).Int("message_count", len(messages)).Msg("Failed to write audit events to Kafka")
		return err
	}
	log.Debug().Int("message_count", len(messages)).Str("topic", p.topic).Msg("Published audit events")
	return nil
}

func (p *kafkaAuditProducer) Close() error {
	return p.writer.Close()
}
