package service

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"insight-engine-backend/internal/cache"
	"insight-engine-backend/internal/kafka"
	"insight-engine-backend/internal/registry"
)

// InvalidationService drains dataset-changed events and atomically (from
// the caller's perspective) drops everything derived from the old dataset:
// every semantic cache entry and the pooled connection handle.
type InvalidationService interface {
	Run(ctx context.Context, wg *sync.WaitGroup)
}

type invalidationService struct {
	consumer kafka.DatasetEventConsumer
	cache    cache.SemanticCache
	registry *registry.Registry
}

func NewInvalidationService(consumer kafka.DatasetEventConsumer, semanticCache cache.SemanticCache, reg *registry.Registry) InvalidationService {
	return &invalidationService{
		consumer: consumer,
		cache:    semanticCache,
		registry: reg,
	}
}

func (s *invalidationService) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	log.Info().Msg("Invalidation consumer loop started")

	for {
		event, msg, err := s.consumer.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				log.Info().Msg("Invalidation consumer loop stopping")
				return
			}
			// Malformed message: commit so it is not redelivered forever.
			// A fetch-level error yields a zero message with nothing to commit.
			if msg.Value != nil {
				if commitErr := s.consumer.CommitMessages(ctx, msg); commitErr != nil {
					log.Error().Err(commitErr).Msg("Failed to commit malformed dataset event")
				}
			}
			continue
		}

		removed := s.cache.InvalidateAll(ctx, event.DatasetID)
		s.registry.Evict(event.DatasetID)
		log.Info().
			Str("dataset", event.DatasetID).
			Str("event", event.Event).
			Int("cache_entries_removed", removed).
			Msg("Processed dataset event")

		if err := s.consumer.CommitMessages(ctx, msg); err != nil {
			log.Error().Err(err).Msg("Failed to commit dataset event")
		}
	}
}
