package scheduler

import (
	"context"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"

	"insight-engine-backend/config"
)

// NewScheduler runs periodic value-log garbage collection on the semantic
// cache store. TTL expiry itself is handled by Badger; GC reclaims the
// space expired entries leave behind.
func NewScheduler(lc fx.Lifecycle, cfg *config.Config, db *badger.DB) *cron.Cron {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.DowOptional | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))

	if cfg.Cache.InMemory {
		log.Info().Msg("In-memory semantic cache, skipping GC schedule")
		return c
	}

	schedule := cfg.Cache.GCSchedule
	_, err := c.AddFunc(schedule, func() {
		// RunValueLogGC rewrites at most one log file per call; loop until
		// it reports nothing left to collect.
		for {
			if err := db.RunValueLogGC(0.5); err != nil {
				if err != badger.ErrNoRewrite {
					log.Warn().Err(err).Msg("Semantic cache GC error")
				}
				return
			}
			log.Debug().Msg("Semantic cache GC rewrote a value log file")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Str("schedule", schedule).Msg("Failed to add cache GC cron job")
		return nil
	}
	log.Info().Str("schedule", schedule).Msg("Scheduled semantic cache GC")

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info().Msg("Starting cron scheduler")
			c.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("Stopping cron scheduler...")
			stopCtx := c.Stop()
			select {
			case <-stopCtx.Done():
				log.Info().Msg("Cron scheduler stopped gracefully.")
				return nil
			case <-ctx.Done():
				log.Error().Msg("Context cancelled while waiting for cron scheduler to stop.")
				return ctx.Err()
			}
		},
	})

	return c
}
