package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"insight-engine-backend/config"
)

// keyPrefix is versioned so the entry format can change without collisions.
const keyPrefix = "semcache/v1/"

// SemanticCache maps (dataset, question) to the last known-good SQL text.
// It never stores result rows: cached SQL is always re-executed so results
// reflect the live dataset. Backend failures degrade to miss/no-op and are
// logged, never surfaced.
type SemanticCache interface {
	Get(ctx context.Context, datasetID, question string) (string, bool)
	Put(ctx context.Context, datasetID, question, sql string)
	Invalidate(ctx context.Context, datasetID, question string)
	InvalidateAll(ctx context.Context, datasetID string) int
}

type entry struct {
	SQL       string    `json:"sql"`
	WrittenAt time.Time `json:"written_at"`
}

type semanticCache struct {
	kv  KV
	ttl time.Duration
}

func NewSemanticCache(kv KV, cfg *config.Config) SemanticCache {
	return &semanticCache{kv: kv, ttl: cfg.Cache.TTL}
}

func (c *semanticCache) Get(ctx context.Context, datasetID, question string) (string, bool) {
	raw, err := c.kv.Get(cacheKey(datasetID, question))
	if errors.Is(err, ErrMiss) {
		return "", false
	}
	if err != nil {
		log.Warn().Err(err).Str("dataset", datasetID).Msg("Semantic cache unavailable, treating as miss")
		return "", false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		log.Warn().Err(err).Str("dataset", datasetID).Msg("Corrupt semantic cache entry, treating as miss")
		return "", false
	}
	log.Debug().Str("dataset", datasetID).Time("written_at", e.WrittenAt).Msg("Semantic cache hit")
	return e.SQL, true
}

func (c *semanticCache) Put(ctx context.Context, datasetID, question, sql string) {
	raw, err := json.Marshal(entry{SQL: sql, WrittenAt: time.Now().UTC()})
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode semantic cache entry")
		return
	}
	if err := c.kv.Set(cacheKey(datasetID, question), raw, c.ttl); err != nil {
		log.Warn().Err(err).Str("dataset", datasetID).Msg("Semantic cache put failed, skipping")
	}
}

func (c *semanticCache) Invalidate(ctx context.Context, datasetID, question string) {
	if err := c.kv.Delete(cacheKey(datasetID, question)); err != nil && !errors.Is(err, ErrMiss) {
		log.Warn().Err(err).Str("dataset", datasetID).Msg("Semantic cache invalidate failed")
	}
}

func (c *semanticCache) InvalidateAll(ctx context.Context, datasetID string) int {
	count, err := c.kv.DeletePrefix(datasetPrefix(datasetID))
	if err != nil {
		log.Warn().Err(err).Str("dataset", datasetID).Msg("Semantic cache invalidate-all failed")
	}
	log.Info().Str("dataset", datasetID).Int("entries", count).Msg("Invalidated semantic cache for dataset")
	return count
}

func datasetPrefix(datasetID string) []byte {
	return []byte(keyPrefix + datasetID + "/")
}

// cacheKey hashes the raw question: identical strings always collide to
// the same entry, case and whitespace sensitivity included.
func cacheKey(datasetID, question string) []byte {
	sum := sha256.Sum256([]byte(datasetID + "\x00" + question))
	return []byte(fmt.Sprintf("%s%s/%s", keyPrefix, datasetID, hex.EncodeToString(sum[:])))
}
