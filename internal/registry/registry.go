package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	// Registers the pgx driver under database/sql as "pgx".
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"

	"insight-engine-backend/internal/model"
	"insight-engine-backend/internal/repository"
)

// Registry is a concurrency-safe map from dataset id to a lazily
// constructed DatasetHandle with an open read-only connection pool. It
// replaces process-wide per-tenant singletons: eviction is explicit and is
// driven by the external "dataset changed" event.
type Registry struct {
	mu       sync.RWMutex
	handles  map[string]*model.DatasetHandle
	datasets repository.DatasetRepository
}

func NewRegistry(lc fx.Lifecycle, datasets repository.DatasetRepository) *Registry {
	r := &Registry{
		handles:  make(map[string]*model.DatasetHandle),
		datasets: datasets,
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			r.CloseAll()
			return nil
		},
	})
	return r
}

// Lookup returns the handle for a dataset, constructing and caching it on
// first use. Concurrent first lookups may both build a handle; the loser's
// pool is closed, last-write-wins is fine because handles are idempotent
// derivations of catalog rows.
func (r *Registry) Lookup(ctx context.Context, datasetID string) (*model.DatasetHandle, error) {
	r.mu.RLock()
	handle, ok := r.handles[datasetID]
	r.mu.RUnlock()
	if ok {
		return handle, nil
	}

	handle, err := r.build(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.handles[datasetID]; ok {
		_ = handle.DB.Close()
		return existing, nil
	}
	r.handles[datasetID] = handle
	return handle, nil
}

// Evict drops a dataset's handle and closes its pool. The next Lookup
// rebuilds from the catalog, picking up schema and DSN changes.
func (r *Registry) Evict(datasetID string) {
	r.mu.Lock()
	handle, ok := r.handles[datasetID]
	delete(r.handles, datasetID)
	r.mu.Unlock()

	if ok {
		if err := handle.DB.Close(); err != nil {
			log.Warn().Err(err).Str("dataset", datasetID).Msg("Error closing evicted dataset pool")
		}
		log.Info().Str("dataset", datasetID).Msg("Evicted dataset handle")
	}
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, handle := range r.handles {
		if err := handle.DB.Close(); err != nil {
			log.Warn().Err(err).Str("dataset", id).Msg("Error closing dataset pool")
		}
	}
	r.handles = make(map[string]*model.DatasetHandle)
	log.Info().Msg("Closed all dataset pools")
}

func (r *Registry) build(ctx context.Context, datasetID string) (*model.DatasetHandle, error) {
	ds, err := r.datasets.GetByID(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	var tables []model.TableSchema
	if ds.SchemaJSON != "" {
		if err := json.Unmarshal([]byte(ds.SchemaJSON), &tables); err != nil {
			return nil, fmt.Errorf("invalid schema for dataset %s: %w", datasetID, err)
		}
	}

	db, err := sql.Open("pgx", ds.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset connection: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping dataset %s: %w", datasetID, err)
	}

	log.Info().Str("dataset", datasetID).Str("name", ds.Name).Int("tables", len(tables)).Msg("Opened dataset handle")
	return &model.DatasetHandle{
		ID:     ds.ID,
		Name:   ds.Name,
		Tables: tables,
		DB:     db,
	}, nil
}
