package cache

import (
	"context"
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"

	"insight-engine-backend/config"
)

// ErrMiss is the sentinel for an absent or expired key.
var ErrMiss = errors.New("cache miss")

// KV is the narrow persistent key-value contract the semantic cache sits
// on. Implementations may fail; callers above this line must degrade
// rather than propagate.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte, ttl time.Duration) error
	Delete(key []byte) error
	DeletePrefix(prefix []byte) (int, error)
}

// ProvideBadger opens the BadgerDB instance backing the semantic cache and
// ties its lifecycle to the fx app. TTL expiry is enforced by Badger
// itself; the scheduler runs value-log GC.
func ProvideBadger(lc fx.Lifecycle, cfg *config.Config) (*badger.DB, error) {
	opts := badger.DefaultOptions(cfg.Cache.Dir).WithLogger(nil)
	if cfg.Cache.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	log.Info().Str("dir", cfg.Cache.Dir).Bool("in_memory", cfg.Cache.InMemory).Msg("Semantic cache store opened")

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("Closing semantic cache store...")
			return db.Close()
		},
	})
	return db, nil
}

type badgerKV struct {
	db *badger.DB
}

func NewBadgerKV(db *badger.DB) KV {
	return &badgerKV{db: db}
}

func (b *badgerKV) Get(key []byte) ([]byte, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (b *badgerKV) Set(key, value []byte, ttl time.Duration) error {
	return b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (b *badgerKV) Delete(key []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (b *badgerKV) DeletePrefix(prefix []byte) (int, error) {
	// Collect first, then delete: Badger iterators are read-only inside a
	// View transaction.
	keys := make([][]byte, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, key := range keys {
		if err := b.Delete(key); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
