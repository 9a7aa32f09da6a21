// Package idempotency caches completed responses by request id so a repeated request replays
// the original result instead of running again.
package idempotency

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"opnxt/pkg/logx"
)

// Config controls where and for how long responses are kept.
type Config struct {
	Path           string        `koanf:"path"`
	InMemory       bool          `koanf:"in_memory"`
	TTL            time.Duration `koanf:"ttl"`
	GCInterval     time.Duration `koanf:"gc_interval"`
	GCDiscardRatio float64       `koanf:"gc_discard_ratio"`
}

// DefaultConfig returns a persistent configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		TTL:            24 * time.Hour,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests and ephemeral runs.
func InMemoryConfig() Config {
	return Config{InMemory: true, TTL: time.Hour}
}

// Cache is a TTL-bounded response cache keyed by (scope, request id).
type Cache struct {
	db     *badger.DB
	logger *logx.Logger
	stop   chan struct{}
	done   chan struct{}
	ttl    time.Duration
}

// Open opens the cache and starts value-log GC for persistent stores.
func Open(cfg Config) (*Cache, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("idempotency cache path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create idempotency cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil).WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open idempotency cache: %w", err)
	}

	c := &Cache{
		db:     db,
		logger: logx.NewLogger("idempotency"),
		ttl:    cfg.TTL,
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		c.stop = make(chan struct{})
		c.done = make(chan struct{})
		go c.runGC(cfg.GCInterval, ratio)
	}
	c.logger.Info("📦 Idempotency cache opened (in_memory=%v, ttl=%v)", cfg.InMemory, cfg.TTL)
	return c, nil
}

func key(scope, requestID string) []byte {
	return []byte("resp/" + scope + "/" + requestID)
}

// Get decodes the cached response for (scope, requestID) into out.
// It reports false when nothing is cached or the entry expired.
func (c *Cache) Get(scope, requestID string, out any) (bool, error) {
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(scope, requestID))
		if err != nil {
			return err //nolint:wrapcheck // classified below
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cached response %s/%s: %w", scope, requestID, err)
	}
	return true, nil
}

// Put stores v as the response for (scope, requestID).
func (c *Cache) Put(scope, requestID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode response %s/%s: %w", scope, requestID, err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key(scope, requestID), data)
		if c.ttl > 0 {
			entry = entry.WithTTL(c.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("failed to cache response %s/%s: %w", scope, requestID, err)
	}
	return nil
}

// Delete drops a cached response.
func (c *Cache) Delete(scope, requestID string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(scope, requestID))
	})
	if err != nil {
		return fmt.Errorf("failed to delete cached response %s/%s: %w", scope, requestID, err)
	}
	return nil
}

// Close stops GC and closes the store.
func (c *Cache) Close() error {
	if c.stop != nil {
		close(c.stop)
		<-c.done
	}
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close idempotency cache: %w", err)
	}
	return nil
}

func (c *Cache) runGC(interval time.Duration, ratio float64) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if err := c.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				c.logger.Warn("⚠️ value log GC failed: %v", err)
			}
		}
	}
}
