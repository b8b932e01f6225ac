// Package configcache holds a process-local snapshot of the active
// PositionConfig set, refreshed lazily on a TTL per spec §4.3. Every
// trade in a batch is evaluated against every active config, so
// hitting the store per trade is prohibitive; this cache amortizes
// that lookup across a refresh window.
package configcache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/positionledger/posengine/internal/model"
)

// Loader fetches the current active config set from the source of
// truth. Satisfied by store.Store.FindActiveConfigs.
type Loader func(ctx context.Context) ([]model.PositionConfig, error)

// Cache is a lazily-refreshed, read-mostly snapshot of active configs.
// Reads during a reload observe either the old or the new set
// atomically, never a partial one — the snapshot is swapped by
// pointer under a single mutex, never mutated in place.
type Cache struct {
	mu          sync.RWMutex
	load        Loader
	ttl         time.Duration
	snapshot    []model.PositionConfig
	lastRefresh time.Time

	rdb     *redis.Client
	channel string
}

// New creates a Cache that reloads from load whenever a read observes
// the snapshot to be older than ttl (or empty).
func New(load Loader, ttl time.Duration) *Cache {
	return &Cache{load: load, ttl: ttl}
}

// WithInvalidation wires a Redis pub/sub channel that other processes
// publish to on config CRUD, so a local cache can be force-refreshed
// on the next read instead of waiting out the full ttl. Call once,
// before Subscribe is used; safe to omit for single-process
// deployments.
func (c *Cache) WithInvalidation(rdb *redis.Client, channel string) *Cache {
	c.rdb = rdb
	c.channel = channel
	return c
}

// Subscribe listens for invalidation messages until ctx is cancelled.
// Each message forces the next Active to reload regardless of ttl. Meant
// to run in its own goroutine.
func (c *Cache) Subscribe(ctx context.Context) {
	if c.rdb == nil {
		return
	}
	sub := c.rdb.Subscribe(ctx, c.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			c.mu.Lock()
			c.lastRefresh = time.Time{}
			c.mu.Unlock()
		}
	}
}

// Invalidate publishes an invalidation message so every other process
// sharing this Redis instance drops its cached snapshot on next read.
// The config CRUD handlers in internal/httpapi do not call it, so a
// config change made through them reaches a running cache when its ttl
// expires.
func (c *Cache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	c.lastRefresh = time.Time{}
	c.mu.Unlock()

	if c.rdb == nil {
		return nil
	}
	return c.rdb.Publish(ctx, c.channel, []byte("invalidate")).Err()
}

// Active returns the current active config snapshot, refreshing it
// first if it is empty or older than ttl.
func (c *Cache) Active(ctx context.Context) ([]model.PositionConfig, error) {
	c.mu.RLock()
	stale := len(c.snapshot) == 0 || time.Since(c.lastRefresh) > c.ttl
	snapshot := c.snapshot
	c.mu.RUnlock()

	if !stale {
		return snapshot, nil
	}
	return c.refresh(ctx)
}

func (c *Cache) refresh(ctx context.Context) ([]model.PositionConfig, error) {
	configs, err := c.load(ctx)
	if err != nil {
		// Reads during a failed reload keep serving the previous
		// snapshot rather than propagate a store hiccup to every trade
		// in the batch.
		c.mu.RLock()
		snapshot := c.snapshot
		c.mu.RUnlock()
		if len(snapshot) > 0 {
			return snapshot, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.snapshot = configs
	c.lastRefresh = time.Now()
	c.mu.Unlock()

	return configs, nil
}

// Matching returns the active configs whose scope matches t, per the
// AND-semantics of Scope.Matches.
func (c *Cache) Matching(ctx context.Context, t *model.Trade) ([]model.PositionConfig, error) {
	all, err := c.Active(ctx)
	if err != nil {
		return nil, err
	}
	var matched []model.PositionConfig
	for _, cfg := range all {
		if cfg.Scope.Matches(t) {
			matched = append(matched, cfg)
		}
	}
	return matched, nil
}
