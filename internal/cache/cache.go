package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	DefaultTTL           = 300 * time.Second
	DefaultSweepInterval = 60 * time.Second
)

// Stats are the running cache counters.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Entries int     `json:"entries"`
}

// Cache wraps a Store with hit/miss accounting and a default TTL. Store errors
// never reach the caller: a failing Get is a miss and a failing Set is logged.
type Cache struct {
	store         Store
	defaultTTL    time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

type Option func(*Cache)

func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

func WithSweepInterval(interval time.Duration) Option {
	return func(c *Cache) {
		if interval > 0 {
			c.sweepInterval = interval
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:         store,
		defaultTTL:    DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		logger:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) DefaultTTL() time.Duration {
	return c.defaultTTL
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	value, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache get failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
		ok = false
	}

	if ok {
		c.hits.Add(1)
		return value, true
	}
	c.misses.Add(1)
	return nil, false
}

// Set stores value for ttl, or the default TTL when ttl is not positive.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	err := c.store.Set(ctx, key, value, ttl, tags)
	switch {
	case errors.Is(err, ErrEntryTooLarge):
		c.logger.Debug("response not cached",
			slog.String("key", key),
			slog.String("error", err.Error()))
	case err != nil:
		c.logger.Warn("cache set failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
}

// InvalidateTag removes every entry tagged with tag and returns the number
// removed.
func (c *Cache) InvalidateTag(ctx context.Context, tag string) int {
	n, err := c.store.InvalidateTag(ctx, tag)
	if err != nil {
		c.logger.Warn("cache invalidation failed",
			slog.String("tag", tag),
			slog.String("error", err.Error()))
		return n
	}

	c.logger.Info("cache invalidated",
		slog.String("tag", tag),
		slog.Int("removed", n))
	return n
}

func (c *Cache) Stats(ctx context.Context) Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	stats := Stats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}

	entries, err := c.store.Len(ctx)
	if err != nil {
		c.logger.Warn("cache size unavailable", slog.String("error", err.Error()))
	}
	stats.Entries = entries
	return stats
}

// Start sweeps expired entries until ctx is done. It returns immediately for
// stores that expire entries on their own.
func (c *Cache) Start(ctx context.Context) {
	sweeper, ok := c.store.(Sweeper)
	if !ok {
		return
	}

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sweeper.Sweep(); n > 0 {
				c.logger.Debug("cache sweep", slog.Int("purged", n))
			}
		}
	}
}
