package cache

import (
	"context"
	"errors"
	"time"
)

// ErrEntryTooLarge is returned by a store that cannot hold a value of the
// given size. The entry is simply not cached.
var ErrEntryTooLarge = errors.New("cache entry too large")

// Store is the storage backend of a Cache. A miss is reported as ok == false
// with a nil error; expired entries are misses.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error
	InvalidateTag(ctx context.Context, tag string) (int, error)
	Len(ctx context.Context) (int, error)
}

// Sweeper is implemented by stores that need periodic purging of expired
// bookkeeping.
type Sweeper interface {
	Sweep() int
}
