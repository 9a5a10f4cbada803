package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/coocood/freecache"
)

// DefaultMemorySize is the freecache ring buffer size. A single entry may use at
// most 1/1024 of it.
const DefaultMemorySize = 64 << 20

// Clock returns the current time. Tests inject a fake one.
type Clock func() time.Time

type clockTimer struct {
	now Clock
}

func (t clockTimer) Now() uint32 {
	return uint32(t.now().Unix())
}

type entryMeta struct {
	expiresAt time.Time
	tags      []string
}

// MemoryStore keeps entries in a freecache ring buffer. Freecache only knows
// keys, so the store keeps a side index of expiry and tags per key. The index
// may briefly hold keys freecache already evicted; those are dropped on the
// next Get or Sweep.
type MemoryStore struct {
	cache *freecache.Cache
	now   Clock

	mutex   sync.Mutex
	entries map[string]entryMeta
	tags    map[string]map[string]struct{}
}

type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	size  int
	clock Clock
}

// WithMemorySize sets the ring buffer size in bytes.
func WithMemorySize(size int) MemoryOption {
	return func(o *memoryOptions) {
		if size > 0 {
			o.size = size
		}
	}
}

// WithClock replaces time.Now.
func WithClock(clock Clock) MemoryOption {
	return func(o *memoryOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	o := memoryOptions{size: DefaultMemorySize, clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &MemoryStore{
		cache:   freecache.NewCacheCustomTimer(o.size, clockTimer{now: o.clock}),
		now:     o.clock,
		entries: make(map[string]entryMeta),
		tags:    make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, err := s.cache.Get([]byte(key))
	if err != nil && !errors.Is(err, freecache.ErrNotFound) {
		return nil, false, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if errors.Is(err, freecache.ErrNotFound) {
		// A concurrent Set may have stored the key since the lookup.
		if _, err := s.cache.TTL([]byte(key)); err != nil {
			s.removeLocked(key)
		}
		return nil, false, nil
	}

	// freecache expires on whole seconds; the index holds the exact deadline.
	meta, ok := s.entries[key]
	if !ok || !s.now().Before(meta.expiresAt) {
		s.cache.Del([]byte(key))
		s.removeLocked(key)
		return nil, false, nil
	}
	return value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	if ttl <= 0 {
		ttl = time.Second
	}
	seconds := ttlSeconds(ttl)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.cache.Set([]byte(key), value, seconds); err != nil {
		if errors.Is(err, freecache.ErrLargeEntry) || errors.Is(err, freecache.ErrLargeKey) {
			return fmt.Errorf("%w: %d bytes", ErrEntryTooLarge, len(value))
		}
		return err
	}

	s.removeLocked(key)

	meta := entryMeta{
		expiresAt: s.now().Add(ttl),
		tags:      append([]string(nil), tags...),
	}
	s.entries[key] = meta
	for _, tag := range meta.tags {
		keys, ok := s.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			s.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
	return nil
}

// InvalidateTag deletes every live entry tagged with tag and reports how many
// were removed.
func (s *MemoryStore) InvalidateTag(_ context.Context, tag string) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	keys := s.tags[tag]
	now := s.now()
	removed := 0
	for key := range keys {
		meta := s.entries[key]
		if s.cache.Del([]byte(key)) && now.Before(meta.expiresAt) {
			removed++
		}
		s.removeLocked(key)
	}
	delete(s.tags, tag)
	return removed, nil
}

// Len returns the number of unexpired entries.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	n := 0
	for _, meta := range s.entries {
		if now.Before(meta.expiresAt) {
			n++
		}
	}
	return n, nil
}

// Sweep drops expired and evicted entries from the index and returns how many
// were purged.
func (s *MemoryStore) Sweep() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	purged := 0
	for key, meta := range s.entries {
		if !now.Before(meta.expiresAt) {
			s.cache.Del([]byte(key))
			s.removeLocked(key)
			purged++
			continue
		}
		if _, err := s.cache.TTL([]byte(key)); err != nil {
			s.removeLocked(key)
			purged++
		}
	}
	return purged
}

func (s *MemoryStore) removeLocked(key string) {
	meta, ok := s.entries[key]
	if !ok {
		return
	}
	delete(s.entries, key)
	for _, tag := range meta.tags {
		keys := s.tags[tag]
		delete(keys, key)
		if len(keys) == 0 {
			delete(s.tags, tag)
		}
	}
}

// ttlSeconds is the freecache expiry for ttl. freecache truncates its clock to
// whole seconds, so the extra second keeps an entry alive until the index
// deadline has passed.
func ttlSeconds(ttl time.Duration) int {
	seconds := math.Ceil(ttl.Seconds()) + 1
	if seconds > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(seconds)
}
