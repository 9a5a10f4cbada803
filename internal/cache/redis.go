package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "service-router"

// RedisStore keeps entries in redis so several gateway instances share one
// cache. Values live under "<prefix>:entry:<key>" with a native TTL; each tag is
// a set of keys under "<prefix>:tag:<tag>".
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) entryKey(key string) string {
	return s.prefix + ":entry:" + key
}

func (s *RedisStore) tagKey(tag string) string {
	return s.prefix + ":tag:" + tag
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, s.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	if ttl <= 0 {
		ttl = time.Second
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.entryKey(key), value, ttl)
		for _, tag := range tags {
			pipe.SAdd(ctx, s.tagKey(tag), key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// InvalidateTag deletes the tagged entries that still exist and drops the tag
// set. Entries that already expired are not counted.
func (s *RedisStore) InvalidateTag(ctx context.Context, tag string) (int, error) {
	tagKey := s.tagKey(tag)

	keys, err := s.client.SMembers(ctx, tagKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis smembers: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	entryKeys := make([]string, len(keys))
	for i, key := range keys {
		entryKeys[i] = s.entryKey(key)
	}

	var deleted *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, entryKeys...)
		pipe.Del(ctx, tagKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return int(deleted.Val()), nil
}

// Len counts the entries under the store prefix with SCAN.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	var (
		cursor uint64
		n      int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.entryKey("*"), 100).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan: %w", err)
		}
		n += len(keys)
		cursor = next
		if cursor == 0 {
			return n, nil
		}
	}
}
