// Package cache stores successful downstream GET responses for a bounded time.
//
// Entries carry a TTL and a set of tags. Tagging every entry with its service
// name lets InvalidateTag drop a service's cached data in one call after a
// mutating request.
//
// Two stores are provided:
//
//   - MemoryStore: process-local, backed by github.com/coocood/freecache
//   - RedisStore: shared, backed by github.com/redis/go-redis/v9
//
// The memory store is the default. Its state is not shared between gateway
// instances.
package cache
