package cache_test

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/angeloszaimis/service-router/internal/cache"
)

var _ = Describe("RedisStore", func() {
	var (
		ctx    context.Context
		mini   *miniredis.Miniredis
		client *redis.Client
		store  *cache.RedisStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		mini = miniredis.RunT(GinkgoT())
		client = redis.NewClient(&redis.Options{Addr: mini.Addr()})
		DeferCleanup(client.Close)
		store = cache.NewRedisStore(client, "test")
	})

	It("should store values under the prefix with a TTL", func() {
		Expect(store.Set(ctx, "crm:GET:/contacts:1", []byte(`[1]`), time.Minute, []string{"crm"})).To(Succeed())

		Expect(mini.Exists("test:entry:crm:GET:/contacts:1")).To(BeTrue())
		Expect(mini.TTL("test:entry:crm:GET:/contacts:1")).To(Equal(time.Minute))

		value, ok, err := store.Get(ctx, "crm:GET:/contacts:1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(value).To(Equal([]byte(`[1]`)))
	})

	It("should report a miss for unknown keys", func() {
		_, ok, err := store.Get(ctx, "missing")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("should expire entries", func() {
		store.Set(ctx, "k", []byte("v"), 300*time.Second, nil)

		mini.FastForward(301 * time.Second)

		_, ok, err := store.Get(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("should invalidate only the tagged entries", func() {
		store.Set(ctx, "crm:1", []byte("a"), time.Minute, []string{"crm"})
		store.Set(ctx, "crm:2", []byte("b"), time.Minute, []string{"crm"})
		store.Set(ctx, "gmail:1", []byte("c"), time.Minute, []string{"gmail"})

		n, err := store.InvalidateTag(ctx, "crm")
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))
		Expect(mini.Exists("test:tag:crm")).To(BeFalse())

		_, ok, _ := store.Get(ctx, "gmail:1")
		Expect(ok).To(BeTrue())
		Expect(store.Len(ctx)).To(Equal(1))
	})

	It("should not count expired entries on invalidation", func() {
		store.Set(ctx, "crm:1", []byte("a"), time.Second, []string{"crm"})
		store.Set(ctx, "crm:2", []byte("b"), time.Hour, []string{"crm"})

		mini.FastForward(2 * time.Second)

		Expect(store.InvalidateTag(ctx, "crm")).To(Equal(1))
	})

	It("should count entries", func() {
		for _, key := range []string{"a", "b", "c"} {
			store.Set(ctx, key, []byte(key), time.Minute, []string{"crm"})
		}
		Expect(store.Len(ctx)).To(Equal(3))
	})

	It("should surface connection errors", func() {
		dead := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
		DeferCleanup(dead.Close)
		_, _, err := cache.NewRedisStore(dead, "test").Get(ctx, "k")
		Expect(err).To(HaveOccurred())
	})
})
