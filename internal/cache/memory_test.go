package cache_test

import (
	"context"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/service-router/internal/cache"
)

var _ = Describe("MemoryStore", func() {
	var (
		ctx   context.Context
		clock *fakeClock
		store *cache.MemoryStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		clock = newFakeClock()
		store = cache.NewMemoryStore(cache.WithMemorySize(1<<20), cache.WithClock(clock.Now))
	})

	It("should return a stored value", func() {
		Expect(store.Set(ctx, "k", []byte("v"), time.Minute, nil)).To(Succeed())

		value, ok, err := store.Get(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(value).To(Equal([]byte("v")))
	})

	It("should report a miss for unknown keys", func() {
		_, ok, err := store.Get(ctx, "missing")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("should treat expired entries as misses", func() {
		Expect(store.Set(ctx, "k", []byte("v"), 300*time.Second, nil)).To(Succeed())

		clock.Advance(299 * time.Second)
		_, ok, _ := store.Get(ctx, "k")
		Expect(ok).To(BeTrue())

		clock.Advance(time.Second)
		_, ok, _ = store.Get(ctx, "k")
		Expect(ok).To(BeFalse())
	})

	It("should expire sub-second TTLs at their exact deadline", func() {
		Expect(store.Set(ctx, "k", []byte("v"), 10*time.Millisecond, nil)).To(Succeed())
		_, ok, _ := store.Get(ctx, "k")
		Expect(ok).To(BeTrue())

		clock.Advance(10 * time.Millisecond)
		_, ok, _ = store.Get(ctx, "k")
		Expect(ok).To(BeFalse())
		Expect(store.Len(ctx)).To(Equal(0))
	})

	DescribeTable("should keep an entry for its full TTL when set late in a second",
		func(offset, ttl time.Duration) {
			clock.Advance(offset)
			Expect(store.Set(ctx, "k", []byte("v"), ttl, nil)).To(Succeed())

			clock.Advance(ttl - time.Millisecond)
			value, ok, err := store.Get(ctx, "k")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(value).To(Equal([]byte("v")))

			clock.Advance(time.Millisecond)
			_, ok, _ = store.Get(ctx, "k")
			Expect(ok).To(BeFalse())
		},
		Entry("one second ttl at .999", 999*time.Millisecond, time.Second),
		Entry("one minute ttl at .900", 900*time.Millisecond, time.Minute),
		Entry("sub-second ttl at .500", 500*time.Millisecond, 700*time.Millisecond),
	)

	It("should return a value right after setting it late in a second", func() {
		clock.Advance(999 * time.Millisecond)
		store.Set(ctx, "k", []byte("v"), time.Second, nil)
		clock.Advance(2 * time.Millisecond)

		_, ok, _ := store.Get(ctx, "k")
		Expect(ok).To(BeTrue())
	})

	It("should overwrite with last write wins", func() {
		store.Set(ctx, "k", []byte("v1"), time.Minute, nil)
		store.Set(ctx, "k", []byte("v2"), time.Minute, nil)

		value, _, _ := store.Get(ctx, "k")
		Expect(value).To(Equal([]byte("v2")))
		Expect(store.Len(ctx)).To(Equal(1))
	})

	It("should refuse entries larger than the segment limit", func() {
		err := store.Set(ctx, "big", []byte(strings.Repeat("x", 4096)), time.Minute, []string{"crm"})
		Expect(err).To(MatchError(cache.ErrEntryTooLarge))
		Expect(store.Len(ctx)).To(Equal(0))
	})

	Describe("InvalidateTag", func() {
		BeforeEach(func() {
			store.Set(ctx, "crm:1", []byte("a"), time.Minute, []string{"crm"})
			store.Set(ctx, "crm:2", []byte("b"), time.Minute, []string{"crm"})
			store.Set(ctx, "gmail:1", []byte("c"), time.Minute, []string{"gmail"})
		})

		It("should remove only the tagged entries", func() {
			n, err := store.InvalidateTag(ctx, "crm")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))

			_, ok, _ := store.Get(ctx, "crm:1")
			Expect(ok).To(BeFalse())
			_, ok, _ = store.Get(ctx, "gmail:1")
			Expect(ok).To(BeTrue())
		})

		It("should return zero for an unknown tag", func() {
			Expect(store.InvalidateTag(ctx, "slack")).To(Equal(0))
		})

		It("should not count expired entries", func() {
			clock.Advance(2 * time.Minute)
			Expect(store.InvalidateTag(ctx, "crm")).To(Equal(0))
		})

		It("should drop a re-tagged key from its old tag", func() {
			store.Set(ctx, "crm:1", []byte("a2"), time.Minute, []string{"other"})
			Expect(store.InvalidateTag(ctx, "crm")).To(Equal(1))

			value, ok, _ := store.Get(ctx, "crm:1")
			Expect(ok).To(BeTrue())
			Expect(value).To(Equal([]byte("a2")))
		})
	})

	Describe("Sweep", func() {
		It("should purge expired entries", func() {
			store.Set(ctx, "short", []byte("a"), time.Second, []string{"crm"})
			store.Set(ctx, "long", []byte("b"), time.Hour, []string{"crm"})
			Expect(store.Len(ctx)).To(Equal(2))

			clock.Advance(time.Minute)
			Expect(store.Len(ctx)).To(Equal(1))
			Expect(store.Sweep()).To(Equal(1))
			Expect(store.Sweep()).To(Equal(0))
			Expect(store.InvalidateTag(ctx, "crm")).To(Equal(1))
		})
	})
})
