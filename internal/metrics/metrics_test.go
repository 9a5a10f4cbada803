package metrics_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/service-router/internal/metrics"
)

var _ = Describe("Metrics", func() {
	var m *metrics.Metrics

	BeforeEach(func() {
		m = metrics.NewMetrics()
	})

	Describe("IncrementRequests", func() {
		It("should track services separately", func() {
			m.IncrementRequests("crm")
			m.IncrementRequests("gmail")
			m.IncrementRequests("crm")

			snap := m.Snapshot()
			Expect(snap.TotalRequests).To(Equal(int64(3)))
			Expect(snap.Services["crm"].Requests).To(Equal(int64(2)))
			Expect(snap.Services["gmail"].Requests).To(Equal(int64(1)))
		})
	})

	Describe("RecordCacheLookup", func() {
		It("should count hits and misses", func() {
			m.RecordCacheLookup("crm", true)
			m.RecordCacheLookup("crm", true)
			m.RecordCacheLookup("crm", false)

			crm := m.Snapshot().Services["crm"]
			Expect(crm.CacheHits).To(Equal(int64(2)))
			Expect(crm.CacheMisses).To(Equal(int64(1)))
		})
	})

	Describe("RecordResponse", func() {
		It("should record response time and status code", func() {
			m.RecordResponse("crm", 100*time.Millisecond, 200)
			m.RecordResponse("crm", 200*time.Millisecond, 200)

			crm := m.Snapshot().Services["crm"]
			Expect(crm.AvgResponse).To(Equal(150 * time.Millisecond))
			Expect(crm.StatusCodes[200]).To(Equal(int64(2)))
		})

		It("should calculate percentiles correctly", func() {
			for i := 1; i <= 100; i++ {
				m.RecordResponse("crm", time.Duration(i)*time.Millisecond, 200)
			}

			crm := m.Snapshot().Services["crm"]
			Expect(crm.P50Response).To(BeNumerically("~", 50*time.Millisecond, 1*time.Millisecond))
			Expect(crm.P95Response).To(BeNumerically("~", 95*time.Millisecond, 1*time.Millisecond))
			Expect(crm.P99Response).To(BeNumerically("~", 99*time.Millisecond, 1*time.Millisecond))
		})

		It("should limit stored response times to 1000", func() {
			for i := 1; i <= 1500; i++ {
				m.RecordResponse("crm", time.Duration(i)*time.Millisecond, 200)
			}

			Expect(m.Snapshot().Services["crm"].AvgResponse).To(BeNumerically(">", 500*time.Millisecond))
		})
	})

	Describe("RecordFailure", func() {
		It("should count failures by kind", func() {
			m.RecordFailure("gmail", "downstream", 502)
			m.RecordFailure("gmail", "downstream", 0)
			m.RecordFailure("gmail", "circuit_open", 0)

			gmail := m.Snapshot().Services["gmail"]
			Expect(gmail.Failures).To(Equal(map[string]int64{"downstream": 2, "circuit_open": 1}))
			Expect(gmail.StatusCodes).To(Equal(map[int]int64{502: 1}))
		})
	})

	Describe("UpdateCircuitState and UpdateHealthStatus", func() {
		It("should keep the latest value", func() {
			m.UpdateHealthStatus("crm", true)
			m.UpdateCircuitState("crm", "OPEN")
			m.UpdateCircuitState("crm", "HALF_OPEN")

			crm := m.Snapshot().Services["crm"]
			Expect(crm.Healthy).To(BeTrue())
			Expect(crm.CircuitState).To(Equal("HALF_OPEN"))

			m.UpdateHealthStatus("crm", false)
			Expect(m.Snapshot().Services["crm"].Healthy).To(BeFalse())
		})
	})

	Describe("Snapshot", func() {
		It("should handle empty metrics", func() {
			snap := m.Snapshot()
			Expect(snap.TotalRequests).To(Equal(int64(0)))
			Expect(snap.Services).To(BeEmpty())
		})

		It("should include uptime", func() {
			time.Sleep(10 * time.Millisecond)
			Expect(m.Snapshot().Uptime).To(BeNumerically(">", 0))
		})

		It("should not share maps with later updates", func() {
			m.RecordResponse("crm", time.Millisecond, 200)
			snap := m.Snapshot()

			m.RecordResponse("crm", time.Millisecond, 200)
			Expect(snap.Services["crm"].StatusCodes[200]).To(Equal(int64(1)))
		})
	})
})
