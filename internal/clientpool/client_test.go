package clientpool_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/service-router/internal/clientpool"
	"github.com/angeloszaimis/service-router/pkg/logger"
)

var _ = Describe("ServiceClient", func() {
	var (
		server   *httptest.Server
		client   *clientpool.ServiceClient
		lastReq  atomic.Pointer[http.Request]
		lastBody atomic.Value
	)

	newClient := func(url string, svc clientpool.ServiceConfig) *clientpool.ServiceClient {
		svc.Name = "crm"
		svc.URL = url
		pool := clientpool.New(logger.Discard(), clientpool.DefaultOptions(), []clientpool.ServiceConfig{svc})
		c, err := pool.Get("crm")
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	BeforeEach(func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			lastReq.Store(r.Clone(context.Background()))
			lastBody.Store(string(body))

			switch r.URL.Path {
			case "/api/contacts":
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`[{"id":"c1"}]`))
			case "/api/missing":
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"error":"not found"}`))
			case "/api/broken":
				w.WriteHeader(http.StatusInternalServerError)
			case "/api/big":
				w.Write([]byte(strings.Repeat("x", 2048)))
			case "/api/slow":
				select {
				case <-time.After(2 * time.Second):
				case <-r.Context().Done():
				}
			case "/health":
				w.WriteHeader(http.StatusOK)
			default:
				w.WriteHeader(http.StatusOK)
			}
		}))

		client = newClient(server.URL+"/api", clientpool.ServiceConfig{})
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("Do", func() {
		It("should return the body of a successful response", func() {
			resp, err := client.Do(context.Background(), clientpool.Request{Endpoint: "/contacts"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(resp.Body)).To(Equal(`[{"id":"c1"}]`))
		})

		It("should keep the base path and add query params", func() {
			_, err := client.Do(context.Background(), clientpool.Request{
				Endpoint: "/contacts",
				Query:    map[string]string{"limit": "10", "q": "acme corp"},
			})
			Expect(err).NotTo(HaveOccurred())

			req := lastReq.Load()
			Expect(req.URL.Path).To(Equal("/api/contacts"))
			Expect(req.URL.Query().Get("limit")).To(Equal("10"))
			Expect(req.URL.Query().Get("q")).To(Equal("acme corp"))
		})

		It("should send method, headers and body", func() {
			_, err := client.Do(context.Background(), clientpool.Request{
				Method:   "post",
				Endpoint: "/contacts",
				Header:   map[string]string{"Authorization": "Bearer token"},
				Body:     []byte(`{"name":"Ada"}`),
			})
			Expect(err).NotTo(HaveOccurred())

			req := lastReq.Load()
			Expect(req.Method).To(Equal(http.MethodPost))
			Expect(req.Header.Get("Authorization")).To(Equal("Bearer token"))
			Expect(req.Header.Get("Content-Type")).To(Equal("application/json"))
			Expect(lastBody.Load()).To(Equal(`{"name":"Ada"}`))
		})

		It("should generate a request id when none is given", func() {
			_, err := client.Do(context.Background(), clientpool.Request{Endpoint: "/contacts"})
			Expect(err).NotTo(HaveOccurred())
			Expect(lastReq.Load().Header.Get("X-Request-ID")).To(HaveLen(36))
		})

		It("should keep a caller supplied request id", func() {
			_, err := client.Do(context.Background(), clientpool.Request{
				Endpoint: "/contacts",
				Header:   map[string]string{"X-Request-ID": "req-123"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(lastReq.Load().Header.Get("X-Request-ID")).To(Equal("req-123"))
		})

		It("should return a StatusError for non-2xx responses", func() {
			resp, err := client.Do(context.Background(), clientpool.Request{Endpoint: "/missing"})
			Expect(err).To(HaveOccurred())

			var statusErr *clientpool.StatusError
			Expect(err).To(BeAssignableToTypeOf(statusErr))
			Expect(clientpool.StatusCode(err)).To(Equal(http.StatusNotFound))
			Expect(err.Error()).To(ContainSubstring("not found"))
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should report 5xx responses without a body", func() {
			_, err := client.Do(context.Background(), clientpool.Request{Endpoint: "/broken"})
			Expect(clientpool.StatusCode(err)).To(Equal(http.StatusInternalServerError))
			Expect(err.Error()).To(ContainSubstring("500 Internal Server Error"))
		})

		It("should abort when the context deadline passes", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			start := time.Now()
			_, err := client.Do(ctx, clientpool.Request{Endpoint: "/slow"})
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(time.Since(start)).To(BeNumerically("<", time.Second))
		})

		It("should fail on connection errors", func() {
			dead := newClient("http://127.0.0.1:1", clientpool.ServiceConfig{})
			_, err := dead.Do(context.Background(), clientpool.Request{Endpoint: "/contacts"})
			Expect(err).To(HaveOccurred())
			Expect(clientpool.StatusCode(err)).To(Equal(0))
		})
	})

	Describe("size limits", func() {
		var limited *clientpool.ServiceClient

		BeforeEach(func() {
			limited = newClient(server.URL+"/api", clientpool.ServiceConfig{
				MaxRequestBytes:  16,
				MaxResponseBytes: 1024,
			})
		})

		It("should reject oversize request bodies before sending", func() {
			lastReq.Store(nil)
			_, err := limited.Do(context.Background(), clientpool.Request{
				Method:   http.MethodPost,
				Endpoint: "/contacts",
				Body:     []byte(strings.Repeat("y", 17)),
			})
			Expect(err).To(MatchError(clientpool.ErrRequestTooLarge))
			Expect(lastReq.Load()).To(BeNil())
		})

		It("should expose the request check", func() {
			Expect(limited.CheckRequestSize(16)).To(Succeed())
			Expect(limited.CheckRequestSize(17)).To(MatchError(clientpool.ErrRequestTooLarge))
		})

		It("should reject oversize responses", func() {
			_, err := limited.Do(context.Background(), clientpool.Request{Endpoint: "/big"})
			Expect(err).To(MatchError(clientpool.ErrResponseTooLarge))
		})
	})

	Describe("tracking", func() {
		It("should record latency after a response", func() {
			Expect(client.EWMALatency()).To(BeZero())
			_, err := client.Do(context.Background(), clientpool.Request{Endpoint: "/contacts"})
			Expect(err).NotTo(HaveOccurred())
			Expect(client.EWMALatency()).To(BeNumerically(">", 0))
		})

		It("should count in-flight requests", func() {
			done := make(chan struct{})
			go func() {
				defer close(done)
				ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
				defer cancel()
				client.Do(ctx, clientpool.Request{Endpoint: "/slow"})
			}()

			Eventually(client.InFlight).Should(Equal(1))
			Eventually(done).Should(BeClosed())
			Expect(client.InFlight()).To(Equal(0))
		})
	})

	Describe("Probe", func() {
		It("should report the health endpoint status", func() {
			status, err := client.Probe(context.Background(), "/health")
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusOK))
		})
	})
})
