package clientpool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	ewmaAlpha       = 0.2
	requestIDHeader = "X-Request-ID"
)

// Request is one outbound call relative to the service base URL.
type Request struct {
	Method   string
	Endpoint string
	Header   map[string]string
	Query    map[string]string
	Body     []byte
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ServiceClient is the connection profile of one downstream service. Its
// configuration never changes after construction; only the in-flight and
// latency counters move.
type ServiceClient struct {
	name             string
	baseURL          *url.URL
	timeout          time.Duration
	maxRequestBytes  int64
	maxResponseBytes int64
	rules            []TimeoutRule
	httpClient       *http.Client
	logger           *slog.Logger

	mutex       sync.Mutex
	inFlight    int
	ewmaLatency time.Duration
	hasEWMA     bool
}

// Name returns the service name.
func (c *ServiceClient) Name() string {
	return c.name
}

// BaseURL returns a copy of the service base URL.
func (c *ServiceClient) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

func (c *ServiceClient) Timeout() time.Duration {
	return c.timeout
}

func (c *ServiceClient) MaxRequestBytes() int64 {
	return c.maxRequestBytes
}

func (c *ServiceClient) MaxResponseBytes() int64 {
	return c.maxResponseBytes
}

// TimeoutFor returns the effective timeout for endpoint. A matching rule only
// ever extends the service timeout, it never shortens it.
func (c *ServiceClient) TimeoutFor(endpoint string) time.Duration {
	if t, ok := matchRule(c.rules, endpoint); ok {
		return max(t, c.timeout)
	}
	return c.timeout
}

// CheckRequestSize rejects bodies over the request limit without sending anything.
func (c *ServiceClient) CheckRequestSize(n int) error {
	if int64(n) > c.maxRequestBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrRequestTooLarge, n, c.maxRequestBytes)
	}
	return nil
}

// Do sends req and reads the whole response body. The caller's context bounds
// the call; cancelling it aborts the in-flight request. Non-2xx responses are
// returned together with a *StatusError.
func (c *ServiceClient) Do(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	log := c.logger.With(
		slog.String("service", c.name),
		slog.String("endpoint", req.Endpoint),
		slog.String("method", method),
	)

	if err := c.CheckRequestSize(len(req.Body)); err != nil {
		log.Error("request rejected", slog.String("error", err.Error()))
		return nil, err
	}

	httpReq, err := c.buildRequest(ctx, method, req)
	if err != nil {
		log.Error("failed to build request", slog.String("error", err.Error()))
		return nil, err
	}

	log.Info("outbound request",
		slog.Duration("timeout", remaining(ctx)),
		slog.String("request_id", httpReq.Header.Get(requestIDHeader)))

	c.incrementInFlight()
	defer c.decrementInFlight()

	start := time.Now()
	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Error("outbound request failed", slog.String("error", err.Error()))
		return nil, err
	}
	defer res.Body.Close()

	body, err := c.readBody(res)
	c.recordLatency(time.Since(start))
	if err != nil {
		log.Error("failed to read response",
			slog.Int("status", res.StatusCode),
			slog.String("error", err.Error()))
		return nil, err
	}

	resp := &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       body,
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		statusErr := &StatusError{StatusCode: res.StatusCode, Body: body}
		log.Warn("downstream returned error status",
			slog.Int("status", res.StatusCode),
			slog.String("error", statusErr.Error()))
		return resp, statusErr
	}

	log.Debug("outbound request completed",
		slog.Int("status", res.StatusCode),
		slog.Duration("duration", time.Since(start)))

	return resp, nil
}

// Probe issues a GET to path on the service and reports the status code.
func (c *ServiceClient) Probe(ctx context.Context, path string) (int, error) {
	u := c.baseURL.ResolveReference(&url.URL{Path: path})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxErrorBody))
	res.Body.Close()

	return res.StatusCode, nil
}

func (c *ServiceClient) buildRequest(ctx context.Context, method string, req Request) (*http.Request, error) {
	target := c.resolve(req.Endpoint)
	if len(req.Query) > 0 {
		q := target.Query()
		for k, v := range req.Query {
			q.Set(k, v)
		}
		target.RawQuery = q.Encode()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}

	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if httpReq.Header.Get(requestIDHeader) == "" {
		httpReq.Header.Set(requestIDHeader, uuid.NewString())
	}

	return httpReq, nil
}

// resolve joins endpoint onto the base URL path, keeping any base path prefix.
func (c *ServiceClient) resolve(endpoint string) *url.URL {
	u := *c.baseURL
	path, rawQuery, _ := strings.Cut(endpoint, "?")
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	u.RawPath = ""
	u.RawQuery = rawQuery
	return &u
}

func (c *ServiceClient) readBody(res *http.Response) ([]byte, error) {
	if res.ContentLength > c.maxResponseBytes {
		return nil, fmt.Errorf("%w: content length %d (limit %d)", ErrResponseTooLarge, res.ContentLength, c.maxResponseBytes)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, c.maxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.maxResponseBytes {
		return nil, fmt.Errorf("%w: limit %d", ErrResponseTooLarge, c.maxResponseBytes)
	}
	return body, nil
}

func (c *ServiceClient) incrementInFlight() {
	c.mutex.Lock()
	c.inFlight++
	c.mutex.Unlock()
}

func (c *ServiceClient) decrementInFlight() {
	c.mutex.Lock()
	if c.inFlight > 0 {
		c.inFlight--
	}
	c.mutex.Unlock()
}

// InFlight returns the number of requests currently outstanding.
func (c *ServiceClient) InFlight() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.inFlight
}

func (c *ServiceClient) recordLatency(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.hasEWMA {
		c.ewmaLatency = d
		c.hasEWMA = true
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	c.ewmaLatency = time.Duration((1-ewmaAlpha)*float64(c.ewmaLatency) + ewmaAlpha*float64(d))
}

// EWMALatency returns the exponentially weighted moving average latency, or 0
// before the first completed response.
func (c *ServiceClient) EWMALatency() time.Duration {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.ewmaLatency
}

func remaining(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	return time.Until(deadline).Round(time.Millisecond)
}
