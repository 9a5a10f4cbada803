package clientpool

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"time"
)

// ServiceConfig is the startup description of one downstream service. Zero
// values fall back to the pool Options.
type ServiceConfig struct {
	Name             string
	URL              string
	Timeout          time.Duration
	MaxRequestBytes  int64
	MaxResponseBytes int64
}

type Options struct {
	DefaultTimeout      time.Duration
	MaxRequestBytes     int64
	MaxResponseBytes    int64
	TimeoutRules        []TimeoutRule
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
}

// DefaultOptions mirrors the gateway defaults: 30s timeout, 10 MB bodies and the
// extended AI timeout rules.
func DefaultOptions() Options {
	return Options{
		DefaultTimeout:      DefaultTimeout,
		MaxRequestBytes:     DefaultSizeLimit,
		MaxResponseBytes:    DefaultSizeLimit,
		TimeoutRules:        DefaultTimeoutRules(),
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = d.DefaultTimeout
	}
	if o.MaxRequestBytes <= 0 {
		o.MaxRequestBytes = d.MaxRequestBytes
	}
	if o.MaxResponseBytes <= 0 {
		o.MaxResponseBytes = d.MaxResponseBytes
	}
	if o.TimeoutRules == nil {
		o.TimeoutRules = d.TimeoutRules
	}
	if o.MaxIdleConnsPerHost <= 0 {
		o.MaxIdleConnsPerHost = d.MaxIdleConnsPerHost
	}
	if o.IdleConnTimeout <= 0 {
		o.IdleConnTimeout = d.IdleConnTimeout
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = d.DialTimeout
	}
	return o
}

// ClientStats is the live view of one service client.
type ClientStats struct {
	Configured  bool          `json:"configured"`
	BaseURL     string        `json:"base_url,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	InFlight    int           `json:"in_flight"`
	EWMALatency time.Duration `json:"ewma_latency"`
}

// Pool maps service names to their clients. It is immutable after New.
type Pool struct {
	clients      map[string]*ServiceClient
	unconfigured []string
}

// New registers a client for every service with a usable URL. Services with an
// empty URL are logged and left unconfigured; unparsable URLs are logged and
// skipped. Startup never fails because of a single service.
func New(logger *slog.Logger, opts Options, services []ServiceConfig) *Pool {
	opts = opts.withDefaults()

	p := &Pool{
		clients: make(map[string]*ServiceClient, len(services)),
	}

	for _, svc := range services {
		if svc.URL == "" {
			logger.Warn("service has no configured URL, calls will fail fast",
				slog.String("service", svc.Name))
			p.unconfigured = append(p.unconfigured, svc.Name)
			continue
		}

		u, err := parseBaseURL(svc.URL)
		if err != nil {
			logger.Error("Failed to parse URL",
				slog.String("service", svc.Name),
				slog.String("url", svc.URL),
				slog.String("error", err.Error()))
			p.unconfigured = append(p.unconfigured, svc.Name)
			continue
		}

		client := newServiceClient(logger, opts, svc, u)
		p.clients[svc.Name] = client

		logger.Info("registered service client",
			slog.String("service", svc.Name),
			slog.String("url", u.String()),
			slog.Duration("timeout", client.timeout))
	}

	sort.Strings(p.unconfigured)
	return p
}

func newServiceClient(logger *slog.Logger, opts Options, svc ServiceConfig, u *url.URL) *ServiceClient {
	timeout := svc.Timeout
	if timeout <= 0 {
		timeout = opts.DefaultTimeout
	}
	maxReq := svc.MaxRequestBytes
	if maxReq <= 0 {
		maxReq = opts.MaxRequestBytes
	}
	maxRes := svc.MaxResponseBytes
	if maxRes <= 0 {
		maxRes = opts.MaxResponseBytes
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = opts.MaxIdleConnsPerHost
	transport.IdleConnTimeout = opts.IdleConnTimeout
	transport.DialContext = (&net.Dialer{
		Timeout:   opts.DialTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext

	rules := make([]TimeoutRule, len(opts.TimeoutRules))
	copy(rules, opts.TimeoutRules)

	return &ServiceClient{
		name:             svc.Name,
		baseURL:          u,
		timeout:          timeout,
		maxRequestBytes:  maxReq,
		maxResponseBytes: maxRes,
		rules:            rules,
		// No client-level timeout: every call carries its own context deadline.
		httpClient: &http.Client{Transport: transport},
		logger:     logger,
	}
}

func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host")
	}
	return u, nil
}

// Get returns the client for name. It never creates clients.
func (p *Pool) Get(name string) (*ServiceClient, error) {
	c, ok := p.clients[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotConfigured, name)
	}
	return c, nil
}

// Declared reports whether name was part of the configuration, with or without
// a usable URL.
func (p *Pool) Declared(name string) bool {
	if _, ok := p.clients[name]; ok {
		return true
	}
	for _, n := range p.unconfigured {
		if n == name {
			return true
		}
	}
	return false
}

// Names returns the configured service names in sorted order.
func (p *Pool) Names() []string {
	names := make([]string, 0, len(p.clients))
	for name := range p.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clients returns the configured clients sorted by name.
func (p *Pool) Clients() []*ServiceClient {
	clients := make([]*ServiceClient, 0, len(p.clients))
	for _, name := range p.Names() {
		clients = append(clients, p.clients[name])
	}
	return clients
}

// Unconfigured returns the services that were declared without a usable URL.
func (p *Pool) Unconfigured() []string {
	out := make([]string, len(p.unconfigured))
	copy(out, p.unconfigured)
	return out
}

func (p *Pool) Stats() map[string]ClientStats {
	stats := make(map[string]ClientStats, len(p.clients)+len(p.unconfigured))
	for name, c := range p.clients {
		stats[name] = ClientStats{
			Configured:  true,
			BaseURL:     c.baseURL.String(),
			Timeout:     c.timeout,
			InFlight:    c.InFlight(),
			EWMALatency: c.EWMALatency(),
		}
	}
	for _, name := range p.unconfigured {
		stats[name] = ClientStats{Configured: false}
	}
	return stats
}
