package loadtest

import (
	"crypto/tls"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/payramp/internal/loadtest/metrics"
)

// VUScheduler owns the pool of virtual users of one scenario.
//
// Executors ask it for VUs; it hands out HTTP clients, the shared rate
// limiter and the metrics engine, and tracks which VUs are still alive.
type VUScheduler struct {
	scenario *Scenario
	metrics  *metrics.Engine

	httpClientConfig HTTPClientConfig
	sharedClient     *http.Client
	clients          []*http.Client
	clientsMu        sync.Mutex

	limiter *rate.Limiter
	logger  log.FieldLogger

	vus      map[int]*VirtualUser
	vusMu    sync.RWMutex
	nextVUID atomic.Int32
}

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int // 0 = unlimited
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool
	InsecureSkipVerify  bool

	// UseSharedClient makes all VUs share one connection pool
	UseSharedClient bool
}

// DefaultHTTPClientConfig returns defaults suited to load generation.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		UseSharedClient:     true,
	}
}

// NewVUScheduler creates a scheduler for scenario.
func NewVUScheduler(scenario *Scenario, metricsEngine *metrics.Engine, httpConfig HTTPClientConfig) *VUScheduler {
	s := &VUScheduler{
		scenario:         scenario,
		metrics:          metricsEngine,
		httpClientConfig: httpConfig,
		logger:           log.StandardLogger(),
		vus:              make(map[int]*VirtualUser),
	}

	if httpConfig.UseSharedClient {
		s.sharedClient = s.createHTTPClient()
	}

	return s
}

// SetRateLimiter installs a limiter shared by every VU spawned afterwards.
func (s *VUScheduler) SetRateLimiter(l *rate.Limiter) {
	s.limiter = l
}

// SetLogger sets the logger handed to VUs.
func (s *VUScheduler) SetLogger(logger log.FieldLogger) {
	if logger != nil {
		s.logger = logger
	}
}

// Metrics returns the metrics engine VUs record into.
func (s *VUScheduler) Metrics() *metrics.Engine {
	return s.metrics
}

func (s *VUScheduler) createHTTPClient() *http.Client {
	cfg := s.httpClientConfig
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}

	s.clientsMu.Lock()
	s.clients = append(s.clients, client)
	s.clientsMu.Unlock()

	return client
}

// SpawnVU creates and registers a new VU. The caller runs it.
func (s *VUScheduler) SpawnVU() *VirtualUser {
	id := int(s.nextVUID.Add(1))

	client := s.sharedClient
	if client == nil {
		client = s.createHTTPClient()
	}

	vu := NewVirtualUser(id, s.scenario, client, s.metrics)
	vu.Limiter = s.limiter
	vu.Logger = s.logger.WithField("vu", id)

	s.vusMu.Lock()
	s.vus[id] = vu
	s.vusMu.Unlock()

	return vu
}

// GetActiveVUCount returns the number of VUs that have not stopped.
func (s *VUScheduler) GetActiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if vu.GetState() != VUStateStopped {
			count++
		}
	}
	return count
}

// StopAllVUs asks every VU to stop after its request in flight.
func (s *VUScheduler) StopAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// RemoveVU marks a VU stopped and forgets it.
func (s *VUScheduler) RemoveVU(id int) {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	if vu, ok := s.vus[id]; ok {
		vu.MarkStopped()
		delete(s.vus, id)
	}
}

// WaitForAllVUs waits for all VUs to stop and returns how many did not
// stop within timeout.
func (s *VUScheduler) WaitForAllVUs(timeout time.Duration) int {
	deadline := time.Now().Add(timeout)

	s.vusMu.RLock()
	vus := make([]*VirtualUser, 0, len(s.vus))
	for _, vu := range s.vus {
		vus = append(vus, vu)
	}
	s.vusMu.RUnlock()

	notStopped := 0
	for _, vu := range vus {
		remaining := time.Until(deadline)
		if remaining <= 0 || !vu.WaitForStop(remaining) {
			notStopped++
		}
	}
	return notStopped
}

// UpdateMetrics publishes the number of VUs not yet stopped to the metrics
// engine. VUs finishing their last request still count.
func (s *VUScheduler) UpdateMetrics() {
	s.metrics.SetActiveVUs(s.GetActiveVUCount())
}

// CloseIdleConnections releases pooled connections of every client handed out.
func (s *VUScheduler) CloseIdleConnections() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	for _, c := range s.clients {
		c.CloseIdleConnections()
	}
}
