package payment

import (
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Simulator is a stand-in for the remote primary gateway. It serves
// /payment and fails a configurable share of the requests.
type Simulator struct {
	// FailureRatio is the share of requests answered with 503 (0.0 to 1.0).
	FailureRatio float64

	// Latency is added to every response.
	Latency time.Duration

	logger log.FieldLogger

	rngMu sync.Mutex
	rng   *rand.Rand

	served atomic.Int64
	failed atomic.Int64
}

// NewSimulator creates a simulated gateway.
func NewSimulator(failureRatio float64, latency time.Duration, logger log.FieldLogger) *Simulator {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Simulator{
		FailureRatio: failureRatio,
		Latency:      latency,
		logger:       logger.WithField("component", "gateway-simulator"),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ServeHTTP implements http.Handler.
func (s *Simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/payment" {
		http.NotFound(w, r)
		return
	}

	if s.Latency > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(s.Latency):
		}
	}

	s.served.Add(1)
	if s.shouldFail() {
		s.failed.Add(1)
		s.logger.Debug("rejecting payment")
		http.Error(w, "gateway unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"charged"}`))
}

func (s *Simulator) shouldFail() bool {
	if s.FailureRatio <= 0 {
		return false
	}
	if s.FailureRatio >= 1 {
		return true
	}

	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64() < s.FailureRatio
}

// Served returns the number of payment requests handled.
func (s *Simulator) Served() int64 {
	return s.served.Load()
}

// Failed returns the number of payment requests rejected.
func (s *Simulator) Failed() int64 {
	return s.failed.Load()
}
