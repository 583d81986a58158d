// Package loadtest runs virtual users against HTTP endpoints.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/payramp/internal/loadtest/check"
	"github.com/wesleyorama2/payramp/internal/loadtest/metrics"
)

// VUState represents the lifecycle state of a virtual user.
type VUState int32

const (
	VUStateIdle VUState = iota
	VUStateRunning
	VUStateStopping
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrVUStopped is returned by RunIteration on a VU that was asked to stop.
var ErrVUStopped = errors.New("virtual user stopped")

// Scenario is what a VU executes on every iteration.
type Scenario struct {
	Name     string
	Requests []*Request
}

// Request is a fully resolved HTTP request with its compiled checks.
type Request struct {
	Name      string
	Method    string
	URL       string
	Headers   map[string]string
	Body      string
	Timeout   time.Duration
	ThinkTime time.Duration
	Checks    []*check.Check
}

// RequestResult contains the outcome of a single HTTP request.
type RequestResult struct {
	VUID          int
	Iteration     int64
	RequestName   string
	StartTime     time.Time
	Duration      time.Duration
	StatusCode    int
	BytesReceived int64
	Header        http.Header
	Body          []byte
	Error         error
}

// Success reports whether the request counts as successful in http_req_failed.
func (r *RequestResult) Success() bool {
	return r.Error == nil && r.StatusCode > 0 && r.StatusCode < 400
}

// VirtualUser is one simulated client running scenario iterations.
//
// An iteration sends every request of the scenario in order. After each
// request its checks run and its think time is slept, including after the
// last request.
type VirtualUser struct {
	ID         int
	Scenario   *Scenario
	HTTPClient *http.Client
	Metrics    *metrics.Engine

	// Limiter caps the request rate shared by all VUs. Nil means unlimited.
	Limiter *rate.Limiter

	Logger log.FieldLogger

	state     atomic.Int32
	stopCh    chan struct{}
	stopOnce  sync.Once
	doneCh    chan struct{}
	iteration atomic.Int64
}

// NewVirtualUser creates a virtual user in the idle state.
func NewVirtualUser(id int, scenario *Scenario, client *http.Client, metricsEngine *metrics.Engine) *VirtualUser {
	return &VirtualUser{
		ID:         id,
		Scenario:   scenario,
		HTTPClient: client,
		Metrics:    metricsEngine,
		Logger:     log.StandardLogger(),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// Stopping reports whether the VU was asked to stop or has stopped.
func (vu *VirtualUser) Stopping() bool {
	s := vu.GetState()
	return s == VUStateStopping || s == VUStateStopped
}

// RunIteration executes one iteration of the scenario.
//
// A stop request is honored between requests; the request in flight is
// allowed to finish. Cancelling ctx aborts the request in flight, which is
// then not recorded.
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	if vu.Stopping() {
		return ErrVUStopped
	}
	vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning))
	defer vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))

	iteration := vu.iteration.Add(1)

	for _, req := range vu.Scenario.Requests {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-vu.stopCh:
			return nil
		default:
		}

		if vu.Limiter != nil {
			if err := vu.Limiter.Wait(ctx); err != nil {
				// The next slot is past the context deadline.
				vu.Sleep(ctx, -1)
				return ctx.Err()
			}
			if vu.Stopping() {
				return nil
			}
		}

		result := vu.executeRequest(ctx, req, iteration)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		vu.record(req, result)

		if req.ThinkTime > 0 && !vu.Sleep(ctx, req.ThinkTime) {
			return ctx.Err()
		}
	}

	return nil
}

func (vu *VirtualUser) record(req *Request, result *RequestResult) {
	vu.Metrics.RecordLatency(result.Duration, req.Name, result.Success(), result.BytesReceived)

	if result.Error != nil {
		vu.Logger.WithFields(log.Fields{
			"vu":      vu.ID,
			"request": req.Name,
		}).WithError(result.Error).Debug("Request failed")
	}

	if len(req.Checks) == 0 {
		return
	}

	resp := &check.Response{
		StatusCode: result.StatusCode,
		Header:     result.Header,
		Body:       result.Body,
		Duration:   result.Duration,
	}
	for _, c := range req.Checks {
		r := c.Evaluate(resp)
		vu.Metrics.RecordCheck(r.Name, r.Passed)
	}
}

func (vu *VirtualUser) executeRequest(ctx context.Context, req *Request, iteration int64) *RequestResult {
	result := &RequestResult{
		VUID:        vu.ID,
		Iteration:   iteration,
		RequestName: req.Name,
		StartTime:   time.Now(),
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := buildRequest(ctx, req)
	if err != nil {
		result.Duration = time.Since(result.StartTime)
		result.Error = fmt.Errorf("failed to build request: %w", err)
		return result
	}

	resp, err := vu.HTTPClient.Do(httpReq)
	if err != nil {
		result.Duration = time.Since(result.StartTime)
		result.Error = err
		return result
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	result.Duration = time.Since(result.StartTime)
	result.StatusCode = resp.StatusCode
	result.Header = resp.Header
	result.BytesReceived = int64(len(body))
	result.Body = body
	if err != nil {
		result.Error = fmt.Errorf("failed to read response body: %w", err)
	}

	return result
}

func buildRequest(ctx context.Context, req *Request) (*http.Request, error) {
	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	return httpReq, nil
}

// Sleep waits for d, a stop request or ctx. A negative d waits for the stop
// request or ctx only. It returns false if ctx ended.
func (vu *VirtualUser) Sleep(ctx context.Context, d time.Duration) bool {
	var timer <-chan time.Time
	if d >= 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-ctx.Done():
		return false
	case <-vu.stopCh:
		return true
	case <-timer:
		return true
	}
}

// RequestStop asks the VU to stop after the request in flight.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		vu.closeStop()
	}
}

func (vu *VirtualUser) closeStop() {
	vu.stopOnce.Do(func() { close(vu.stopCh) })
}

// WaitForStop waits for the VU to stop. It returns false on timeout.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-t.C:
		return false
	}
}

// MarkStopped marks the VU as fully stopped. The goroutine running the VU
// calls it on exit.
func (vu *VirtualUser) MarkStopped() {
	if VUState(vu.state.Swap(int32(VUStateStopped))) == VUStateStopped {
		return
	}
	vu.closeStop()
	close(vu.doneCh)
}
