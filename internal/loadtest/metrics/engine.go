package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Engine aggregates request and check metrics for a load test run.
//
// Latencies go into HDR histograms (1µs to 1h, 3 significant figures).
// Counters are atomic. A background goroutine closes a time bucket every
// BucketInterval until Stop is called.
type Engine struct {
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	// Per-request-name histograms
	requestHists   map[string]*hdrhistogram.Histogram
	requestHistsMu sync.RWMutex

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	totalBytes      atomic.Int64

	checks       map[string]*CheckStats
	checkOrder   []string
	checksMu     sync.Mutex
	checksPassed atomic.Int64
	checksFailed atomic.Int64

	activeVUs atomic.Int32

	bucketStore *TimeBucketStore

	currentPhase Phase
	phaseMu      sync.RWMutex
	phaseHistory []PhaseChange

	startTime time.Time

	emitterCtx    context.Context
	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup
	stopOnce      sync.Once

	config EngineConfig
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// BucketInterval is the interval for time-series buckets (default: 1s)
	BucketInterval time.Duration

	// MaxBuckets is the maximum number of buckets to retain (default: 3600)
	MaxBuckets int

	// Histogram bounds in microseconds
	HistogramMin     int64
	HistogramMax     int64
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour
		HistogramSigFigs: 3,
	}
}

// NewEngine creates a metrics engine with the default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a metrics engine and starts its bucket emitter.
func NewEngineWithConfig(config EngineConfig) *Engine {
	if config.BucketInterval <= 0 {
		config.BucketInterval = time.Second
	}
	if config.HistogramMin <= 0 {
		config.HistogramMin = 1
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = DefaultEngineConfig().HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = 3
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		latencyHist:   newHistogram(config),
		requestHists:  make(map[string]*hdrhistogram.Histogram),
		checks:        make(map[string]*CheckStats),
		bucketStore:   NewTimeBucketStore(config.MaxBuckets),
		currentPhase:  PhaseInit,
		startTime:     time.Now(),
		emitterCtx:    ctx,
		emitterCancel: cancel,
		config:        config,
	}

	e.emitterWg.Add(1)
	go e.runEmitter()

	return e
}

func newHistogram(config EngineConfig) *hdrhistogram.Histogram {
	return hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs)
}

// RecordLatency records one completed request.
//
// requestName may be empty to skip the per-request breakdown. A request is
// successful when it got a response with a status below 400.
func (e *Engine) RecordLatency(duration time.Duration, requestName string, success bool, bytes int64) {
	value := duration.Microseconds()
	if value < e.config.HistogramMin {
		value = e.config.HistogramMin
	}
	if value > e.config.HistogramMax {
		value = e.config.HistogramMax
	}

	e.latencyHistMu.Lock()
	_ = e.latencyHist.RecordValue(value)
	e.latencyHistMu.Unlock()

	if requestName != "" {
		e.recordRequestHistogram(requestName, value)
	}

	e.totalRequests.Add(1)
	e.totalBytes.Add(bytes)
	if success {
		e.successRequests.Add(1)
	} else {
		e.failedRequests.Add(1)
	}

	e.bucketStore.RecordRequest(success)
}

// HDR histograms are not safe for concurrent writes.
func (e *Engine) recordRequestHistogram(name string, value int64) {
	e.requestHistsMu.Lock()
	defer e.requestHistsMu.Unlock()

	hist, ok := e.requestHists[name]
	if !ok {
		hist = newHistogram(e.config)
		e.requestHists[name] = hist
	}
	_ = hist.RecordValue(value)
}

// RecordCheck records the outcome of a named check.
func (e *Engine) RecordCheck(name string, passed bool) {
	if passed {
		e.checksPassed.Add(1)
	} else {
		e.checksFailed.Add(1)
	}

	e.checksMu.Lock()
	defer e.checksMu.Unlock()

	stats, ok := e.checks[name]
	if !ok {
		stats = &CheckStats{Name: name}
		e.checks[name] = stats
		e.checkOrder = append(e.checkOrder, name)
	}
	if passed {
		stats.Passes++
	} else {
		stats.Fails++
	}
}

// GetCheckStats returns per-check counters in the order checks first ran.
func (e *Engine) GetCheckStats() []CheckStats {
	e.checksMu.Lock()
	defer e.checksMu.Unlock()

	result := make([]CheckStats, 0, len(e.checkOrder))
	for _, name := range e.checkOrder {
		result = append(result, *e.checks[name])
	}
	return result
}

// SetPhase updates the current test phase. Executors call this on transitions.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}

	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

// GetPhase returns the current test phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// SetActiveVUs updates the active VU count.
func (e *Engine) SetActiveVUs(count int) {
	e.activeVUs.Store(int32(count))
}

// GetActiveVUs returns the current active VU count.
func (e *Engine) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

func (e *Engine) runEmitter() {
	defer e.emitterWg.Done()

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.emitterCtx.Done():
			return
		case <-ticker.C:
			e.emitBucket()
		}
	}
}

func (e *Engine) emitBucket() {
	e.bucketStore.CreateBucket(
		e.totalRequests.Load(),
		e.successRequests.Load(),
		e.failedRequests.Load(),
		e.totalBytes.Load(),
		e.GetLatencyPercentiles(),
		e.GetActiveVUs(),
		e.GetPhase(),
	)
}

// GetLatencyPercentiles returns current latency percentiles.
func (e *Engine) GetLatencyPercentiles() LatencyPercentiles {
	e.latencyHistMu.Lock()
	defer e.latencyHistMu.Unlock()

	return LatencyPercentiles{
		Min: micros(e.latencyHist.Min()),
		Max: micros(e.latencyHist.Max()),
		P50: micros(e.latencyHist.ValueAtQuantile(50)),
		P90: micros(e.latencyHist.ValueAtQuantile(90)),
		P95: micros(e.latencyHist.ValueAtQuantile(95)),
		P99: micros(e.latencyHist.ValueAtQuantile(99)),
	}
}

// GetSnapshot returns a point-in-time snapshot of all metrics.
func (e *Engine) GetSnapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latency := latencyStats(e.latencyHist)
	e.latencyHistMu.Unlock()

	elapsed := time.Since(e.startTime)
	totalReqs := e.totalRequests.Load()
	failedReqs := e.failedRequests.Load()

	overallRPS := 0.0
	if elapsed.Seconds() > 0 {
		overallRPS = float64(totalReqs) / elapsed.Seconds()
	}

	steadyRPS, steadyBuckets := e.bucketStore.CalculateSteadyStateRPS()
	rps := overallRPS
	if steadyBuckets > 0 {
		rps = steadyRPS
	}

	errorRate := 0.0
	if totalReqs > 0 {
		errorRate = float64(failedReqs) / float64(totalReqs)
	}

	passed := e.checksPassed.Load()
	failed := e.checksFailed.Load()
	checkRate := 1.0
	if passed+failed > 0 {
		checkRate = float64(passed) / float64(passed+failed)
	}

	return &Snapshot{
		TotalRequests:   totalReqs,
		SuccessRequests: e.successRequests.Load(),
		FailedRequests:  failedReqs,
		TotalBytes:      e.totalBytes.Load(),
		Latency:         latency,
		RPS:             rps,
		SteadyStateRPS:  steadyRPS,
		ErrorRate:       errorRate,
		ChecksPassed:    passed,
		ChecksFailed:    failed,
		CheckRate:       checkRate,
		ActiveVUs:       e.GetActiveVUs(),
		CurrentPhase:    e.GetPhase(),
		Elapsed:         elapsed,
		StartTime:       e.startTime,
		Timestamp:       time.Now(),
	}
}

// GetTimeSeries returns all time-series buckets.
func (e *Engine) GetTimeSeries() []*TimeBucket {
	return e.bucketStore.GetBuckets()
}

// GetPhaseHistory returns the history of phase changes.
func (e *Engine) GetPhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	result := make([]PhaseChange, len(e.phaseHistory))
	copy(result, e.phaseHistory)
	return result
}

// GetRequestStats returns per-request latency statistics.
func (e *Engine) GetRequestStats() map[string]LatencyStats {
	e.requestHistsMu.RLock()
	defer e.requestHistsMu.RUnlock()

	result := make(map[string]LatencyStats, len(e.requestHists))
	for name, hist := range e.requestHists {
		result[name] = latencyStats(hist)
	}
	return result
}

// Stop stops the emitter and emits a final bucket. It is safe to call twice.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.emitterCancel()
		e.emitterWg.Wait()
		e.emitBucket()
	})
}

func latencyStats(hist *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    micros(hist.Min()),
		Max:    micros(hist.Max()),
		Mean:   micros(int64(hist.Mean())),
		StdDev: micros(int64(hist.StdDev())),
		P50:    micros(hist.ValueAtQuantile(50)),
		P90:    micros(hist.ValueAtQuantile(90)),
		P95:    micros(hist.ValueAtQuantile(95)),
		P99:    micros(hist.ValueAtQuantile(99)),
		Count:  hist.TotalCount(),
	}
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}
