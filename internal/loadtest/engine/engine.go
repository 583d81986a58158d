// Package engine runs the scenarios of a load test and evaluates thresholds.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/payramp/internal/loadtest"
	"github.com/wesleyorama2/payramp/internal/loadtest/check"
	"github.com/wesleyorama2/payramp/internal/loadtest/config"
	"github.com/wesleyorama2/payramp/internal/loadtest/executor"
	"github.com/wesleyorama2/payramp/internal/loadtest/metrics"
)

// Engine orchestrates a load test.
//
//	cfg, _ := config.LoadConfig("scenarios/pay.yaml")
//	eng, _ := engine.NewEngine(cfg)
//	result, _ := eng.Run(ctx)
//	fmt.Println(result.Passed)
//
// All scenarios record into one metrics engine. Scenarios run concurrently
// unless options.sequential is set.
type Engine struct {
	config        *config.TestConfig
	httpConfig    loadtest.HTTPClientConfig
	metricsConfig metrics.EngineConfig
	limiter       *rate.Limiter
	logger        log.FieldLogger

	metricsEngine *metrics.Engine
	scenarios     map[string]*ScenarioRunner
	mu            sync.RWMutex

	startTime time.Time
	running   bool
	stopping  bool
}

// ScenarioRunner holds everything needed to run one scenario.
type ScenarioRunner struct {
	Name       string
	Config     *config.ScenarioConfig
	ExecConfig *executor.Config
	Executor   executor.Executor
	Scheduler  *loadtest.VUScheduler
	Scenario   *loadtest.Scenario
	Result     *ScenarioResult
}

// ScenarioResult contains the results of a single scenario.
type ScenarioResult struct {
	Name         string                  `json:"name"`
	Executor     string                  `json:"executor"`
	Duration     time.Duration           `json:"duration"`
	Iterations   int64                   `json:"iterations"`
	MaxVUs       int                     `json:"maxVUs"`
	RequestStats map[string]RequestStats `json:"requestStats,omitempty"`
	Error        string                  `json:"error,omitempty"`
}

// RequestStats contains statistics for one named request.
type RequestStats struct {
	Name    string               `json:"name"`
	Count   int64                `json:"count"`
	Latency metrics.LatencyStats `json:"latency"`
}

// TestResult contains the complete test results.
type TestResult struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	Scenarios map[string]*ScenarioResult `json:"scenarios"`

	// Aggregated across all scenarios
	Metrics    *metrics.Snapshot     `json:"metrics"`
	Checks     []metrics.CheckStats  `json:"checks,omitempty"`
	TimeSeries []*metrics.TimeBucket `json:"timeSeries,omitempty"`

	// Passed is false when any threshold failed.
	Passed     bool              `json:"passed"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty"`
}

// NewEngine validates cfg, fills in defaults and prepares an engine.
func NewEngine(cfg *config.TestConfig) (*Engine, error) {
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	httpConfig := loadtest.DefaultHTTPClientConfig()
	httpConfig.Timeout = cfg.Settings.Timeout.GetDuration(config.DefaultTimeout)
	httpConfig.MaxConnsPerHost = cfg.Settings.MaxConnectionsPerHost
	httpConfig.InsecureSkipVerify = cfg.Settings.InsecureSkipVerify
	if cfg.Settings.MaxIdleConnsPerHost > 0 {
		httpConfig.MaxIdleConnsPerHost = cfg.Settings.MaxIdleConnsPerHost
	}
	if cfg.Options != nil && cfg.Options.NoVUConnectionReuse {
		httpConfig.UseSharedClient = false
	}

	e := &Engine{
		config:        cfg,
		httpConfig:    httpConfig,
		metricsConfig: metrics.DefaultEngineConfig(),
		logger:        log.StandardLogger(),
		scenarios:     make(map[string]*ScenarioRunner),
	}

	if cfg.Settings.RPS > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.Settings.RPS), 1)
	}

	return e, nil
}

// SetLogger sets the logger for the engine and its VUs.
func (e *Engine) SetLogger(logger log.FieldLogger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetMetricsConfig overrides the metrics engine configuration. It must be
// called before Run.
func (e *Engine) SetMetricsConfig(cfg metrics.EngineConfig) {
	e.metricsConfig = cfg
}

// Run executes all scenarios and returns the test results.
//
// Cancelling ctx interrupts requests in flight and Run returns the partial
// result with ctx's error. Use Stop for a graceful end.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	e.running = true
	e.stopping = false
	e.startTime = time.Now()
	e.metricsEngine = metrics.NewEngineWithConfig(e.metricsConfig)
	e.scenarios = make(map[string]*ScenarioRunner)
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	if err := e.initializeScenarios(ctx); err != nil {
		e.metricsEngine.Stop()
		return nil, fmt.Errorf("failed to initialize scenarios: %w", err)
	}

	// A Stop that arrived during setup found no executors to stop.
	e.mu.RLock()
	stopping := e.stopping
	e.mu.RUnlock()
	if stopping {
		for _, runner := range e.runners() {
			_ = runner.Executor.Stop(ctx)
		}
	}

	e.logger.WithFields(log.Fields{
		"test":      e.config.Name,
		"scenarios": len(e.scenarios),
		"duration":  e.config.TotalDuration(),
		"maxVUs":    e.config.MaxVUs(),
	}).Debug("Starting load test")

	var scenarioResults map[string]*ScenarioResult
	var runErr error
	if e.config.Options != nil && e.config.Options.Sequential {
		scenarioResults, runErr = e.runScenariosSequentially(ctx)
	} else {
		scenarioResults, runErr = e.runScenariosConcurrently(ctx)
	}
	if runErr == nil {
		runErr = ctx.Err()
	}

	e.metricsEngine.Stop()
	snapshot := e.metricsEngine.GetSnapshot()

	thresholds := e.evaluateThresholds(snapshot)
	passed := true
	for _, tr := range thresholds {
		if !tr.Passed {
			passed = false
			break
		}
	}

	endTime := time.Now()
	return &TestResult{
		Name:        e.config.Name,
		Description: e.config.Description,
		StartTime:   e.startTime,
		EndTime:     endTime,
		Duration:    endTime.Sub(e.startTime),
		Scenarios:   scenarioResults,
		Metrics:     snapshot,
		Checks:      e.metricsEngine.GetCheckStats(),
		TimeSeries:  e.metricsEngine.GetTimeSeries(),
		Passed:      passed,
		Thresholds:  thresholds,
	}, runErr
}

// scenarioNames returns scenario names in a stable order.
func (e *Engine) scenarioNames() []string {
	names := make([]string, 0, len(e.config.Scenarios))
	for name := range e.config.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) initializeScenarios(ctx context.Context) error {
	runners := make(map[string]*ScenarioRunner, len(e.config.Scenarios))

	for _, name := range e.scenarioNames() {
		sc := e.config.Scenarios[name]

		scenario, err := e.createScenario(name, sc)
		if err != nil {
			return fmt.Errorf("scenario %s: %w", name, err)
		}

		exec, execConfig, err := executor.CreateExecutorFromScenarioConfig(ctx, name, sc)
		if err != nil {
			return fmt.Errorf("failed to create executor for scenario %s: %w", name, err)
		}

		scheduler := loadtest.NewVUScheduler(scenario, e.metricsEngine, e.httpConfig)
		scheduler.SetRateLimiter(e.limiter)
		scheduler.SetLogger(e.logger.WithField("scenario", name))

		runners[name] = &ScenarioRunner{
			Name:       name,
			Config:     sc,
			ExecConfig: execConfig,
			Executor:   exec,
			Scheduler:  scheduler,
			Scenario:   scenario,
		}
	}

	e.mu.Lock()
	e.scenarios = runners
	e.mu.Unlock()
	return nil
}

// createScenario resolves variables and compiles checks for one scenario.
//
// Variables come from the test, then the scenario tags, then baseUrl.
// Settings headers apply to every request; request headers win.
func (e *Engine) createScenario(name string, sc *config.ScenarioConfig) (*loadtest.Scenario, error) {
	vars := make(map[string]string)
	for k, v := range e.config.Variables {
		vars[k] = v
	}
	for k, v := range sc.Tags {
		vars[k] = v
	}
	if base := e.config.Settings.BaseURL; base != "" {
		vars["baseUrl"] = base
		vars["baseURL"] = base
	}

	scenario := &loadtest.Scenario{Name: name}

	for i := range sc.Requests {
		rc := &sc.Requests[i]

		req := &loadtest.Request{
			Name:    rc.Name,
			Method:  rc.Method,
			URL:     config.ResolveVariables(rc.URL, vars),
			Body:    config.ResolveVariables(rc.Body, vars),
			Headers: e.requestHeaders(rc, vars),
		}

		var err error
		if rc.Timeout != "" {
			if req.Timeout, err = config.ParseDurationString(rc.Timeout); err != nil {
				return nil, fmt.Errorf("request %s: invalid timeout: %w", rc.Name, err)
			}
		}
		if rc.ThinkTime != "" {
			if req.ThinkTime, err = config.ParseDurationString(rc.ThinkTime); err != nil {
				return nil, fmt.Errorf("request %s: invalid thinkTime: %w", rc.Name, err)
			}
		}
		if req.Checks, err = check.CompileAll(rc.Checks); err != nil {
			return nil, fmt.Errorf("request %s: %w", rc.Name, err)
		}

		scenario.Requests = append(scenario.Requests, req)
	}

	return scenario, nil
}

func (e *Engine) requestHeaders(rc *config.RequestConfig, vars map[string]string) map[string]string {
	headers := make(map[string]string, len(e.config.Settings.Headers)+len(rc.Headers)+1)
	if ua := e.config.Settings.UserAgent; ua != "" {
		headers["User-Agent"] = ua
	}
	for k, v := range e.config.Settings.Headers {
		headers[k] = config.ResolveVariables(v, vars)
	}
	for k, v := range rc.Headers {
		headers[k] = config.ResolveVariables(v, vars)
	}
	return headers
}

func (e *Engine) runScenariosConcurrently(ctx context.Context) (map[string]*ScenarioResult, error) {
	results := make(map[string]*ScenarioResult)
	var resultsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, runner := range e.runners() {
		g.Go(func() error {
			result, err := e.runScenario(gctx, runner)

			resultsMu.Lock()
			results[runner.Name] = result
			resultsMu.Unlock()

			if err != nil {
				return fmt.Errorf("scenario %s failed: %w", runner.Name, err)
			}
			return nil
		})
	}

	err := g.Wait()
	return results, err
}

func (e *Engine) runScenariosSequentially(ctx context.Context) (map[string]*ScenarioResult, error) {
	results := make(map[string]*ScenarioResult)

	for _, runner := range e.runners() {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		result, err := e.runScenario(ctx, runner)
		results[runner.Name] = result
		if err != nil {
			return results, fmt.Errorf("scenario %s failed: %w", runner.Name, err)
		}
	}

	return results, nil
}

// runners returns the scenario runners sorted by name.
func (e *Engine) runners() []*ScenarioRunner {
	e.mu.RLock()
	defer e.mu.RUnlock()

	runners := make([]*ScenarioRunner, 0, len(e.scenarios))
	for _, r := range e.scenarios {
		runners = append(runners, r)
	}
	sort.Slice(runners, func(i, j int) bool { return runners[i].Name < runners[j].Name })
	return runners
}

func (e *Engine) runScenario(ctx context.Context, runner *ScenarioRunner) (*ScenarioResult, error) {
	logger := e.logger.WithFields(log.Fields{
		"scenario": runner.Name,
		"executor": runner.Executor.Type(),
	})
	logger.Debug("Scenario started")

	startTime := time.Now()
	err := runner.Executor.Run(ctx, runner.Scheduler, e.metricsEngine)
	duration := time.Since(startTime)

	runner.Scheduler.CloseIdleConnections()

	stats := runner.Executor.GetStats()
	all := e.metricsEngine.GetRequestStats()
	requestStats := make(map[string]RequestStats, len(runner.Scenario.Requests))
	for _, req := range runner.Scenario.Requests {
		if ls, ok := all[req.Name]; ok {
			requestStats[req.Name] = RequestStats{Name: req.Name, Count: ls.Count, Latency: ls}
		}
	}

	result := &ScenarioResult{
		Name:         runner.Name,
		Executor:     string(runner.Executor.Type()),
		Duration:     duration,
		Iterations:   stats.Iterations,
		MaxVUs:       executor.CalculateMaxVUs(runner.ExecConfig),
		RequestStats: requestStats,
	}
	if err != nil {
		result.Error = err.Error()
		logger.WithError(err).Warn("Scenario failed")
	} else {
		logger.WithFields(log.Fields{
			"iterations": stats.Iterations,
			"duration":   duration.Round(time.Millisecond),
		}).Debug("Scenario finished")
	}

	runner.Result = result
	return result, err
}

// GetConfig returns the test configuration.
func (e *Engine) GetConfig() *config.TestConfig {
	return e.config
}

// GetMetrics returns the current metrics snapshot, or nil before Run.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	e.mu.RLock()
	m := e.metricsEngine
	e.mu.RUnlock()

	if m == nil {
		return nil
	}
	return m.GetSnapshot()
}

// GetTimeSeries returns the time buckets recorded so far.
func (e *Engine) GetTimeSeries() []*metrics.TimeBucket {
	e.mu.RLock()
	m := e.metricsEngine
	e.mu.RUnlock()

	if m == nil {
		return nil
	}
	return m.GetTimeSeries()
}

// GetCheckStats returns the per-check counters, or nil before Run.
func (e *Engine) GetCheckStats() []metrics.CheckStats {
	e.mu.RLock()
	m := e.metricsEngine
	e.mu.RUnlock()

	if m == nil {
		return nil
	}
	return m.GetCheckStats()
}

// IsRunning reports whether Run is in progress.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Stop ends all scenarios early. Each gets its graceful stop; Stop returns
// when they are drained or ctx ends.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.stopping = true
	e.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, runner := range e.runners() {
		exec := runner.Executor
		g.Go(func() error {
			return exec.Stop(gctx)
		})
	}
	return g.Wait()
}

// GetProgress returns the overall test progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	runners := e.runners()
	if len(runners) == 0 {
		return 0.0
	}

	var total float64
	for _, r := range runners {
		total += r.Executor.GetProgress()
	}
	return total / float64(len(runners))
}

// GetScenarioStats returns current stats for all scenarios.
func (e *Engine) GetScenarioStats() map[string]*executor.Stats {
	runners := e.runners()

	stats := make(map[string]*executor.Stats, len(runners))
	for _, r := range runners {
		stats[r.Name] = r.Executor.GetStats()
	}
	return stats
}
