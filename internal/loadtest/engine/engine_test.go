package engine_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/payramp/internal/loadtest/config"
	"github.com/wesleyorama2/payramp/internal/loadtest/engine"
	"github.com/wesleyorama2/payramp/internal/loadtest/metrics"
	"github.com/wesleyorama2/payramp/internal/payment"
)

func quietLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newPaymentAPI serves the payment API in front of a simulated primary
// gateway failing failureRatio of its calls.
func newPaymentAPI(t *testing.T, failureRatio float64, breaker bool) (*httptest.Server, *payment.Simulator) {
	t.Helper()

	logger := quietLogger()
	sim := payment.NewSimulator(failureRatio, 0, logger)
	gatewaySrv := httptest.NewServer(sim)
	t.Cleanup(gatewaySrv.Close)

	primary := payment.NewHTTPGateway(gatewaySrv.URL+"/payment", time.Second, 0, logger)
	secondary := payment.NewSecondaryGateway(logger)

	var processor *payment.Processor
	if breaker {
		settings := payment.DefaultBreakerSettings()
		settings.Timeout = time.Minute
		processor = payment.NewProcessor(primary, secondary, settings, logger)
	} else {
		processor = payment.NewDirectProcessor(primary, secondary, logger)
	}

	api := httptest.NewServer(payment.NewHandler(processor, logger))
	t.Cleanup(api.Close)
	return api, sim
}

func payConfig(baseURL string) *config.TestConfig {
	return &config.TestConfig{
		Name:     "payment ramp",
		Settings: config.GlobalSettings{BaseURL: baseURL},
		Scenarios: map[string]*config.ScenarioConfig{
			"pay": {
				Executor: "ramping-vus",
				Stages: []config.StageConfig{
					{Duration: "200ms", Target: 2},
					{Duration: "300ms", Target: 2},
					{Duration: "200ms", Target: 0},
				},
				GracefulStop: "1s",
				Requests: []config.RequestConfig{
					{
						Name:      "pay",
						URL:       "{{baseUrl}}/pay",
						ThinkTime: "20ms",
						Checks: []config.CheckConfig{
							{Name: "is status 200", Type: "status", Condition: "eq", Value: "200"},
							{Name: "via primary", Type: "jsonpath", Path: "$.message", Condition: "contains", Value: "primary"},
						},
					},
				},
			},
		},
	}
}

func newEngine(t *testing.T, cfg *config.TestConfig) *engine.Engine {
	t.Helper()

	eng, err := engine.NewEngine(cfg)
	require.NoError(t, err)
	eng.SetLogger(quietLogger())

	metricsCfg := metrics.DefaultEngineConfig()
	metricsCfg.BucketInterval = 50 * time.Millisecond
	eng.SetMetricsConfig(metricsCfg)
	return eng
}

func thresholdByExpr(t *testing.T, results []engine.ThresholdResult, expr string) engine.ThresholdResult {
	t.Helper()
	for _, r := range results {
		if r.Expression == expr {
			return r
		}
	}
	t.Fatalf("threshold %q not evaluated", expr)
	return engine.ThresholdResult{}
}

func checkByName(t *testing.T, checks []metrics.CheckStats, name string) metrics.CheckStats {
	t.Helper()
	for _, c := range checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not recorded", name)
	return metrics.CheckStats{}
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	_, err := engine.NewEngine(&config.TestConfig{
		Scenarios: map[string]*config.ScenarioConfig{
			"pay": {Executor: "ramping-vus"},
		},
	})
	assert.Error(t, err)
}

func TestEngine_Run_HealthyPrimary(t *testing.T) {
	api, sim := newPaymentAPI(t, 0, true)

	cfg := payConfig(api.URL)
	cfg.Thresholds = &config.ThresholdsConfig{
		HTTPReqDuration: []string{"p95 < 1s", "med < 1s"},
		HTTPReqFailed:   []string{"rate < 0.01"},
		HTTPReqs:        []string{"count > 0"},
		Checks:          []string{"rate > 0.99"},
	}

	result, err := newEngine(t, cfg).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Passed, "thresholds: %+v", result.Thresholds)
	assert.Len(t, result.Thresholds, 5)
	assert.Positive(t, result.Metrics.TotalRequests)
	assert.Zero(t, result.Metrics.FailedRequests)
	assert.Equal(t, result.Metrics.TotalRequests, sim.Served())
	assert.Equal(t, 1.0, result.Metrics.CheckRate)

	require.Contains(t, result.Scenarios, "pay")
	sr := result.Scenarios["pay"]
	assert.Equal(t, "ramping-vus", sr.Executor)
	assert.Equal(t, 2, sr.MaxVUs)
	assert.Positive(t, sr.Iterations)
	assert.Equal(t, result.Metrics.TotalRequests, sr.RequestStats["pay"].Count)
	assert.NotEmpty(t, result.TimeSeries)
}

func TestEngine_Run_FailingPrimaryFailsChecksOnly(t *testing.T) {
	api, _ := newPaymentAPI(t, 1, true)

	cfg := payConfig(api.URL)
	cfg.Thresholds = &config.ThresholdsConfig{
		HTTPReqFailed: []string{"rate < 0.01"},
		Checks:        []string{"rate > 0.99"},
	}

	result, err := newEngine(t, cfg).Run(context.Background())
	require.NoError(t, err)

	// The secondary gateway answers every payment with 200.
	assert.Zero(t, result.Metrics.FailedRequests)
	assert.True(t, thresholdByExpr(t, result.Thresholds, "rate < 0.01").Passed)

	failed := thresholdByExpr(t, result.Thresholds, "rate > 0.99")
	assert.False(t, failed.Passed)
	assert.Equal(t, "checks", failed.Metric)
	assert.False(t, result.Passed)

	status := checkByName(t, result.Checks, "is status 200")
	assert.Zero(t, status.Fails)
	assert.Equal(t, result.Metrics.TotalRequests, status.Passes)

	primary := checkByName(t, result.Checks, "via primary")
	assert.Zero(t, primary.Passes)
	assert.Equal(t, result.Metrics.TotalRequests, primary.Fails)
}

func TestEngine_Run_BreakerShieldsPrimary(t *testing.T) {
	api, sim := newPaymentAPI(t, 1, true)

	result, err := newEngine(t, payConfig(api.URL)).Run(context.Background())
	require.NoError(t, err)

	// Three consecutive failures open the breaker for the rest of the run.
	// Two VUs may each have one call in flight when it trips.
	assert.Greater(t, result.Metrics.TotalRequests, int64(4))
	assert.GreaterOrEqual(t, sim.Served(), int64(3))
	assert.LessOrEqual(t, sim.Served(), int64(4))
}

func TestEngine_Run_SettingsHeadersAndVariables(t *testing.T) {
	var gotAgent, gotTenant, gotPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent.Store(r.UserAgent())
		gotTenant.Store(r.Header.Get("X-Tenant"))
		gotPath.Store(r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	cfg := &config.TestConfig{
		Settings: config.GlobalSettings{
			BaseURL:   srv.URL,
			UserAgent: "payramp-test",
			Headers:   map[string]string{"X-Tenant": "{{tenant}}"},
		},
		Variables: map[string]string{"tenant": "acme"},
		Scenarios: map[string]*config.ScenarioConfig{
			"tagged": {
				Executor: "constant-vus",
				VUs:      1,
				Duration: "100ms",
				Tags:     map[string]string{"route": "pay"},
				Requests: []config.RequestConfig{
					{URL: "{{baseURL}}/{{route}}", ThinkTime: "10ms"},
				},
			},
		},
	}

	result, err := newEngine(t, cfg).Run(context.Background())
	require.NoError(t, err)
	require.Positive(t, result.Metrics.TotalRequests)

	assert.Equal(t, "payramp-test", gotAgent.Load())
	assert.Equal(t, "acme", gotTenant.Load())
	assert.Equal(t, "/pay", gotPath.Load())
	assert.Contains(t, result.Scenarios["tagged"].RequestStats, "tagged_request_1")
}

func TestEngine_Run_RPSLimit(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	t.Cleanup(srv.Close)

	cfg := &config.TestConfig{
		Settings: config.GlobalSettings{BaseURL: srv.URL, RPS: 20},
		Scenarios: map[string]*config.ScenarioConfig{
			"flood": {
				Executor: "constant-vus",
				VUs:      4,
				Duration: "500ms",
				Requests: []config.RequestConfig{{URL: "{{baseUrl}}/"}},
			},
		},
	}

	_, err := newEngine(t, cfg).Run(context.Background())
	require.NoError(t, err)

	// 20 rps over half a second, plus the initial token.
	assert.LessOrEqual(t, hits.Load(), int64(13))
	assert.Positive(t, hits.Load())
}

func TestEngine_Run_Sequential(t *testing.T) {
	api, _ := newPaymentAPI(t, 0, false)

	cfg := payConfig(api.URL)
	cfg.Scenarios["second"] = &config.ScenarioConfig{
		Executor: "constant-vus",
		VUs:      1,
		Duration: "100ms",
		Requests: []config.RequestConfig{{Name: "health", URL: "{{baseUrl}}/health"}},
	}
	cfg.Options = &config.ExecutionOptions{Sequential: true}

	start := time.Now()
	result, err := newEngine(t, cfg).Run(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 800*time.Millisecond)
	assert.Len(t, result.Scenarios, 2)
	assert.Contains(t, result.Scenarios["second"].RequestStats, "health")
	assert.NotContains(t, result.Scenarios["second"].RequestStats, "pay")
}

func TestEngine_Run_InvalidCheck(t *testing.T) {
	cfg := payConfig("http://localhost:1")
	cfg.Scenarios["pay"].Requests[0].Checks = []config.CheckConfig{
		{Name: "bad schema", Type: "schema", Schema: "{not json"},
	}

	eng, err := engine.NewEngine(cfg)
	require.NoError(t, err)

	_, err = eng.Run(context.Background())
	assert.Error(t, err)
	assert.False(t, eng.IsRunning())
}

func TestEngine_Stop(t *testing.T) {
	api, _ := newPaymentAPI(t, 0, false)

	cfg := payConfig(api.URL)
	cfg.Scenarios["pay"].Stages = []config.StageConfig{{Duration: "1m", Target: 2}}

	eng := newEngine(t, cfg)

	done := make(chan *engine.TestResult, 1)
	go func() {
		result, _ := eng.Run(context.Background())
		done <- result
	}()

	require.Eventually(t, func() bool {
		m := eng.GetMetrics()
		return m != nil && m.TotalRequests > 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.True(t, eng.IsRunning())
	assert.Greater(t, eng.GetProgress(), 0.0)
	assert.Contains(t, eng.GetScenarioStats(), "pay")

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, eng.Stop(stopCtx))

	select {
	case result := <-done:
		require.NotNil(t, result)
		assert.Positive(t, result.Metrics.TotalRequests)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.False(t, eng.IsRunning())
}

func TestEngine_Run_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	cfg := payConfig(srv.URL)
	cfg.Scenarios["pay"].Stages = []config.StageConfig{{Duration: "3s", Target: 2}}
	cfg.Scenarios["pay"].GracefulStop = "30s"
	cfg.Scenarios["pay"].Requests[0].Checks = nil

	eng := newEngine(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	type runResult struct {
		result *engine.TestResult
		err    error
	}
	done := make(chan runResult, 1)
	go func() {
		result, err := eng.Run(ctx)
		done <- runResult{result, err}
	}()

	require.Eventually(t, func() bool {
		stats := eng.GetScenarioStats()["pay"]
		return stats != nil && stats.ActiveVUs > 0
	}, 5*time.Second, 10*time.Millisecond)

	cancelled := time.Now()
	cancel()

	select {
	case r := <-done:
		assert.Less(t, time.Since(cancelled), time.Second)
		assert.ErrorIs(t, r.err, context.Canceled)
		require.NotNil(t, r.result)
		assert.Zero(t, r.result.Metrics.TotalRequests)
	case <-time.After(5 * time.Second):
		t.Fatal("Run ignored context cancellation")
	}
	assert.False(t, eng.IsRunning())
}

func TestEvaluateThresholds(t *testing.T) {
	snapshot := &metrics.Snapshot{
		TotalRequests: 100,
		RPS:           50,
		ErrorRate:     0.02,
		CheckRate:     0.9,
		Latency: metrics.LatencyStats{
			Min:  time.Millisecond,
			Max:  400 * time.Millisecond,
			Mean: 50 * time.Millisecond,
			P50:  40 * time.Millisecond,
			P90:  120 * time.Millisecond,
			P95:  200 * time.Millisecond,
			P99:  350 * time.Millisecond,
		},
	}

	tests := []struct {
		name   string
		cfg    config.ThresholdsConfig
		passed bool
	}{
		{"p95 under", config.ThresholdsConfig{HTTPReqDuration: []string{"p95 < 500ms"}}, true},
		{"p99 over", config.ThresholdsConfig{HTTPReqDuration: []string{"p99 < 300ms"}}, false},
		{"med is p50", config.ThresholdsConfig{HTTPReqDuration: []string{"med == 40ms"}}, true},
		{"avg", config.ThresholdsConfig{HTTPReqDuration: []string{"avg <= 50ms"}}, true},
		{"max", config.ThresholdsConfig{HTTPReqDuration: []string{"max < 1"}}, true},
		{"failed rate", config.ThresholdsConfig{HTTPReqFailed: []string{"rate < 0.01"}}, false},
		{"request count", config.ThresholdsConfig{HTTPReqs: []string{"count >= 100"}}, true},
		{"request rate", config.ThresholdsConfig{HTTPReqs: []string{"rate > 60"}}, false},
		{"checks rate", config.ThresholdsConfig{Checks: []string{"rate >= 0.9"}}, true},
		{"checks count", config.ThresholdsConfig{Checks: []string{"count > 1"}}, false},
		{"bad value", config.ThresholdsConfig{HTTPReqFailed: []string{"rate < lots"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := engine.EvaluateThresholds(&tt.cfg, snapshot)
			require.Len(t, results, 1)
			assert.Equal(t, tt.passed, results[0].Passed, results[0].Message)
			if !tt.passed {
				assert.NotEmpty(t, results[0].Message)
			}
		})
	}

	assert.Nil(t, engine.EvaluateThresholds(nil, snapshot))
}
