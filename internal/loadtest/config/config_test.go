package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "standard seconds", input: "30s", expected: 30 * time.Second},
		{name: "standard minutes", input: "1m", expected: time.Minute},
		{name: "milliseconds", input: "500ms", expected: 500 * time.Millisecond},
		{name: "combined duration", input: "1h30m", expected: 90 * time.Minute},
		{name: "integer as seconds", input: "30", expected: 30 * time.Second},
		{name: "empty string", input: "", expected: 0},
		{name: "invalid format", input: "abc", wantErr: true},
		{name: "trailing garbage", input: "5x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDurationString() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseDurationString() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseConfig_YAML(t *testing.T) {
	yamlConfig := `
name: "Pay ramp"
settings:
  baseUrl: "http://localhost:8080"
  timeout: 5s
  rps: 50
scenarios:
  pay:
    executor: ramping-vus
    stages:
      - duration: 30s
        target: 10
      - duration: 1m
        target: 10
      - duration: 30s
        target: 0
    requests:
      - name: pay
        method: GET
        url: "{{baseUrl}}/pay"
        thinkTime: 1s
        checks:
          - name: "is status 200"
            type: status
            condition: eq
            value: "200"
thresholds:
  checks: ["rate > 0.99"]
`

	cfg, err := ParseConfig([]byte(yamlConfig), "test.yaml")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if cfg.Name != "Pay ramp" {
		t.Errorf("Name = %q, want %q", cfg.Name, "Pay ramp")
	}
	if got := time.Duration(cfg.Settings.Timeout); got != 5*time.Second {
		t.Errorf("Settings.Timeout = %v, want 5s", got)
	}
	if cfg.Settings.RPS != 50 {
		t.Errorf("Settings.RPS = %v, want 50", cfg.Settings.RPS)
	}

	sc, ok := cfg.Scenarios["pay"]
	if !ok {
		t.Fatal("scenario 'pay' not found")
	}
	if len(sc.Stages) != 3 {
		t.Fatalf("len(Stages) = %d, want 3", len(sc.Stages))
	}
	if len(sc.Requests[0].Checks) != 1 {
		t.Fatalf("len(Checks) = %d, want 1", len(sc.Requests[0].Checks))
	}
	if cfg.Thresholds == nil || len(cfg.Thresholds.Checks) != 1 {
		t.Errorf("Thresholds.Checks not parsed")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if got := cfg.TotalDuration(); got != 2*time.Minute {
		t.Errorf("TotalDuration() = %v, want 2m", got)
	}
	if got := cfg.MaxVUs(); got != 10 {
		t.Errorf("MaxVUs() = %d, want 10", got)
	}
}

func TestParseConfig_JSON(t *testing.T) {
	jsonConfig := `{
  "name": "json",
  "settings": {"timeout": "2s"},
  "scenarios": {
    "steady": {
      "executor": "constant-vus",
      "vus": 2,
      "duration": "10s",
      "requests": [{"method": "GET", "url": "http://localhost:8080/pay"}]
    }
  }
}`

	cfg, err := ParseConfig([]byte(jsonConfig), "test.json")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if got := time.Duration(cfg.Settings.Timeout); got != 2*time.Second {
		t.Errorf("Settings.Timeout = %v, want 2s", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestDuration_Settings(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		path    string
		want    time.Duration
		wantErr string
	}{
		{name: "yaml bare seconds", data: "name: t\nsettings:\n  timeout: 45\n", path: "t.yaml", want: 45 * time.Second},
		{name: "yaml list", data: "name: t\nsettings:\n  timeout: [1s]\n", path: "t.yaml", wantErr: "line 3"},
		{name: "json null", data: `{"name": "t", "settings": {"timeout": null}}`, path: "t.json"},
		{name: "json number", data: `{"name": "t", "settings": {"timeout": 5}}`, path: "t.json", wantErr: "must be a string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseConfig([]byte(tt.data), tt.path)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("ParseConfig() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseConfig() error = %v", err)
			}
			if got := time.Duration(cfg.Settings.Timeout); got != tt.want {
				t.Errorf("Timeout = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	if _, err := ParseConfig([]byte("scenarios: ["), "bad.yaml"); err == nil {
		t.Error("expected YAML error")
	}
	if _, err := ParseConfig([]byte("{"), "bad.json"); err == nil {
		t.Error("expected JSON error")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pay.yaml")
	content := `
scenarios:
  pay:
    executor: constant-vus
    vus: 1
    duration: 1s
    requests:
      - url: http://localhost:8080/pay
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if len(cfg.Scenarios) != 1 {
		t.Errorf("len(Scenarios) = %d, want 1", len(cfg.Scenarios))
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadConfig() expected error for missing file")
	}
}

func TestScenarioFileMatchesDefault(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "..", "scenarios", "pay.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	def := Default("")
	if cfg.TotalDuration() != def.TotalDuration() {
		t.Errorf("TotalDuration() = %v, default %v", cfg.TotalDuration(), def.TotalDuration())
	}
	if cfg.MaxVUs() != def.MaxVUs() {
		t.Errorf("MaxVUs() = %d, default %d", cfg.MaxVUs(), def.MaxVUs())
	}
}

func TestDefault(t *testing.T) {
	cfg := Default("")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.Settings.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.Settings.BaseURL, DefaultBaseURL)
	}
	if got := cfg.TotalDuration(); got != 2*time.Minute {
		t.Errorf("TotalDuration() = %v, want 2m", got)
	}
	if got := cfg.MaxVUs(); got != 10 {
		t.Errorf("MaxVUs() = %d, want 10", got)
	}

	sc := cfg.Scenarios["pay"]
	wantTargets := []int{10, 10, 0}
	for i, stage := range sc.Stages {
		if stage.Target != wantTargets[i] {
			t.Errorf("stage %d target = %d, want %d", i, stage.Target, wantTargets[i])
		}
	}

	req := sc.Requests[0]
	if req.Method != "GET" || req.ThinkTime != "1s" {
		t.Errorf("request = %+v", req)
	}
	if len(req.Checks) != 1 || req.Checks[0].Type != "status" || req.Checks[0].Value != "200" {
		t.Errorf("checks = %+v", req.Checks)
	}

	if got := Default("http://pay.internal:9000").Settings.BaseURL; got != "http://pay.internal:9000" {
		t.Errorf("BaseURL override = %q", got)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &TestConfig{
		Scenarios: map[string]*ScenarioConfig{
			"s": {
				Executor: "constant-vus",
				VUs:      1,
				Duration: "1s",
				Requests: []RequestConfig{
					{URL: "http://localhost/pay", Method: "post", Checks: []CheckConfig{{Type: "status", Condition: "eq", Value: "200"}}},
				},
			},
		},
	}

	ApplyDefaults(cfg)

	if cfg.Name == "" {
		t.Error("Name not defaulted")
	}
	if time.Duration(cfg.Settings.Timeout) != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", time.Duration(cfg.Settings.Timeout), DefaultTimeout)
	}

	sc := cfg.Scenarios["s"]
	if sc.GracefulStop != "30s" {
		t.Errorf("GracefulStop = %q, want 30s", sc.GracefulStop)
	}
	if sc.Requests[0].Method != "POST" {
		t.Errorf("Method = %q, want POST", sc.Requests[0].Method)
	}
	if sc.Requests[0].Name != "s_request_1" {
		t.Errorf("Name = %q, want s_request_1", sc.Requests[0].Name)
	}
	if sc.Requests[0].Checks[0].Name != "status eq 200" {
		t.Errorf("check name = %q", sc.Requests[0].Checks[0].Name)
	}
}

func TestResolveVariables(t *testing.T) {
	vars := map[string]string{"baseUrl": "http://localhost:8080", "id": "42"}

	got := ResolveVariables("{{baseUrl}}/pay/{{id}}?x={{missing}}", vars)
	want := "http://localhost:8080/pay/42?x={{missing}}"
	if got != want {
		t.Errorf("ResolveVariables() = %q, want %q", got, want)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *TestConfig
		wantField string
	}{
		{
			name:      "no scenarios",
			cfg:       &TestConfig{},
			wantField: "scenarios",
		},
		{
			name: "unknown executor",
			cfg: &TestConfig{Scenarios: map[string]*ScenarioConfig{
				"s": {Executor: "constant-arrival-rate", Requests: []RequestConfig{{URL: "http://x"}}},
			}},
			wantField: "scenarios.s.executor",
		},
		{
			name: "ramping without stages",
			cfg: &TestConfig{Scenarios: map[string]*ScenarioConfig{
				"s": {Executor: "ramping-vus", Requests: []RequestConfig{{URL: "http://x"}}},
			}},
			wantField: "scenarios.s.stages",
		},
		{
			name: "zero length ramp",
			cfg: &TestConfig{Scenarios: map[string]*ScenarioConfig{
				"s": {Executor: "ramping-vus", Stages: []StageConfig{{Duration: "0s", Target: 5}}, Requests: []RequestConfig{{URL: "http://x"}}},
			}},
			wantField: "scenarios.s.stages",
		},
		{
			name: "negative target",
			cfg: &TestConfig{Scenarios: map[string]*ScenarioConfig{
				"s": {Executor: "ramping-vus", Stages: []StageConfig{{Duration: "1s", Target: -1}}, Requests: []RequestConfig{{URL: "http://x"}}},
			}},
			wantField: "scenarios.s.stages[0].target",
		},
		{
			name: "constant without vus",
			cfg: &TestConfig{Scenarios: map[string]*ScenarioConfig{
				"s": {Executor: "constant-vus", Duration: "1s", Requests: []RequestConfig{{URL: "http://x"}}},
			}},
			wantField: "scenarios.s.vus",
		},
		{
			name: "bad method",
			cfg: &TestConfig{Scenarios: map[string]*ScenarioConfig{
				"s": {Executor: "constant-vus", VUs: 1, Duration: "1s", Requests: []RequestConfig{{Method: "FETCH", URL: "http://x"}}},
			}},
			wantField: "scenarios.s.requests[0].method",
		},
		{
			name: "bad check type",
			cfg: &TestConfig{Scenarios: map[string]*ScenarioConfig{
				"s": {Executor: "constant-vus", VUs: 1, Duration: "1s", Requests: []RequestConfig{{URL: "http://x", Checks: []CheckConfig{{Type: "xpath", Condition: "eq"}}}}},
			}},
			wantField: "scenarios.s.requests[0].checks[0].type",
		},
		{
			name: "schema check without schema",
			cfg: &TestConfig{Scenarios: map[string]*ScenarioConfig{
				"s": {Executor: "constant-vus", VUs: 1, Duration: "1s", Requests: []RequestConfig{{URL: "http://x", Checks: []CheckConfig{{Type: "schema"}}}}},
			}},
			wantField: "scenarios.s.requests[0].checks[0].schema",
		},
		{
			name: "bad pattern",
			cfg: &TestConfig{Scenarios: map[string]*ScenarioConfig{
				"s": {Executor: "constant-vus", VUs: 1, Duration: "1s", Requests: []RequestConfig{{URL: "http://x", Checks: []CheckConfig{{Type: "body", Condition: "matches", Value: "("}}}}},
			}},
			wantField: "scenarios.s.requests[0].checks[0].value",
		},
		{
			name: "random pacing min above max",
			cfg: &TestConfig{Scenarios: map[string]*ScenarioConfig{
				"s": {Executor: "constant-vus", VUs: 1, Duration: "1s", Requests: []RequestConfig{{URL: "http://x"}}, Pacing: &PacingConfig{Type: "random", Min: "2s", Max: "1s"}},
			}},
			wantField: "scenarios.s.pacing",
		},
		{
			name: "bad threshold metric",
			cfg: &TestConfig{
				Scenarios: map[string]*ScenarioConfig{
					"s": {Executor: "constant-vus", VUs: 1, Duration: "1s", Requests: []RequestConfig{{URL: "http://x"}}},
				},
				Thresholds: &ThresholdsConfig{Checks: []string{"p95 < 1s"}},
			},
			wantField: "thresholds.checks[0]",
		},
		{
			name: "relative base url",
			cfg: &TestConfig{
				Settings: GlobalSettings{BaseURL: "localhost"},
				Scenarios: map[string]*ScenarioConfig{
					"s": {Executor: "constant-vus", VUs: 1, Duration: "1s", Requests: []RequestConfig{{URL: "http://x"}}},
				},
			},
			wantField: "settings.baseUrl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}

			var verrs *ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Validate() error type = %T, want *ValidationErrors", err)
			}

			found := false
			for _, e := range verrs.Errors {
				if e.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("no error on field %q in: %v", tt.wantField, err)
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := &ValidationErrors{}
	if errs.Error() != "no validation errors" {
		t.Errorf("empty Error() = %q", errs.Error())
	}

	errs.Add("a", "first")
	if !strings.Contains(errs.Error(), "field 'a'") {
		t.Errorf("single Error() = %q", errs.Error())
	}

	errs.Add("", "second")
	if !strings.HasPrefix(errs.Error(), "2 validation errors") {
		t.Errorf("multi Error() = %q", errs.Error())
	}
}

func TestParseThresholdExpression(t *testing.T) {
	metric, op, value, err := ParseThresholdExpression("p95 <= 500ms")
	if err != nil {
		t.Fatalf("ParseThresholdExpression() error = %v", err)
	}
	if metric != "p95" || op != "<=" || value != "500ms" {
		t.Errorf("got %q %q %q", metric, op, value)
	}

	if _, _, _, err := ParseThresholdExpression("p95"); err == nil {
		t.Error("expected error for missing operator")
	}
}
