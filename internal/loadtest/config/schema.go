// Package config provides configuration parsing and validation for load tests.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// TestConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: "Payment API ramp"
//	settings:
//	  baseUrl: "http://localhost:8080"
//	scenarios:
//	  pay:
//	    executor: ramping-vus
//	    stages:
//	      - duration: 30s
//	        target: 10
//	    requests:
//	      - name: "pay"
//	        method: GET
//	        url: "{{baseUrl}}/pay"
//	        thinkTime: 1s
//	        checks:
//	          - name: "is status 200"
//	            type: status
//	            condition: eq
//	            value: "200"
type TestConfig struct {
	Name        string                     `json:"name" yaml:"name"`
	Description string                     `json:"description,omitempty" yaml:"description,omitempty"`
	Settings    GlobalSettings             `json:"settings,omitempty" yaml:"settings,omitempty"`
	Variables   map[string]string          `json:"variables,omitempty" yaml:"variables,omitempty"`
	Scenarios   map[string]*ScenarioConfig `json:"scenarios" yaml:"scenarios"`
	Thresholds  *ThresholdsConfig          `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	Options     *ExecutionOptions          `json:"options,omitempty" yaml:"options,omitempty"`
}

// GlobalSettings apply to every request of every scenario.
type GlobalSettings struct {
	BaseURL string   `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// RPS caps requests per second across all VUs; 0 is unlimited.
	RPS float64 `json:"rps,omitempty" yaml:"rps,omitempty"`

	MaxConnectionsPerHost int  `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`
	MaxIdleConnsPerHost   int  `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`
	InsecureSkipVerify    bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	UserAgent string            `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ScenarioConfig is one load profile and the requests each VU iteration makes.
// VUs and Duration apply to constant-vus, Stages to ramping-vus.
type ScenarioConfig struct {
	Executor     string            `json:"executor" yaml:"executor"`
	VUs          int               `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration     string            `json:"duration,omitempty" yaml:"duration,omitempty"`
	Stages       []StageConfig     `json:"stages,omitempty" yaml:"stages,omitempty"`
	Requests     []RequestConfig   `json:"requests" yaml:"requests"`
	GracefulStop string            `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
	Pacing       *PacingConfig     `json:"pacing,omitempty" yaml:"pacing,omitempty"`
	Tags         map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

type StageConfig struct {
	Duration string `json:"duration" yaml:"duration"`
	Target   int    `json:"target" yaml:"target"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
}

// RequestConfig is one HTTP call of an iteration. ThinkTime is slept after
// the response, still inside the iteration.
type RequestConfig struct {
	Name      string            `json:"name,omitempty" yaml:"name,omitempty"`
	Method    string            `json:"method" yaml:"method"`
	URL       string            `json:"url" yaml:"url"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body      string            `json:"body,omitempty" yaml:"body,omitempty"`
	Timeout   string            `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	ThinkTime string            `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`
	Checks    []CheckConfig     `json:"checks,omitempty" yaml:"checks,omitempty"`
}

type PacingConfig struct {
	Type     string `json:"type" yaml:"type"` // none, constant or random
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
	Min      string `json:"min,omitempty" yaml:"min,omitempty"`
	Max      string `json:"max,omitempty" yaml:"max,omitempty"`
}

// CheckConfig describes a response check. Path is a header name for
// header checks and a gjson path ("$." prefix allowed) for jsonpath checks.
// Schema holds an inline JSON Schema document.
type CheckConfig struct {
	Name      string `json:"name" yaml:"name"`
	Type      string `json:"type" yaml:"type"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Value     string `json:"value,omitempty" yaml:"value,omitempty"`
	Path      string `json:"path,omitempty" yaml:"path,omitempty"`
	Schema    string `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// ThresholdsConfig lists expressions per metric, e.g. "p95 < 500ms" for
// http_req_duration or "rate > 0.99" for checks.
type ThresholdsConfig struct {
	HTTPReqDuration []string `json:"http_req_duration,omitempty" yaml:"http_req_duration,omitempty"`
	HTTPReqFailed   []string `json:"http_req_failed,omitempty" yaml:"http_req_failed,omitempty"`
	HTTPReqs        []string `json:"http_reqs,omitempty" yaml:"http_reqs,omitempty"`
	Checks          []string `json:"checks,omitempty" yaml:"checks,omitempty"`
}

type ExecutionOptions struct {
	Sequential bool `json:"sequential,omitempty" yaml:"sequential,omitempty"`

	// NoVUConnectionReuse gives every VU its own HTTP client.
	NoVUConnectionReuse bool `json:"noVUConnectionReuse,omitempty" yaml:"noVUConnectionReuse,omitempty"`
}

// Duration accepts the same strings as ParseDurationString in JSON and YAML.
type Duration time.Duration

// GetDuration returns d, or def when d is unset.
func (d Duration) GetDuration(def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	return d.set(s)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	if err := d.set(node.Value); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	return nil
}

func (d *Duration) set(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}
