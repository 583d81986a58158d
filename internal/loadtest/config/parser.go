package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultGracefulStop = 30 * time.Second
)

// LoadConfig loads a test configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &config, nil
}

// ParseDurationString parses a duration string.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ScenarioDuration returns the scenario duration: the explicit duration, or
// the sum of all stage durations.
func ScenarioDuration(sc *ScenarioConfig) (time.Duration, error) {
	if sc.Duration != "" {
		return ParseDurationString(sc.Duration)
	}

	if len(sc.Stages) > 0 {
		var total time.Duration
		for _, stage := range sc.Stages {
			stageDur, err := ParseDurationString(stage.Duration)
			if err != nil {
				return 0, fmt.Errorf("invalid stage duration: %w", err)
			}
			total += stageDur
		}
		return total, nil
	}

	return 0, fmt.Errorf("no duration specified and no stages defined")
}

// TotalDuration returns the longest scenario duration of the test.
func (c *TestConfig) TotalDuration() time.Duration {
	var longest time.Duration
	for _, sc := range c.Scenarios {
		if d, err := ScenarioDuration(sc); err == nil && d > longest {
			longest = d
		}
	}
	return longest
}

// MaxVUs returns the highest VU count any scenario reaches.
func (c *TestConfig) MaxVUs() int {
	maxVUs := 0
	for _, sc := range c.Scenarios {
		if n := ScenarioMaxVUs(sc); n > maxVUs {
			maxVUs = n
		}
	}
	return maxVUs
}

// ScenarioMaxVUs returns the highest VU count of one scenario: its vus, or
// its largest stage target.
func ScenarioMaxVUs(sc *ScenarioConfig) int {
	maxVUs := sc.VUs
	for _, stage := range sc.Stages {
		if stage.Target > maxVUs {
			maxVUs = stage.Target
		}
	}
	return maxVUs
}

// ApplyDefaults fills in unset values.
func ApplyDefaults(c *TestConfig) {
	if c.Name == "" {
		c.Name = "Load Test"
	}
	if c.Settings.Timeout == 0 {
		c.Settings.Timeout = Duration(DefaultTimeout)
	}

	for name, sc := range c.Scenarios {
		if sc.GracefulStop == "" {
			sc.GracefulStop = DefaultGracefulStop.String()
		}
		for i := range sc.Requests {
			req := &sc.Requests[i]
			if req.Method == "" {
				req.Method = "GET"
			}
			req.Method = strings.ToUpper(req.Method)
			if req.Name == "" {
				req.Name = fmt.Sprintf("%s_request_%d", name, i+1)
			}
			for j := range req.Checks {
				if req.Checks[j].Name == "" {
					req.Checks[j].Name = fmt.Sprintf("%s %s %s", req.Checks[j].Type, req.Checks[j].Condition, req.Checks[j].Value)
				}
			}
		}
	}
}

// ResolveVariables replaces {{name}} placeholders with values from vars.
// Unresolved placeholders are left as-is.
func ResolveVariables(input string, vars map[string]string) string {
	if !strings.Contains(input, "{{") {
		return input
	}

	result := input
	for key, value := range vars {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	return result
}
