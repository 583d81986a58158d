package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

var placeholderRe = regexp.MustCompile(`\{\{[^}]*\}\}`)

// Validate validates the entire test configuration.
//
// Returns nil if valid, or a *ValidationErrors containing all validation errors.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}

	for name, scenario := range c.Scenarios {
		if scenario == nil {
			errs.Add("scenarios."+name, "scenario is empty")
			continue
		}
		validateScenario(name, scenario, errs)
	}

	if c.Thresholds != nil {
		validateThresholds(c.Thresholds, errs)
	}

	validateSettings(&c.Settings, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateScenario(name string, sc *ScenarioConfig, errs *ValidationErrors) {
	prefix := fmt.Sprintf("scenarios.%s", name)

	switch sc.Executor {
	case "":
		errs.Add(prefix+".executor", "executor type is required")
	case "constant-vus":
		validateConstantVUs(prefix, sc, errs)
	case "ramping-vus":
		validateRampingVUs(prefix, sc, errs)
	default:
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s", sc.Executor))
	}

	if len(sc.Requests) == 0 {
		errs.Add(prefix+".requests", "at least one request is required")
	}

	for i := range sc.Requests {
		validateRequest(fmt.Sprintf("%s.requests[%d]", prefix, i), &sc.Requests[i], errs)
	}

	if sc.GracefulStop != "" {
		if _, err := ParseDurationString(sc.GracefulStop); err != nil {
			errs.Add(prefix+".gracefulStop", fmt.Sprintf("invalid duration: %v", err))
		}
	}

	if sc.Pacing != nil {
		validatePacing(prefix+".pacing", sc.Pacing, errs)
	}
}

func validateConstantVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.VUs <= 0 {
		errs.Add(prefix+".vus", "vus must be greater than 0")
	}

	if sc.Duration == "" {
		errs.Add(prefix+".duration", "duration is required for constant-vus executor")
	} else if d, err := ParseDurationString(sc.Duration); err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	} else if d <= 0 {
		errs.Add(prefix+".duration", "duration must be greater than 0")
	}
}

func validateRampingVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if len(sc.Stages) == 0 {
		errs.Add(prefix+".stages", "at least one stage is required for ramping-vus executor")
		return
	}

	var total time.Duration
	stageErr := false
	for i := range sc.Stages {
		stagePrefix := fmt.Sprintf("%s.stages[%d]", prefix, i)
		stage := &sc.Stages[i]

		d, err := ParseDurationString(stage.Duration)
		switch {
		case stage.Duration == "":
			stageErr = true
			errs.Add(stagePrefix+".duration", "duration is required")
		case err != nil:
			stageErr = true
			errs.Add(stagePrefix+".duration", fmt.Sprintf("invalid duration: %v", err))
		default:
			total += d
		}

		if stage.Target < 0 {
			errs.Add(stagePrefix+".target", "target cannot be negative")
		}
	}

	if total <= 0 && !stageErr {
		errs.Add(prefix+".stages", "total stage duration must be greater than 0")
	}
}

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

func validateRequest(prefix string, req *RequestConfig, errs *ValidationErrors) {
	// An empty method defaults to GET.
	if method := strings.ToUpper(req.Method); method != "" && !validMethods[method] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", req.Method))
	}

	if req.URL == "" {
		errs.Add(prefix+".url", "url is required")
	} else {
		urlToCheck := placeholderRe.ReplaceAllString(req.URL, "http://placeholder")
		if _, err := url.Parse(urlToCheck); err != nil {
			errs.Add(prefix+".url", fmt.Sprintf("invalid URL: %v", err))
		}
	}

	if req.Timeout != "" {
		if _, err := ParseDurationString(req.Timeout); err != nil {
			errs.Add(prefix+".timeout", fmt.Sprintf("invalid timeout: %v", err))
		}
	}

	if req.ThinkTime != "" {
		if _, err := ParseDurationString(req.ThinkTime); err != nil {
			errs.Add(prefix+".thinkTime", fmt.Sprintf("invalid thinkTime: %v", err))
		}
	}

	for i := range req.Checks {
		validateCheck(fmt.Sprintf("%s.checks[%d]", prefix, i), &req.Checks[i], errs)
	}
}

var validCheckTypes = map[string]bool{
	"status": true, "header": true, "body": true,
	"jsonpath": true, "schema": true, "duration": true,
}

var validConditions = map[string]bool{
	"eq": true, "ne": true, "gt": true, "lt": true, "gte": true, "lte": true,
	"contains": true, "matches": true, "exists": true,
}

func validateCheck(prefix string, c *CheckConfig, errs *ValidationErrors) {
	if c.Type == "" {
		errs.Add(prefix+".type", "type is required")
	} else if !validCheckTypes[c.Type] {
		errs.Add(prefix+".type", fmt.Sprintf("invalid check type: %s", c.Type))
	}

	switch c.Type {
	case "schema":
		if c.Schema == "" {
			errs.Add(prefix+".schema", "schema is required for schema checks")
		}
		return
	case "header", "jsonpath":
		if c.Path == "" {
			errs.Add(prefix+".path", fmt.Sprintf("path is required for %s checks", c.Type))
		}
	}

	if c.Condition == "" {
		errs.Add(prefix+".condition", "condition is required")
	} else if !validConditions[c.Condition] {
		errs.Add(prefix+".condition", fmt.Sprintf("invalid condition: %s", c.Condition))
	}

	if c.Condition == "matches" {
		if _, err := regexp.Compile(c.Value); err != nil {
			errs.Add(prefix+".value", fmt.Sprintf("invalid pattern: %v", err))
		}
	}
}

func validatePacing(prefix string, pacing *PacingConfig, errs *ValidationErrors) {
	switch pacing.Type {
	case "none":
	case "constant":
		if pacing.Duration == "" {
			errs.Add(prefix+".duration", "duration is required for constant pacing")
		} else if _, err := ParseDurationString(pacing.Duration); err != nil {
			errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
		}

	case "random":
		minDur, minErr := ParseDurationString(pacing.Min)
		maxDur, maxErr := ParseDurationString(pacing.Max)

		if pacing.Min == "" {
			errs.Add(prefix+".min", "min is required for random pacing")
		} else if minErr != nil {
			errs.Add(prefix+".min", fmt.Sprintf("invalid min: %v", minErr))
		}

		if pacing.Max == "" {
			errs.Add(prefix+".max", "max is required for random pacing")
		} else if maxErr != nil {
			errs.Add(prefix+".max", fmt.Sprintf("invalid max: %v", maxErr))
		}

		if minErr == nil && maxErr == nil && minDur > maxDur {
			errs.Add(prefix, "min must be less than or equal to max")
		}

	default:
		errs.Add(prefix+".type", fmt.Sprintf("invalid pacing type: %s", pacing.Type))
	}
}

func validateThresholds(t *ThresholdsConfig, errs *ValidationErrors) {
	groups := []struct {
		name    string
		exprs   []string
		metrics []string
	}{
		{"http_req_duration", t.HTTPReqDuration, []string{"p50", "p90", "p95", "p99", "min", "max", "avg", "med"}},
		{"http_req_failed", t.HTTPReqFailed, []string{"rate"}},
		{"http_reqs", t.HTTPReqs, []string{"count", "rate"}},
		{"checks", t.Checks, []string{"rate"}},
	}

	for _, g := range groups {
		for i, expr := range g.exprs {
			if err := validateThresholdExpression(expr, g.metrics); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", g.name, i), err.Error())
			}
		}
	}
}

// validateThresholdExpression validates an expression such as "p95 < 500ms".
func validateThresholdExpression(expr string, metrics []string) error {
	metric, _, value, err := ParseThresholdExpression(expr)
	if err != nil {
		return err
	}

	for _, m := range metrics {
		if m == metric {
			if value == "" {
				return fmt.Errorf("threshold value is required")
			}
			return nil
		}
	}
	return fmt.Errorf("threshold must start with one of: %s", strings.Join(metrics, ", "))
}

var thresholdRe = regexp.MustCompile(`^(\w+)\s*(<=|>=|==|!=|<|>)\s*(.+)$`)

// ParseThresholdExpression splits "p95 < 500ms" into metric, operator and value.
func ParseThresholdExpression(expr string) (metric, op, value string, err error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", "", "", fmt.Errorf("threshold expression cannot be empty")
	}

	matches := thresholdRe.FindStringSubmatch(expr)
	if len(matches) != 4 {
		return "", "", "", fmt.Errorf("invalid expression format: %s", expr)
	}

	return matches[1], matches[2], strings.TrimSpace(matches[3]), nil
}

func validateSettings(s *GlobalSettings, errs *ValidationErrors) {
	if s.BaseURL != "" {
		if u, err := url.Parse(s.BaseURL); err != nil {
			errs.Add("settings.baseUrl", fmt.Sprintf("invalid URL: %v", err))
		} else if u.Scheme == "" || u.Host == "" {
			errs.Add("settings.baseUrl", "must be an absolute URL")
		}
	}

	if s.RPS < 0 {
		errs.Add("settings.rps", "cannot be negative")
	}
	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}
}
