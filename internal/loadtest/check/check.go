// Package check evaluates response checks.
//
// A failed check never fails the request it belongs to. Results are counted
// separately and surface as the "checks" rate.
package check

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/payramp/internal/loadtest/config"
)

// Response is the part of an HTTP response checks look at.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// Result is the outcome of a single check.
type Result struct {
	Name    string
	Passed  bool
	Actual  string
	Message string
}

// Check is a compiled check, safe for concurrent use.
type Check struct {
	Name      string
	Type      string
	Condition string
	Value     string
	Path      string

	pattern  *regexp.Regexp
	schema   *jsonschema.Schema
	duration time.Duration
}

// Compile prepares a check. Regexes, schemas and duration values are parsed
// once here instead of on every response.
func Compile(cfg config.CheckConfig) (*Check, error) {
	c := &Check{
		Name:      cfg.Name,
		Type:      cfg.Type,
		Condition: cfg.Condition,
		Value:     cfg.Value,
		Path:      cfg.Path,
	}
	if c.Name == "" {
		c.Name = strings.TrimSpace(fmt.Sprintf("%s %s %s", c.Type, c.Condition, c.Value))
	}

	switch cfg.Type {
	case "status", "header", "body", "jsonpath":
	case "duration":
		d, err := config.ParseDurationString(cfg.Value)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", c.Name, err)
		}
		c.duration = d
	case "schema":
		schema, err := compileSchema(cfg.Schema)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", c.Name, err)
		}
		c.schema = schema
		return c, nil
	default:
		return nil, fmt.Errorf("check %q: unknown type %q", c.Name, cfg.Type)
	}

	if cfg.Condition == "matches" {
		re, err := regexp.Compile(cfg.Value)
		if err != nil {
			return nil, fmt.Errorf("check %q: invalid pattern: %w", c.Name, err)
		}
		c.pattern = re
	}

	return c, nil
}

// CompileAll compiles a list of checks.
func CompileAll(cfgs []config.CheckConfig) ([]*Check, error) {
	checks := make([]*Check, 0, len(cfgs))
	for _, cfg := range cfgs {
		c, err := Compile(cfg)
		if err != nil {
			return nil, err
		}
		checks = append(checks, c)
	}
	return checks, nil
}

func compileSchema(doc string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return schema, nil
}

// Evaluate runs the check against resp.
func (c *Check) Evaluate(resp *Response) Result {
	result := Result{Name: c.Name}

	switch c.Type {
	case "schema":
		result.Passed, result.Message = c.evaluateSchema(resp.Body)
		return result

	case "duration":
		result.Actual = resp.Duration.String()
		result.Passed = compareOrdered(float64(resp.Duration), c.Condition, float64(c.duration))

	case "status":
		result.Actual = strconv.Itoa(resp.StatusCode)
		result.Passed = c.compare(result.Actual, true)

	case "header":
		values, ok := resp.Header[http.CanonicalHeaderKey(c.Path)]
		if c.Condition == "exists" {
			result.Passed = ok
			break
		}
		if !ok || len(values) == 0 {
			result.Message = fmt.Sprintf("header %s not present", c.Path)
			return result
		}
		result.Actual = values[0]
		result.Passed = c.compare(result.Actual, true)

	case "body":
		result.Actual = truncate(string(resp.Body), 64)
		if c.Condition == "exists" {
			result.Passed = len(resp.Body) > 0
			break
		}
		result.Passed = c.compare(string(resp.Body), false)

	case "jsonpath":
		value := gjson.GetBytes(resp.Body, toGJSONPath(c.Path))
		if c.Condition == "exists" {
			result.Passed = value.Exists()
			break
		}
		if !value.Exists() {
			result.Message = fmt.Sprintf("path %s not found", c.Path)
			return result
		}
		result.Actual = value.String()
		result.Passed = c.compare(result.Actual, true)
	}

	if !result.Passed && result.Message == "" {
		result.Message = fmt.Sprintf("expected %s %s %s, got %s", c.Type, c.Condition, c.Value, result.Actual)
	}
	return result
}

func (c *Check) evaluateSchema(body []byte) (bool, string) {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return false, fmt.Sprintf("invalid JSON: %v", err)
	}

	if err := c.schema.Validate(doc); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// compare applies the condition to actual. Ordered comparisons are numeric;
// eq/ne compare numerically when both sides are numbers and numeric is set.
func (c *Check) compare(actual string, numeric bool) bool {
	switch c.Condition {
	case "eq", "ne":
		equal := actual == c.Value
		if numeric {
			if a, b, ok := parseFloats(actual, c.Value); ok {
				equal = a == b
			}
		}
		if c.Condition == "eq" {
			return equal
		}
		return !equal
	case "gt", "lt", "gte", "lte":
		a, b, ok := parseFloats(actual, c.Value)
		if !ok {
			return false
		}
		return compareOrdered(a, c.Condition, b)
	case "contains":
		return strings.Contains(actual, c.Value)
	case "matches":
		return c.pattern != nil && c.pattern.MatchString(actual)
	case "exists":
		return actual != ""
	default:
		return false
	}
}

func compareOrdered(actual float64, condition string, expected float64) bool {
	switch condition {
	case "eq":
		return actual == expected
	case "ne":
		return actual != expected
	case "gt":
		return actual > expected
	case "lt":
		return actual < expected
	case "gte":
		return actual >= expected
	case "lte":
		return actual <= expected
	default:
		return false
	}
}

func parseFloats(a, b string) (float64, float64, bool) {
	x, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
	if err != nil {
		return 0, 0, false
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if err != nil {
		return 0, 0, false
	}
	return x, y, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// toGJSONPath converts a simple JSONPath expression ("$.items[0].id") to
// gjson syntax ("items.0.id"). Plain gjson paths pass through unchanged.
func toGJSONPath(path string) string {
	if path == "$" || path == "" {
		return "@this"
	}
	if !strings.HasPrefix(path, "$") {
		return path
	}

	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")

	r := strings.NewReplacer("['", ".", "']", "", `["`, ".", `"]`, "", "[", ".", "]", "")
	path = r.Replace(path)
	return strings.TrimPrefix(path, ".")
}
