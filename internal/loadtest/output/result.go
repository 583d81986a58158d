package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/payramp/internal/loadtest/engine"
)

// Format is a machine-readable result format.
type Format string

const (
	// FormatJSON writes the result as indented JSON
	FormatJSON Format = "json"
	// FormatYAML writes the result as YAML
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format name. The empty string means JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s (use json or yaml)", s)
	}
}

// FormatFromPath picks the format from a file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// WriteResult encodes result to w.
//
// YAML goes through the JSON encoding so both formats share field names.
func WriteResult(w io.Writer, result *engine.TestResult, format Format) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}

	if format == FormatYAML {
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("converting result to yaml: %w", err)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		return enc.Close()
	}

	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// WriteResultFile writes result to path in the format its extension names.
func WriteResultFile(path string, result *engine.TestResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	if err := WriteResult(f, result, FormatFromPath(path)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
