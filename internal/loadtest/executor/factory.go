package executor

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/wesleyorama2/payramp/internal/loadtest/config"
)

var constructors = map[Type]func() Executor{
	TypeConstantVUs: func() Executor { return NewConstantVUs() },
	TypeRampingVUs:  func() Executor { return NewRampingVUs() },
}

// NewExecutor returns an uninitialized executor of the given type.
func NewExecutor(executorType Type) (Executor, error) {
	newExec, ok := constructors[executorType]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported executor %q", ErrInvalidConfig, executorType)
	}
	return newExec(), nil
}

// CreateAndInitExecutor creates an executor and calls Init with cfg.
func CreateAndInitExecutor(ctx context.Context, cfg *Config) (Executor, error) {
	exec, err := NewExecutor(cfg.Type)
	if err != nil {
		return nil, err
	}
	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("init %s executor %q: %w", cfg.Type, cfg.Name, err)
	}
	return exec, nil
}

// CreateExecutorFromScenarioConfig builds and initializes the executor for
// a scenario read from YAML/JSON.
func CreateExecutorFromScenarioConfig(ctx context.Context, name string, sc *config.ScenarioConfig) (Executor, *Config, error) {
	execConfig, err := ConfigFromScenario(name, sc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert scenario config: %w", err)
	}

	exec, err := CreateAndInitExecutor(ctx, execConfig)
	if err != nil {
		return nil, nil, err
	}
	return exec, execConfig, nil
}

// ConfigFromScenario converts a scenario config into an executor config,
// parsing its duration strings.
func ConfigFromScenario(name string, sc *config.ScenarioConfig) (*Config, error) {
	cfg := &Config{
		Name:         name,
		Type:         Type(sc.Executor),
		VUs:          sc.VUs,
		GracefulStop: config.DefaultGracefulStop,
	}

	var err error
	if sc.Duration != "" {
		if cfg.Duration, err = config.ParseDurationString(sc.Duration); err != nil {
			return nil, fmt.Errorf("invalid duration: %w", err)
		}
	}
	if sc.GracefulStop != "" {
		if cfg.GracefulStop, err = config.ParseDurationString(sc.GracefulStop); err != nil {
			return nil, fmt.Errorf("invalid gracefulStop: %w", err)
		}
	}

	for i, stage := range sc.Stages {
		d, err := config.ParseDurationString(stage.Duration)
		if err != nil {
			return nil, fmt.Errorf("invalid duration for stage %d: %w", i, err)
		}
		cfg.Stages = append(cfg.Stages, Stage{
			Duration: d,
			Target:   stage.Target,
			Name:     stage.Name,
		})
	}

	if sc.Pacing != nil {
		if cfg.Pacing, err = pacingFromConfig(sc.Pacing); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func pacingFromConfig(p *config.PacingConfig) (*PacingConfig, error) {
	pacing := &PacingConfig{Type: PacingType(p.Type)}

	fields := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"duration", p.Duration, &pacing.Duration},
		{"min", p.Min, &pacing.Min},
		{"max", p.Max, &pacing.Max},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		d, err := config.ParseDurationString(f.value)
		if err != nil {
			return nil, fmt.Errorf("invalid pacing %s: %w", f.name, err)
		}
		*f.dst = d
	}
	return pacing, nil
}

// IsValidExecutorType reports whether executorType is supported.
func IsValidExecutorType(executorType string) bool {
	_, ok := constructors[Type(executorType)]
	return ok
}

// GetSupportedExecutors returns the supported executor types, sorted.
func GetSupportedExecutors() []Type {
	types := make([]Type, 0, len(constructors))
	for t := range constructors {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// CalculateMaxVUs returns the highest VU count cfg can reach.
func CalculateMaxVUs(cfg *Config) int {
	if cfg.Type != TypeRampingVUs {
		return cfg.VUs
	}
	peak := 0
	for _, stage := range cfg.Stages {
		peak = max(peak, stage.Target)
	}
	return peak
}
