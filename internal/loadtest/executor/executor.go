// Package executor provides load generation strategies for load tests.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/wesleyorama2/payramp/internal/loadtest"
	"github.com/wesleyorama2/payramp/internal/loadtest/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs runs a fixed number of VUs for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypeRampingVUs ramps VU count up and down according to stages.
	TypeRampingVUs Type = "ramping-vus"
)

// Executor controls how load is generated for one scenario.
type Executor interface {
	Type() Type

	// Init validates and stores config. Called once before Run.
	Init(ctx context.Context, config *Config) error

	// Run blocks until the executor is done. When its duration ends, VUs
	// are asked to stop and get GracefulStop to finish what they are doing.
	Run(ctx context.Context, scheduler *loadtest.VUScheduler, metrics *metrics.Engine) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	GetActiveVUs() int
	GetStats() *Stats

	// Stop ends the run early, with the same graceful stop as a normal end.
	Stop(ctx context.Context) error
}

// Config is the parsed load profile of one scenario.
type Config struct {
	Name string
	Type Type

	// constant-vus
	VUs      int
	Duration time.Duration

	// ramping-vus
	Stages []Stage

	// GracefulStop is how long VUs may finish in-flight work after the
	// duration ends. Zero cancels in-flight requests immediately.
	GracefulStop time.Duration
	Pacing       *PacingConfig
}

// Stage is one ramp stage: the VU target is reached linearly over Duration.
// A zero Duration is a step.
type Stage struct {
	Duration time.Duration
	Target   int
	Name     string
}

// PacingType selects how long a VU pauses between iterations.
type PacingType string

const (
	PacingNone     PacingType = "none"
	PacingConstant PacingType = "constant"
	PacingRandom   PacingType = "random"
)

// PacingConfig adds a pause between iterations on top of think time.
type PacingConfig struct {
	Type     PacingType
	Duration time.Duration
	Min, Max time.Duration
}

// Wait returns the pause before the next iteration.
func (p *PacingConfig) Wait() time.Duration {
	if p == nil {
		return 0
	}

	switch p.Type {
	case PacingConstant:
		return p.Duration
	case PacingRandom:
		if p.Max <= p.Min {
			return p.Min
		}
		return p.Min + time.Duration(rand.Int63n(int64(p.Max-p.Min)))
	default:
		return 0
	}
}

// Stats is a live view of an executor for progress reporting.
type Stats struct {
	ActiveVUs  int
	TargetVUs  int
	Iterations int64

	// ramping-vus only; CurrentStage is zero based
	CurrentStage int
	TotalStages  int
}

// ErrInvalidConfig wraps every executor configuration error.
var ErrInvalidConfig = errors.New("invalid executor config")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
}

// Validate checks that c describes a runnable load profile.
func (c *Config) Validate() error {
	switch c.Type {
	case "":
		return invalid("executor type is required")
	case TypeConstantVUs:
		if c.VUs <= 0 {
			return invalid("%s needs vus > 0, got %d", c.Type, c.VUs)
		}
		if c.Duration <= 0 {
			return invalid("%s needs a positive duration", c.Type)
		}
	case TypeRampingVUs:
		if len(c.Stages) == 0 {
			return invalid("%s needs at least one stage", c.Type)
		}
		for i, s := range c.Stages {
			if s.Target < 0 {
				return invalid("stage %d: negative target %d", i+1, s.Target)
			}
		}
		if c.TotalDuration() <= 0 {
			return invalid("%s stages add up to no time", c.Type)
		}
	default:
		return invalid("unsupported executor %q", c.Type)
	}

	if c.GracefulStop < 0 {
		return invalid("negative gracefulStop %s", c.GracefulStop)
	}
	return nil
}

// TotalDuration returns the planned run time, excluding graceful stop.
func (c *Config) TotalDuration() time.Duration {
	if c.Type == TypeConstantVUs {
		return c.Duration
	}

	var total time.Duration
	for _, stage := range c.Stages {
		total += stage.Duration
	}
	return total
}
