package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/payramp/internal/loadtest"
	"github.com/wesleyorama2/payramp/internal/loadtest/metrics"
)

// ConstantVUs runs a fixed number of VUs for a duration.
//
// Each VU iterates back to back (closed model), paced only by think time
// and the optional pacing config.
type ConstantVUs struct {
	config *Config

	running atomic.Bool

	mu         sync.RWMutex
	startTime  time.Time
	cancelFunc context.CancelFunc
	stopped    bool
	group      *vuGroup
	done       chan struct{}
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{done: make(chan struct{})}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(_ context.Context, config *Config) error {
	if config.Type != TypeConstantVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantVUs, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run starts all VUs, waits out the duration, then drains them.
func (e *ConstantVUs) Run(ctx context.Context, scheduler *loadtest.VUScheduler, metricsEngine *metrics.Engine) error {
	if e.config == nil {
		return fmt.Errorf("executor %s: Run called before Init", TypeConstantVUs)
	}
	defer close(e.done)

	runCtx, cancel := context.WithTimeout(ctx, e.config.Duration)
	defer cancel()

	group := newVUGroup(ctx, scheduler, e.config.Pacing)

	e.mu.Lock()
	e.startTime = time.Now()
	e.cancelFunc = cancel
	e.group = group
	stopped := e.stopped
	e.mu.Unlock()
	e.running.Store(true)

	// Stop may have been called before Run.
	if stopped {
		cancel()
	}

	if runCtx.Err() == nil {
		metricsEngine.SetPhase(metrics.PhaseSteady)
		group.spawn(e.config.VUs)
		scheduler.UpdateMetrics()
	}

	<-runCtx.Done()

	group.drain(e.config.GracefulStop)

	metricsEngine.SetActiveVUs(0)
	metricsEngine.SetPhase(metrics.PhaseDone)
	e.running.Store(false)

	return nil
}

func (e *ConstantVUs) elapsed() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.startTime.IsZero() {
		return 0
	}
	return time.Since(e.startTime)
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantVUs) GetProgress() float64 {
	if !e.running.Load() {
		if e.elapsed() == 0 {
			return 0.0
		}
		return 1.0
	}

	progress := float64(e.elapsed()) / float64(e.config.Duration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns the number of running VU goroutines.
func (e *ConstantVUs) GetActiveVUs() int {
	e.mu.RLock()
	group := e.group
	e.mu.RUnlock()

	if group == nil {
		return 0
	}
	return int(group.active.Load())
}

// GetStats returns executor statistics.
func (e *ConstantVUs) GetStats() *Stats {
	e.mu.RLock()
	group := e.group
	e.mu.RUnlock()

	stats := &Stats{TargetVUs: e.config.VUs}
	if group != nil {
		stats.ActiveVUs = int(group.active.Load())
		stats.Iterations = group.iterations.Load()
	}
	return stats
}

// Stop ends the run early and waits for the graceful drain. Called before
// Run, it makes Run return without starting VUs.
func (e *ConstantVUs) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	cancel := e.cancelFunc
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Executor = (*ConstantVUs)(nil)
