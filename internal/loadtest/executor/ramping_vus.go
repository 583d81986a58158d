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

// rampTick is how often the VU target is recomputed.
const rampTick = 100 * time.Millisecond

// RampingVUs ramps the VU count according to stages.
//
// Within a stage the target moves linearly from the previous stage's
// target to the stage's own, so
//
//	stages:
//	  - duration: 30s
//	    target: 10
//	  - duration: 1m
//	    target: 10
//	  - duration: 30s
//	    target: 0
//
// climbs to 10 VUs over 30s, holds for a minute and drains over 30s.
// VUs removed on the way down finish their request in flight first.
type RampingVUs struct {
	config  *Config
	metrics *metrics.Engine

	targetVUs    atomic.Int32
	currentStage atomic.Int32
	running      atomic.Bool

	mu         sync.RWMutex
	startTime  time.Time
	cancelFunc context.CancelFunc
	stopped    bool
	group      *vuGroup
	done       chan struct{}
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{done: make(chan struct{})}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(_ context.Context, config *Config) error {
	if config.Type != TypeRampingVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingVUs, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run ramps VUs through all stages, then drains them.
func (e *RampingVUs) Run(ctx context.Context, scheduler *loadtest.VUScheduler, metricsEngine *metrics.Engine) error {
	if e.config == nil {
		return fmt.Errorf("executor %s: Run called before Init", TypeRampingVUs)
	}
	defer close(e.done)

	runCtx, cancel := context.WithTimeout(ctx, e.config.TotalDuration())
	defer cancel()

	group := newVUGroup(ctx, scheduler, e.config.Pacing)

	e.mu.Lock()
	e.metrics = metricsEngine
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
		e.vuController(runCtx, group)
	}

	group.drain(e.config.GracefulStop)

	metricsEngine.SetActiveVUs(0)
	metricsEngine.SetPhase(metrics.PhaseDone)
	e.running.Store(false)

	return nil
}

func (e *RampingVUs) vuController(ctx context.Context, group *vuGroup) {
	ticker := time.NewTicker(rampTick)
	defer ticker.Stop()

	for {
		e.adjust(group, e.calculateTargetVUs(e.elapsed()))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *RampingVUs) adjust(group *vuGroup, target int) {
	e.targetVUs.Store(int32(target))

	current := group.size()
	switch {
	case target > current:
		group.spawn(target - current)
	case target < current:
		group.stopNewest(current - target)
	}

	group.scheduler.UpdateMetrics()
	e.updatePhase()
}

// calculateTargetVUs interpolates the VU target at elapsed.
func (e *RampingVUs) calculateTargetVUs(elapsed time.Duration) int {
	var stageStart time.Duration
	prevTarget := 0

	for i, stage := range e.config.Stages {
		stageEnd := stageStart + stage.Duration

		if elapsed < stageEnd {
			e.currentStage.Store(int32(i))

			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			if progress < 0 {
				progress = 0
			}

			target := float64(prevTarget) + float64(stage.Target-prevTarget)*progress
			return int(target + 0.5)
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	e.currentStage.Store(int32(len(e.config.Stages) - 1))
	return prevTarget
}

// updatePhase derives the metrics phase from the current stage.
func (e *RampingVUs) updatePhase() {
	idx := int(e.currentStage.Load())
	if idx >= len(e.config.Stages) {
		return
	}

	prevTarget := 0
	if idx > 0 {
		prevTarget = e.config.Stages[idx-1].Target
	}

	switch target := e.config.Stages[idx].Target; {
	case target > prevTarget:
		e.metrics.SetPhase(metrics.PhaseRampUp)
	case target < prevTarget:
		e.metrics.SetPhase(metrics.PhaseRampDown)
	default:
		e.metrics.SetPhase(metrics.PhaseSteady)
	}
}

func (e *RampingVUs) elapsed() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.startTime.IsZero() {
		return 0
	}
	return time.Since(e.startTime)
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	if !e.running.Load() {
		if e.elapsed() == 0 {
			return 0.0
		}
		return 1.0
	}

	progress := float64(e.elapsed()) / float64(e.config.TotalDuration())
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns the number of running VU goroutines.
func (e *RampingVUs) GetActiveVUs() int {
	e.mu.RLock()
	group := e.group
	e.mu.RUnlock()

	if group == nil {
		return 0
	}
	return int(group.active.Load())
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	e.mu.RLock()
	group := e.group
	e.mu.RUnlock()

	stats := &Stats{
		TargetVUs:    int(e.targetVUs.Load()),
		CurrentStage: int(e.currentStage.Load()),
		TotalStages:  len(e.config.Stages),
	}
	if group != nil {
		stats.ActiveVUs = int(group.active.Load())
		stats.Iterations = group.iterations.Load()
	}
	return stats
}

// Stop ends the ramp early and waits for the graceful drain. Called
// before Run, it makes Run return without starting VUs.
func (e *RampingVUs) Stop(ctx context.Context) error {
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

var _ Executor = (*RampingVUs)(nil)
