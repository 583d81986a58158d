package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/payramp/internal/loadtest"
)

// vuGroup runs the VUs of one executor.
//
// VUs iterate on a context that outlives the executor's duration, so that
// drain can let them finish the request in flight before cancelling it.
type vuGroup struct {
	scheduler *loadtest.VUScheduler
	pacing    *PacingConfig

	iterCtx    context.Context
	iterCancel context.CancelFunc

	wg         sync.WaitGroup
	active     atomic.Int32
	iterations atomic.Int64

	// live VUs in start order; stopped VUs are removed
	vus   []*loadtest.VirtualUser
	vusMu sync.Mutex
}

func newVUGroup(parent context.Context, scheduler *loadtest.VUScheduler, pacing *PacingConfig) *vuGroup {
	ctx, cancel := context.WithCancel(parent)
	return &vuGroup{
		scheduler:  scheduler,
		pacing:     pacing,
		iterCtx:    ctx,
		iterCancel: cancel,
	}
}

// spawn starts n new VUs.
func (g *vuGroup) spawn(n int) {
	g.vusMu.Lock()
	defer g.vusMu.Unlock()

	for i := 0; i < n; i++ {
		vu := g.scheduler.SpawnVU()
		g.vus = append(g.vus, vu)

		g.wg.Add(1)
		g.active.Add(1)
		go g.run(vu)
	}
}

func (g *vuGroup) run(vu *loadtest.VirtualUser) {
	defer g.wg.Done()
	defer g.active.Add(-1)
	defer g.scheduler.RemoveVU(vu.ID)

	for !vu.Stopping() {
		if err := vu.RunIteration(g.iterCtx); err != nil {
			return
		}
		g.iterations.Add(1)

		if wait := g.pacing.Wait(); wait > 0 && !vu.Sleep(g.iterCtx, wait) {
			return
		}
	}
}

// size returns the number of VUs not asked to stop.
func (g *vuGroup) size() int {
	g.vusMu.Lock()
	defer g.vusMu.Unlock()
	return len(g.vus)
}

// stopNewest asks the n most recently started VUs to stop.
func (g *vuGroup) stopNewest(n int) {
	g.vusMu.Lock()
	defer g.vusMu.Unlock()

	if n > len(g.vus) {
		n = len(g.vus)
	}
	keep := len(g.vus) - n
	for _, vu := range g.vus[keep:] {
		vu.RequestStop()
	}
	g.vus = g.vus[:keep]
}

// drain asks every VU to stop and waits up to grace for them. Requests
// still in flight after grace are cancelled.
func (g *vuGroup) drain(grace time.Duration) {
	g.vusMu.Lock()
	g.vus = nil
	g.vusMu.Unlock()

	g.scheduler.StopAllVUs()
	g.scheduler.WaitForAllVUs(grace)

	g.iterCancel()
	g.wg.Wait()
}
