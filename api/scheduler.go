/*
scheduler.go - Automated monthly allocation scheduler

PURPOSE:
  Periodically checks whether the current calendar month has been
  allocated and, if not, runs the allocation batch automatically.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Checks the run record for the current period before triggering
  - A period that was already claimed is skipped silently; the run
    record is the idempotency guard, not the scheduler

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewAllocationScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerAllocation endpoint (manual trigger)
  - allocation/engine.go: The batch itself
*/
package api

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/warp/incentive-engine/allocation"
	"github.com/warp/incentive-engine/points"
)

// AllocationScheduler triggers the monthly batch without operator action.
type AllocationScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewAllocationScheduler creates a new scheduler.
func NewAllocationScheduler(handler *Handler) *AllocationScheduler {
	return &AllocationScheduler{
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (as *AllocationScheduler) Start() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if !as.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	as.ticker = time.NewTicker(as.CheckInterval)
	as.wg.Add(1)

	go as.run()

	log.Printf("[Scheduler] Started with check interval: %v", as.CheckInterval)
}

// Stop stops the scheduler.
func (as *AllocationScheduler) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.ticker != nil {
		as.ticker.Stop()
		close(as.stop)
		as.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (as *AllocationScheduler) run() {
	defer as.wg.Done()

	// Run immediately on start
	as.checkAndProcess()

	for {
		select {
		case <-as.ticker.C:
			as.checkAndProcess()
		case <-as.stop:
			return
		}
	}
}

func (as *AllocationScheduler) checkAndProcess() {
	ctx := context.Background()
	period := allocation.PeriodOf(time.Now().UTC())

	done, err := as.Handler.Store.HasAllocationRun(ctx, period)
	if err != nil {
		log.Printf("[Scheduler] Error checking run record for %s: %v", period, err)
		return
	}
	if done {
		return
	}

	log.Printf("[Scheduler] Period %s not yet allocated, running batch", period)

	summary, err := as.Handler.Engine.RunAllocation(ctx, period)
	if err != nil {
		// Another instance claimed the period between the check and the
		// run. Not a failure.
		if errors.Is(err, points.ErrAlreadyAllocated) {
			return
		}
		log.Printf("[Scheduler] Error running allocation for %s: %v", period, err)
		return
	}

	log.Printf("[Scheduler] Completed %s: %d credited (%d points), %d skipped, %d failed",
		summary.Period, summary.Credited, summary.Points, summary.Skipped, summary.Failed)
}

// RunNow triggers an immediate check (for testing/admin).
func (as *AllocationScheduler) RunNow() {
	as.checkAndProcess()
}

// GetNextRunTime returns when the next scheduled check will occur.
func (as *AllocationScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(as.CheckInterval)
}
