package scan

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Runner executes a queued scan
type Runner interface {
	Run(ctx context.Context, scanID string) error
}

// InlineDispatcher runs scans in this process, at most maxConcurrent at a time.
// Scans waiting for a slot stay queued.
type InlineDispatcher struct {
	ctx    context.Context
	runner Runner
	sem    chan struct{} // Semaphore for bounded concurrency
	wg     sync.WaitGroup
}

// NewInlineDispatcher binds runs to ctx; cancelling it abandons scans still waiting
func NewInlineDispatcher(ctx context.Context, runner Runner, maxConcurrent int) *InlineDispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &InlineDispatcher{
		ctx:    ctx,
		runner: runner,
		sem:    make(chan struct{}, maxConcurrent),
	}
}

// Dispatch schedules the scan and returns immediately
func (d *InlineDispatcher) Dispatch(_ context.Context, scanID string) error {
	d.wg.Add(1)
	go d.run(scanID)
	return nil
}

func (d *InlineDispatcher) run(scanID string) {
	defer d.wg.Done()

	// Acquire semaphore (bounded concurrency)
	select {
	case d.sem <- struct{}{}:
	case <-d.ctx.Done():
		log.Warn().Str("scan_id", scanID).Msg("Dispatcher stopped before scan could start")
		return
	}
	defer func() { <-d.sem }() // Release semaphore

	if err := d.runner.Run(d.ctx, scanID); err != nil {
		log.Error().Err(err).Str("scan_id", scanID).Msg("Scan run failed")
	}
}

// Wait blocks until every dispatched scan has returned
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
