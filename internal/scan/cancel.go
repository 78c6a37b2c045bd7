package scan

import (
	"context"
	"sync"
	"time"

	"github.com/RishiKendai/plagcode/internal/models"
)

// cancelRegistry holds the cancel functions of scans running in this process
type cancelRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{cancels: make(map[string]context.CancelCauseFunc)}
}

// register tracks cancel under scanID and returns the function that forgets it
func (r *cancelRegistry) register(scanID string, cancel context.CancelCauseFunc) func() {
	r.mu.Lock()
	r.cancels[scanID] = cancel
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.cancels, scanID)
		r.mu.Unlock()
	}
}

// cancel stops the local runner of scanID, if any
func (r *cancelRegistry) cancel(scanID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[scanID]
	r.mu.Unlock()
	if ok {
		cancel(errScanCancelled)
	}
	return ok
}

// watchCancellation polls the store so a cancel issued by another replica reaches
// this runner. It returns when ctx is done.
func (o *Orchestrator) watchCancellation(ctx context.Context, scanID string, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(o.cfg.CancelPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scan, err := o.store.Scans.Get(ctx, scanID)
			if err != nil {
				continue
			}
			if scan.Status == models.StatusCancelled {
				o.logger.Info().Str("scan_id", scanID).Msg("Cancellation observed in store")
				cancel(errScanCancelled)
				return
			}
		}
	}
}
