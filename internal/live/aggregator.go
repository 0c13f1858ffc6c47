package live

import (
	"context"
	"log"
	"time"
)

const (
	// tickInterval is the cadence of periodic dashboard status updates.
	tickInterval = 30 * time.Second
	// tickBackoff is how long the aggregator waits after a failed tick
	// before resuming the normal cadence.
	tickBackoff = 10 * time.Second
)

// startAggregatorLocked launches the periodic status loop. Caller holds mu;
// invoked exactly on the 0 -> 1 observer transition.
func (r *Registry) startAggregatorLocked() {
	if r.aggCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.aggCancel = cancel
	r.aggDone = make(chan struct{})
	go r.runAggregator(ctx, r.aggDone)
}

// stopAggregatorLocked cancels the loop. Caller holds mu; invoked exactly on
// the 1 -> 0 observer transition. Cancellation is honored at the next sleep
// boundary, so an in-flight tick always completes.
func (r *Registry) stopAggregatorLocked() {
	if r.aggCancel == nil {
		return
	}
	r.aggCancel()
	r.aggCancel = nil
}

func (r *Registry) runAggregator(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.tickInterval):
		}

		if failed := r.broadcastStatus(); failed > 0 {
			log.Printf("live: periodic update failed for %d observer(s)", failed)
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.tickBackoff):
			}
		}
	}
}

// broadcastStatus composes one periodic_update tick and sends it to every
// observer, bypassing channel subscriptions.
func (r *Registry) broadcastStatus() int {
	payload := marshalEvent("periodic_update", map[string]any{
		"data": map[string]any{
			"active_users":          r.TrackedCount(),
			"dashboard_connections": r.ObserverCount(),
			"last_update":           time.Now().UTC().Format(time.RFC3339),
		},
	})
	return r.BroadcastAll(payload)
}

// aggregatorRunning reports whether the periodic loop is active. Test hook.
func (r *Registry) aggregatorRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aggCancel != nil
}
