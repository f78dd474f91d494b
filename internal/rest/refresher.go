package rest

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// RefreshFunc performs one refresh pull and applies it.
type RefreshFunc func(ctx context.Context) error

// Refresher re-pulls REST state on a ticker. Runs for the same key are
// single-flighted: a refresh already in flight blocks a new one from
// starting, bounding outstanding requests to the backend to one per key.
type Refresher struct {
	interval time.Duration
	group    singleflight.Group
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewRefresher builds a refresher with the given period.
func NewRefresher(interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Refresher{interval: interval}
}

// Run triggers fn under key immediately via RunOnce semantics; used by both
// the ticker loop and ad-hoc callers so all share one flight.
func (r *Refresher) Run(ctx context.Context, key string, fn RefreshFunc) error {
	_, err, _ := r.group.Do(key, func() (any, error) {
		return nil, fn(ctx)
	})
	if ctx.Err() != nil {
		// Abandon-on-cancel: a late result must not look like success.
		return ctx.Err()
	}
	return err
}

// Start launches the periodic loop. Each tick refreshes under key; failures
// are logged and retried on the next tick, never propagated.
func (r *Refresher) Start(ctx context.Context, key string, fn RefreshFunc) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Run(ctx, key, fn); err != nil && ctx.Err() == nil {
					slog.Warn("Periodic refresh failed", "key", key, "err", err)
				}
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (r *Refresher) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		<-r.done
	}
}
