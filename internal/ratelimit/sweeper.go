package ratelimit

import (
	"context"
	"time"
)

// RunSweeper evicts stale counters from the given limiters on an interval
// until ctx is cancelled.
func RunSweeper(
	ctx context.Context,
	interval time.Duration,
	limiters ...*Limiter,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, l := range limiters {
				l.Sweep()
			}
		}
	}
}
