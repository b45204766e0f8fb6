package store

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// RunSweeper periodically reclaims expired entries until ctx is cancelled.
// Lazy expiry keeps reads correct in between sweeps, so the interval only
// controls how long dead entries occupy memory or disk.
func RunSweeper(
	ctx context.Context,
	s TTLStore,
	interval time.Duration,
	log *logrus.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := s.Sweep(now)
			if err != nil {
				log.WithError(err).Warn("store sweep failed")
				continue
			}
			if removed > 0 {
				log.WithField("removed", removed).Debug("store sweep reclaimed entries")
			}
		}
	}
}
