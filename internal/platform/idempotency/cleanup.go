package idempotency

import (
	"context"
	"time"
)

// RunCleanup periodically purges expired records until ctx is cancelled.
func RunCleanup(ctx context.Context, store Store, interval time.Duration, batch int, logger Logger) {
	if store == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for {
				removed, err := store.CleanupExpired(ctx, now, batch)
				if err != nil {
					if logger != nil && ctx.Err() == nil {
						logger.Warnf("idempotency: cleanup failed: %v", err)
					}
					break
				}
				if batch <= 0 || removed < batch {
					break
				}
			}
		}
	}
}
