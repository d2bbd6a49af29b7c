package guard

import (
	"context"
	"time"

	"guardian.org/internal/auth"
	"guardian.org/internal/obs"
)

// Janitor periodically deletes revocation records past their expiry.
type Janitor struct {
	Revocations auth.RevocationStore
	Interval    time.Duration
	Now         func() time.Time
}

// PurgeOnce removes expired revocation records and returns how many.
func (j Janitor) PurgeOnce(ctx context.Context) (int64, error) {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	n, err := j.Revocations.PurgeExpired(ctx, now())
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Run purges every Interval until ctx is done.
func (j Janitor) Run(ctx context.Context) {
	interval := j.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := j.PurgeOnce(ctx)
			if err != nil {
				obs.Error("guard: purge revocations failed", map[string]any{"error": err.Error()})
				continue
			}
			if n > 0 {
				obs.Info("guard: purged expired revocations", map[string]any{"removed": n})
			}
		}
	}
}
