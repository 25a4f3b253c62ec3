// Package tracker counts failed identification attempts per user and derives
// a lockout state from a hot-reloadable threshold.
//
// The threshold is read from Settings on every call, never cached: a
// configuration change applies to the next request without a restart.
package tracker

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// UnlimitedAttempts is the remaining-attempts sentinel reported when lockout
// is disabled (threshold <= 0).
const UnlimitedAttempts = 99

// Settings supplies the live lockout threshold. Implemented by
// *config.Provider; the tracker only ever reads the current snapshot.
type Settings interface {
	// MaxFailureAttempts returns the lockout threshold; <= 0 disables lockout.
	MaxFailureAttempts() int
}

// Tracker is the per-user failure counter behind the lockout policy.
// All implementations share the same contract; they differ only in storage.
type Tracker interface {
	// RecordFailure increments the failure count for the user, creating the
	// record at count 1 if absent. No-op when lockout is disabled. Storage
	// errors propagate: the caller must know a failure went unrecorded.
	RecordFailure(ctx context.Context, userID string) error
	// IsLocked reports whether the user is currently barred. Always false
	// when lockout is disabled. Callers treat errors as "not locked"
	// (fail open).
	IsLocked(ctx context.Context, userID string) (bool, error)
	// RemainingAttempts returns max(0, threshold-count), or
	// UnlimitedAttempts when lockout is disabled.
	RemainingAttempts(ctx context.Context, userID string) (int, error)
	// Reset deletes the failure record. Idempotent.
	Reset(ctx context.Context, userID string) error
	// MinutesUntilExpiry returns whole minutes until the record expires or
	// the lock releases, 0 when there is nothing to wait for.
	MinutesUntilExpiry(ctx context.Context, userID string) (int, error)
}

// Sweeper deletes stale records in one bounded batch. Implemented by every
// store; also by the attempt-log purger.
type Sweeper interface {
	Sweep(ctx context.Context) (removed int64, err error)
}

// RunSweeper runs s.Sweep on a fixed interval until ctx is cancelled.
// Sweep errors are logged and swallowed; the sweep retries on the next tick.
func RunSweeper(ctx context.Context, log *zap.Logger, interval time.Duration, s Sweeper) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				log.Warn("expiry sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("expiry sweep", zap.Int64("removed", n))
			}
		}
	}
}

// remaining floors threshold-count at zero.
func remaining(threshold, count int) int {
	if r := threshold - count; r > 0 {
		return r
	}
	return 0
}

// minutesUntil rounds the distance from now to t up to whole minutes.
func minutesUntil(now, t time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Minutes()))
}
