// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"crypto/sha256"
	"time"

	"github.com/and161185/face-gate/internal/model"
)

// AttemptRepository is the append-only identify-attempt log kept for
// post-mortem inspection. All writes are best-effort from the service's
// point of view: a failed insert never fails the request.
type AttemptRepository interface {
	// Insert appends one attempt.
	Insert(ctx context.Context, a *model.Attempt) error
	// ListRecent returns the newest attempts for a user, newest first.
	ListRecent(ctx context.Context, userID string, limit int) ([]model.Attempt, error)
	// PurgeOlderThan deletes attempts recorded before cutoff.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionPurger adapts an AttemptRepository to the periodic sweep loop,
// deleting attempts older than the retention window on every run.
type RetentionPurger struct {
	Repo      AttemptRepository
	Retention time.Duration
}

// Sweep removes attempts past the retention window.
func (p RetentionPurger) Sweep(ctx context.Context) (int64, error) {
	return p.Repo.PurgeOlderThan(ctx, time.Now().Add(-p.Retention))
}

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}
