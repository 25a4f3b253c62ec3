package repository

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/face-gate/internal/model"
)

// MemoryAttempts is the volatile attempt log used by the memory and sqlite
// deployments and by tests.
type MemoryAttempts struct {
	mu       sync.Mutex
	attempts []model.Attempt
}

var _ AttemptRepository = (*MemoryAttempts)(nil)

// NewMemoryAttempts constructs an empty in-memory attempt log.
func NewMemoryAttempts() *MemoryAttempts {
	return &MemoryAttempts{}
}

// Insert appends one attempt.
func (m *MemoryAttempts) Insert(_ context.Context, a *model.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, *a)
	return nil
}

// ListRecent returns the newest attempts for a user, newest first.
func (m *MemoryAttempts) ListRecent(_ context.Context, userID string, limit int) ([]model.Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Attempt, 0, limit)
	for i := len(m.attempts) - 1; i >= 0 && len(out) < limit; i-- {
		if m.attempts[i].UserID == userID {
			out = append(out, m.attempts[i])
		}
	}
	return out, nil
}

// PurgeOlderThan deletes attempts recorded before cutoff.
func (m *MemoryAttempts) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.attempts[:0]
	var removed int64
	for _, a := range m.attempts {
		if a.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	m.attempts = kept
	return removed, nil
}
