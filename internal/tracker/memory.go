package tracker

import (
	"context"
	"sync"
	"time"
)

type record struct {
	count       int
	lastFailure time.Time
}

// Memory is the volatile in-process store. Lock state is derived live from
// count and threshold on every check; nothing survives a restart.
type Memory struct {
	settings Settings
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	records map[string]*record
}

var _ Tracker = (*Memory)(nil)

// NewMemory constructs the in-memory tracker. ttl bounds record age; the
// caller runs the sweep via RunSweeper.
func NewMemory(settings Settings, ttl time.Duration) *Memory {
	return &Memory{
		settings: settings,
		ttl:      ttl,
		now:      time.Now,
		records:  make(map[string]*record),
	}
}

// RecordFailure increments under the store mutex, so the read-modify-write
// is linearizable per user.
func (m *Memory) RecordFailure(_ context.Context, userID string) error {
	if m.settings.MaxFailureAttempts() <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[userID]
	if !ok {
		rec = &record{}
		m.records[userID] = rec
	}
	rec.count++
	rec.lastFailure = m.now()
	return nil
}

// IsLocked recomputes lock state against the current threshold.
func (m *Memory) IsLocked(_ context.Context, userID string) (bool, error) {
	threshold := m.settings.MaxFailureAttempts()
	if threshold <= 0 {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[userID]
	return ok && rec.count >= threshold, nil
}

// RemainingAttempts reports attempts left before lockout.
func (m *Memory) RemainingAttempts(_ context.Context, userID string) (int, error) {
	threshold := m.settings.MaxFailureAttempts()
	if threshold <= 0 {
		return UnlimitedAttempts, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[userID]
	if !ok {
		return threshold, nil
	}
	return remaining(threshold, rec.count), nil
}

// Reset deletes the record; absent records are a no-op.
func (m *Memory) Reset(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, userID)
	return nil
}

// MinutesUntilExpiry reports minutes until the record ages out of the TTL.
func (m *Memory) MinutesUntilExpiry(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[userID]
	if !ok {
		return 0, nil
	}
	return minutesUntil(m.now(), rec.lastFailure.Add(m.ttl)), nil
}

// Sweep deletes records older than the TTL in one pass under the mutex.
func (m *Memory) Sweep(_ context.Context) (int64, error) {
	cutoff := m.now().Add(-m.ttl)
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, rec := range m.records {
		if rec.lastFailure.Before(cutoff) {
			delete(m.records, id)
			removed++
		}
	}
	return removed, nil
}
