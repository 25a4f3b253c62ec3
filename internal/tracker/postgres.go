package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/and161185/face-gate/internal/errs"
)

// Postgres persists failure records in PostgreSQL with the same semantics as
// the SQLite store: explicit locked_until stamped at the threshold, rows
// retained for the retention window after their lock expires.
type Postgres struct {
	db        pgxQuerier
	settings  Settings
	lockTTL   time.Duration
	retention time.Duration
	now       func() time.Time
}

var _ Tracker = (*Postgres)(nil)

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgres constructs the PostgreSQL-backed tracker.
func NewPostgres(pool *pgxpool.Pool, settings Settings, lockTTL, retention time.Duration) *Postgres {
	return NewPostgresWithQuerier(pool, settings, lockTTL, retention)
}

// NewPostgresWithQuerier constructs the tracker over any querier (tests).
func NewPostgresWithQuerier(q pgxQuerier, settings Settings, lockTTL, retention time.Duration) *Postgres {
	return &Postgres{db: q, settings: settings, lockTTL: lockTTL, retention: retention, now: time.Now}
}

// RecordFailure increments atomically via upsert, then stamps locked_until
// when the threshold is crossed.
func (p *Postgres) RecordFailure(ctx context.Context, userID string) error {
	threshold := p.settings.MaxFailureAttempts()
	if threshold <= 0 {
		return nil
	}
	now := p.now()

	const q = `
INSERT INTO user_failures (user_id, failure_count, last_failure)
VALUES ($1, 1, $2)
ON CONFLICT (user_id) DO UPDATE
SET failure_count = user_failures.failure_count + 1,
    last_failure  = EXCLUDED.last_failure
RETURNING failure_count`
	var count int
	if err := p.db.QueryRow(ctx, q, userID, now).Scan(&count); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}

	if count >= threshold {
		const upd = `UPDATE user_failures SET locked_until = $2 WHERE user_id = $1`
		if _, err := p.db.Exec(ctx, upd, userID, now.Add(p.lockTTL)); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
		}
	}
	return nil
}

// IsLocked requires the live threshold to be met and locked_until to still
// be in the future.
func (p *Postgres) IsLocked(ctx context.Context, userID string) (bool, error) {
	threshold := p.settings.MaxFailureAttempts()
	if threshold <= 0 {
		return false, nil
	}

	const q = `SELECT failure_count, locked_until FROM user_failures WHERE user_id = $1`
	var count int
	var lockedUntil *time.Time
	err := p.db.QueryRow(ctx, q, userID).Scan(&count, &lockedUntil)
	switch {
	case err == nil:
		if count < threshold || lockedUntil == nil {
			return false, nil
		}
		return lockedUntil.After(p.now()), nil
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
}

// RemainingAttempts reports attempts left before lockout.
func (p *Postgres) RemainingAttempts(ctx context.Context, userID string) (int, error) {
	threshold := p.settings.MaxFailureAttempts()
	if threshold <= 0 {
		return UnlimitedAttempts, nil
	}

	const q = `SELECT failure_count FROM user_failures WHERE user_id = $1`
	var count int
	err := p.db.QueryRow(ctx, q, userID).Scan(&count)
	switch {
	case err == nil:
		return remaining(threshold, count), nil
	case errors.Is(err, pgx.ErrNoRows):
		return threshold, nil
	default:
		return 0, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
}

// Reset deletes the row; absent rows are a no-op.
func (p *Postgres) Reset(ctx context.Context, userID string) error {
	const q = `DELETE FROM user_failures WHERE user_id = $1`
	if _, err := p.db.Exec(ctx, q, userID); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	return nil
}

// MinutesUntilExpiry reports minutes until the explicit lock releases.
func (p *Postgres) MinutesUntilExpiry(ctx context.Context, userID string) (int, error) {
	const q = `SELECT locked_until FROM user_failures WHERE user_id = $1`
	var lockedUntil *time.Time
	err := p.db.QueryRow(ctx, q, userID).Scan(&lockedUntil)
	switch {
	case err == nil:
		if lockedUntil == nil {
			return 0, nil
		}
		return minutesUntil(p.now(), *lockedUntil), nil
	case errors.Is(err, pgx.ErrNoRows):
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
}

// Sweep deletes rows past the retention window whose lock has expired or was
// never set.
func (p *Postgres) Sweep(ctx context.Context) (int64, error) {
	now := p.now()
	const q = `
DELETE FROM user_failures
WHERE last_failure < $1
  AND (locked_until IS NULL OR locked_until < $2)`
	tag, err := p.db.Exec(ctx, q, now.Add(-p.retention), now)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	return tag.RowsAffected(), nil
}
