package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/and161185/face-gate/internal/errs"
)

// SQLite persists failure records in an embedded database, durable across
// restarts. Crossing the threshold stamps an explicit locked_until; rows are
// retained past lock expiry for post-mortem inspection and removed by the
// sweep once older than the retention window.
//
// Timestamps are stored as unix seconds.
type SQLite struct {
	db        *sql.DB
	settings  Settings
	lockTTL   time.Duration
	retention time.Duration
	now       func() time.Time
}

var _ Tracker = (*SQLite)(nil)

// OpenSQLite opens the database file with settings suitable for this store.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc/sqlite allows one writer; serialize through a single conn.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

// NewSQLite constructs the SQLite-backed tracker. lockTTL bounds a lock,
// retention bounds row lifetime (retention > lockTTL).
func NewSQLite(db *sql.DB, settings Settings, lockTTL, retention time.Duration) *SQLite {
	return &SQLite{db: db, settings: settings, lockTTL: lockTTL, retention: retention, now: time.Now}
}

// RecordFailure upserts in a single statement so the increment is atomic,
// then stamps locked_until when the threshold is crossed.
func (s *SQLite) RecordFailure(ctx context.Context, userID string) error {
	threshold := s.settings.MaxFailureAttempts()
	if threshold <= 0 {
		return nil
	}
	now := s.now()

	const q = `
INSERT INTO user_failures (user_id, failure_count, last_failure, created_at)
VALUES (?, 1, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
  failure_count = failure_count + 1,
  last_failure  = excluded.last_failure
RETURNING failure_count`
	var count int
	if err := s.db.QueryRowContext(ctx, q, userID, now.Unix(), now.Unix()).Scan(&count); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}

	if count >= threshold {
		const upd = `UPDATE user_failures SET locked_until = ? WHERE user_id = ?`
		if _, err := s.db.ExecContext(ctx, upd, now.Add(s.lockTTL).Unix(), userID); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
		}
	}
	return nil
}

// IsLocked requires both the live threshold to be met and the stamped
// locked_until to still be in the future.
func (s *SQLite) IsLocked(ctx context.Context, userID string) (bool, error) {
	threshold := s.settings.MaxFailureAttempts()
	if threshold <= 0 {
		return false, nil
	}

	const q = `SELECT failure_count, locked_until FROM user_failures WHERE user_id = ?`
	var count int
	var lockedUntil sql.NullInt64
	err := s.db.QueryRowContext(ctx, q, userID).Scan(&count, &lockedUntil)
	switch {
	case err == nil:
		if count < threshold || !lockedUntil.Valid {
			return false, nil
		}
		return time.Unix(lockedUntil.Int64, 0).After(s.now()), nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
}

// RemainingAttempts reports attempts left before lockout.
func (s *SQLite) RemainingAttempts(ctx context.Context, userID string) (int, error) {
	threshold := s.settings.MaxFailureAttempts()
	if threshold <= 0 {
		return UnlimitedAttempts, nil
	}

	const q = `SELECT failure_count FROM user_failures WHERE user_id = ?`
	var count int
	err := s.db.QueryRowContext(ctx, q, userID).Scan(&count)
	switch {
	case err == nil:
		return remaining(threshold, count), nil
	case errors.Is(err, sql.ErrNoRows):
		return threshold, nil
	default:
		return 0, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
}

// Reset deletes the row; absent rows are a no-op.
func (s *SQLite) Reset(ctx context.Context, userID string) error {
	const q = `DELETE FROM user_failures WHERE user_id = ?`
	if _, err := s.db.ExecContext(ctx, q, userID); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	return nil
}

// MinutesUntilExpiry reports minutes until the explicit lock releases.
func (s *SQLite) MinutesUntilExpiry(ctx context.Context, userID string) (int, error) {
	const q = `SELECT locked_until FROM user_failures WHERE user_id = ?`
	var lockedUntil sql.NullInt64
	err := s.db.QueryRowContext(ctx, q, userID).Scan(&lockedUntil)
	switch {
	case err == nil:
		if !lockedUntil.Valid {
			return 0, nil
		}
		return minutesUntil(s.now(), time.Unix(lockedUntil.Int64, 0)), nil
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
}

// Sweep deletes rows past the retention window whose lock has expired or was
// never set. One bounded statement, never transactional with live traffic.
func (s *SQLite) Sweep(ctx context.Context) (int64, error) {
	now := s.now()
	const q = `
DELETE FROM user_failures
WHERE last_failure < ?
  AND (locked_until IS NULL OR locked_until < ?)`
	res, err := s.db.ExecContext(ctx, q, now.Add(-s.retention).Unix(), now.Unix())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	return res.RowsAffected()
}
