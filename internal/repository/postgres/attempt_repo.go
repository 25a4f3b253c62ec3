package postgres

import (
	"context"
	"time"

	"github.com/and161185/face-gate/internal/model"
)

// listLimit caps ListRecent page size.
const listLimit = 500

// AttemptRepo implements AttemptRepository using PostgreSQL.
type AttemptRepo struct{ db *DB }

// NewAttemptRepo constructs an attempt-log repository.
func NewAttemptRepo(db *DB) *AttemptRepo { return &AttemptRepo{db: db} }

// Insert appends one attempt row.
func (r *AttemptRepo) Insert(ctx context.Context, a *model.Attempt) error {
	const q = `
INSERT INTO attempt_log (id, user_id, outcome, confidence, ip_hash, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Pool.Exec(ctx, q, a.ID, a.UserID, a.Outcome, a.Confidence, a.IPHash, a.CreatedAt)
	return err
}

// ListRecent selects the newest attempts for a user, newest first.
func (r *AttemptRepo) ListRecent(ctx context.Context, userID string, limit int) ([]model.Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > listLimit {
		limit = listLimit
	}

	const q = `
SELECT id, user_id, outcome, confidence, ip_hash, created_at
FROM attempt_log WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Attempt, 0, limit)
	for rows.Next() {
		var a model.Attempt
		if err := rows.Scan(&a.ID, &a.UserID, &a.Outcome, &a.Confidence, &a.IPHash, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PurgeOlderThan deletes attempts recorded before cutoff.
func (r *AttemptRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM attempt_log WHERE created_at < $1`
	tag, err := r.db.Pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
