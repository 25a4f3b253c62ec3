package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/face-gate/internal/model"
	"github.com/and161185/face-gate/internal/repository"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func TestAttemptRepo_Insert(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAttemptRepo(db)
	ctx := context.Background()

	a := &model.Attempt{
		ID:         uuid.Must(uuid.NewV4()),
		UserID:     "alice",
		Outcome:    model.OutcomeNotRecognized,
		Confidence: 0.41,
		IPHash:     repository.HashIP("10.0.0.1"),
		CreatedAt:  time.Now(),
	}

	mock.ExpectExec(`INSERT INTO attempt_log \(id, user_id, outcome, confidence, ip_hash, created_at\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6\)`).
		WithArgs(a.ID, a.UserID, a.Outcome, a.Confidence, a.IPHash, a.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Insert(ctx, a))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptRepo_ListRecent(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAttemptRepo(db)
	ctx := context.Background()

	id1 := uuid.Must(uuid.NewV4())
	id2 := uuid.Must(uuid.NewV4())
	now := time.Now()

	mock.ExpectQuery(`SELECT id, user_id, outcome, confidence, ip_hash, created_at FROM attempt_log WHERE user_id = \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs("alice", 2).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "outcome", "confidence", "ip_hash", "created_at"}).
			AddRow(id1, "alice", model.OutcomeSuccess, 0.95, []byte("h"), now).
			AddRow(id2, "alice", model.OutcomeNotRecognized, 0.30, []byte("h"), now.Add(-time.Minute)))

	got, err := r.ListRecent(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, id1, got[0].ID)
	require.Equal(t, model.OutcomeNotRecognized, got[1].Outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptRepo_ListRecent_ClampsLimit(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAttemptRepo(db)

	// limit <= 0 falls back to the default page size.
	mock.ExpectQuery(`SELECT id, user_id, outcome, confidence, ip_hash, created_at FROM attempt_log`).
		WithArgs("alice", 50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "outcome", "confidence", "ip_hash", "created_at"}))

	got, err := r.ListRecent(context.Background(), "alice", 0)
	require.NoError(t, err)
	require.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptRepo_PurgeOlderThan(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAttemptRepo(db)
	cutoff := time.Now().Add(-24 * time.Hour)

	mock.ExpectExec(`DELETE FROM attempt_log WHERE created_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := r.PurgeOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 7, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
