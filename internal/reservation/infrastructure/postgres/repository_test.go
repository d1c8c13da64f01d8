package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/multistore-checkout/internal/reservation/domain"
	"github.com/dmehra2102/multistore-checkout/pkg/logging"
)

var cols = []string{"id", "store_id", "product_id", "quantity", "user_id", "attempt_id", "order_id", "status", "expires_at", "settled_at", "created_at", "updated_at"}

func newRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRepository(logging.Discard(), mock), mock
}

func TestRepository_TransitionFromReserved(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`UPDATE reservations SET status=\$2, updated_at=\$3\s+WHERE id=\$1 AND status='reserved'`).
		WithArgs("r1", domain.StatusReleased, now).
		WillReturnRows(pgxmock.NewRows(cols).AddRow("r1", "s1", "p1", 2, "u1", "a1", "", domain.StatusReleased, now, (*time.Time)(nil), now, now))

	r, err := repo.Transition(context.Background(), "r1", domain.StatusReleased, now)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReleased, r.Status)
	assert.Equal(t, 2, r.Quantity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_TransitionAlreadyTerminal(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`UPDATE reservations SET status`).
		WithArgs("r1", domain.StatusReleased, now).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT .* FROM reservations WHERE id=\$1`).
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows(cols).AddRow("r1", "s1", "p1", 2, "u1", "a1", "", domain.StatusExpired, now, (*time.Time)(nil), now, now))

	_, err := repo.Transition(context.Background(), "r1", domain.StatusReleased, now)
	require.ErrorIs(t, err, domain.ErrNotActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_MarkUsedPartialFails(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now().UTC()
	ids := []string{"r1", "r2"}

	mock.ExpectExec(`UPDATE reservations SET status='used'`).
		WithArgs(ids, "order-1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.MarkUsed(context.Background(), ids, "order-1", now)
	require.ErrorIs(t, err, domain.ErrNotActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ClaimExpiredSkipsLocked(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(now, 50).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("r1", "s1", "p1", 2, "u1", "a1", "", domain.StatusExpired, now.Add(-time.Minute), (*time.Time)(nil), now, now).
			AddRow("r2", "s1", "p2", 1, "u2", "a2", "", domain.StatusExpired, now.Add(-time.Second), (*time.Time)(nil), now, now))

	rs, err := repo.ClaimExpired(context.Background(), now, 50)
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, "p2", rs[1].ProductID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_MarkSettledOnce(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now().UTC()

	mock.ExpectExec(`settled_at IS NULL`).WithArgs("r1", now).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`settled_at IS NULL`).WithArgs("r1", now).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := repo.MarkSettled(context.Background(), "r1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkSettled(context.Background(), "r1", now)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
