package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/multistore-checkout/internal/inventory/domain"
	"github.com/dmehra2102/multistore-checkout/pkg/logging"
)

var (
	key     = domain.Key{StoreID: "store-1", ProductID: "sku-1"}
	columns = []string{"store_id", "product_id", "quantity_available", "reserved_quantity", "is_available", "reorder_level", "updated_at"}
)

func newRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRepository(logging.Discard(), mock), mock
}

func TestRepository_ReserveSucceeds(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now()
	level := 2

	mock.ExpectQuery(`UPDATE inventory_records\s+SET reserved_quantity = reserved_quantity \+ \$3`).
		WithArgs("store-1", "sku-1", 3).
		WillReturnRows(pgxmock.NewRows(columns).AddRow("store-1", "sku-1", 5, 3, true, &level, now))

	rec, ok, err := repo.Reserve(context.Background(), key, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, rec.ReservedQuantity)
	assert.Equal(t, 2, rec.AvailableToSell())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ReserveInsufficientReturnsCurrent(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now()
	level := 2

	mock.ExpectQuery(`UPDATE inventory_records`).
		WithArgs("store-1", "sku-1", 3).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT .* FROM inventory_records WHERE store_id=\$1 AND product_id=\$2`).
		WithArgs("store-1", "sku-1").
		WillReturnRows(pgxmock.NewRows(columns).AddRow("store-1", "sku-1", 5, 3, true, &level, now))

	rec, ok, err := repo.Reserve(context.Background(), key, 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, rec.AvailableToSell())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ReserveUnknownProduct(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(`UPDATE inventory_records`).WithArgs("store-1", "sku-1", 1).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT .* FROM inventory_records`).WithArgs("store-1", "sku-1").WillReturnError(pgx.ErrNoRows)

	_, _, err := repo.Reserve(context.Background(), key, 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ReleaseReportsShortfall(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now()
	level := 2

	mock.ExpectQuery(`WITH prev AS`).
		WithArgs("store-1", "sku-1", 4).
		WillReturnRows(pgxmock.NewRows(append(columns, "prev")).AddRow("store-1", "sku-1", 5, 0, true, &level, now, 1))

	rec, short, err := repo.Release(context.Background(), key, 4)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.ReservedQuantity)
	assert.Equal(t, 3, short)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_UpsertBelowReserved(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(`INSERT INTO inventory_records`).
		WithArgs("store-1", "sku-1", 1, true, (*int)(nil)).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Upsert(context.Background(), domain.Record{StoreID: "store-1", ProductID: "sku-1", QuantityAvailable: 1, IsAvailable: true})
	require.ErrorIs(t, err, domain.ErrBelowReserved)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_DeductExceedsHold(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now()
	level := 2

	mock.ExpectQuery(`UPDATE inventory_records\s+SET quantity_available = quantity_available - \$3`).
		WithArgs("store-1", "sku-1", 2).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT .* FROM inventory_records`).
		WithArgs("store-1", "sku-1").
		WillReturnRows(pgxmock.NewRows(columns).AddRow("store-1", "sku-1", 5, 1, true, &level, now))

	_, err := repo.Deduct(context.Background(), key, 2)
	require.ErrorIs(t, err, domain.ErrDeductExceedsHold)
	require.NoError(t, mock.ExpectationsWereMet())
}
