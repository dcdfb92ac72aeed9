package product

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_DecrementStockTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	ctx := context.Background()

	t.Run("Decrements", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE products SET stock = stock - \$1, updated_at = NOW\(\) WHERE id = \$2 AND stock >= \$1`).
			WithArgs(2, "p-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		tx, err := db.Begin()
		require.NoError(t, err)
		ok, err := repo.DecrementStockTx(ctx, tx, "p-1", 2)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, tx.Commit())
	})

	t.Run("ShortStockLeavesRowAlone", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE products`).
			WithArgs(5, "p-1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		tx, err := db.Begin()
		require.NoError(t, err)
		ok, err := repo.DecrementStockTx(ctx, tx, "p-1", 5)
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, tx.Rollback())
	})

	t.Run("DBError", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE products`).WillReturnError(errors.New("deadlock"))
		mock.ExpectRollback()

		tx, err := db.Begin()
		require.NoError(t, err)
		_, err = repo.DecrementStockTx(ctx, tx, "p-1", 1)
		assert.ErrorContains(t, err, "deadlock")
		require.NoError(t, tx.Rollback())
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
