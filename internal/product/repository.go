package product

import (
	"context"
	"database/sql"
	"fmt"

	"sastabazar-be/internal/logger"

	"go.uber.org/zap"
)

type Repository interface {
	// DecrementStockTx reports false when stock was short and nothing changed.
	DecrementStockTx(ctx context.Context, tx *sql.Tx, productID string, quantity int) (bool, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) DecrementStockTx(ctx context.Context, tx *sql.Tx, productID string, quantity int) (bool, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "DecrementStockTx"),
		zap.String("product_id", productID),
		zap.Int("quantity", quantity),
	)

	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $1, updated_at = NOW()
		WHERE id = $2 AND stock >= $1
	`, quantity, productID)
	if err != nil {
		log.Error("failed to decrement stock", zap.Error(err))
		return false, fmt.Errorf("decrement stock for %s: %w", productID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
