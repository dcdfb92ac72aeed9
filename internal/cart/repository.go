package cart

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sastabazar-be/internal/logger"

	"go.uber.org/zap"
)

type Repository interface {
	GetCartItems(ctx context.Context, userID uint) ([]CartItem, error)
	ClearCartTx(ctx context.Context, tx *sql.Tx, userID uint) (int64, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// GetCartItems returns the buyer's cart joined with the current product row.
func (r *repository) GetCartItems(ctx context.Context, userID uint) ([]CartItem, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "GetCartItems"),
		zap.Uint("user_id", userID),
	)

	start := time.Now()

	rows, err := r.db.QueryContext(ctx, `
		SELECT
			c.id, c.user_id, c.quantity, c.variant_name, c.variant_value, c.created_at,
			p.id, p.name, p.price, p.stock, p.status, p.image_url
		FROM carts c
		JOIN products p ON p.id = c.product_id
		WHERE c.user_id = $1
		ORDER BY c.created_at ASC, c.id ASC
	`, userID)
	if err != nil {
		log.Error("query failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrFailedGetCartRows, err)
	}
	defer rows.Close()

	var items []CartItem
	for rows.Next() {
		var (
			item         CartItem
			variantName  sql.NullString
			variantValue sql.NullString
		)
		if err := rows.Scan(
			&item.ID, &item.UserID, &item.Quantity, &variantName, &variantValue, &item.CreatedAt,
			&item.Product.ID, &item.Product.Name, &item.Product.Price,
			&item.Product.Stock, &item.Product.Status, &item.Product.ImageURL,
		); err != nil {
			log.Error("scan failed", zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrFailedGetCartRows, err)
		}
		if variantName.Valid {
			item.SelectedVariant = &SelectedVariant{Name: variantName.String, Value: variantValue.String}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedGetCartRows, err)
	}

	log.Debug("cart loaded",
		zap.Int("items", len(items)),
		zap.Duration("duration", time.Since(start)),
	)
	return items, nil
}

// ClearCartTx empties the cart inside the payment transaction. An already empty cart is not an error.
func (r *repository) ClearCartTx(ctx context.Context, tx *sql.Tx, userID uint) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM carts WHERE user_id = $1`, userID)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to clear cart",
			zap.String("method", "ClearCartTx"),
			zap.Uint("user_id", userID),
			zap.Error(err),
		)
		return 0, fmt.Errorf("%w: %v", ErrFailedClearCart, err)
	}
	return res.RowsAffected()
}
