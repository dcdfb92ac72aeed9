package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sastabazar-be/internal/logger"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

type Repository interface {
	// WithTx runs fn in one transaction and commits only when fn returns nil.
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error

	CreateOrder(ctx context.Context, o *Order) error
	GetOrderByID(ctx context.Context, orderID string) (*Order, error)
	SetGatewayOrderRef(ctx context.Context, orderID, ref string) error

	// The Mark* methods are compare-and-set updates. applied is false when the
	// order was not in a state the transition may start from.
	MarkPaidTx(ctx context.Context, tx *sql.Tx, orderID, gatewayRef string, details PaymentDetails, at time.Time) (ownerID uint, applied bool, err error)
	MarkAuthorized(ctx context.Context, orderID, gatewayRef string, details PaymentDetails, at time.Time) (bool, error)
	MarkFailedTx(ctx context.Context, tx *sql.Tx, orderID, gatewayRef string, details PaymentDetails, at time.Time) (bool, error)
	MarkRefundedTx(ctx context.Context, tx *sql.Tx, orderID string, details RefundDetails, at time.Time) (bool, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "WithTx"),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("failed to begin transaction", zap.Error(err))
		return fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("failed to rollback transaction", zap.Error(rbErr))
			} else {
				log.Debug("transaction rolled back")
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		log.Error("failed to commit transaction", zap.Error(err))
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

func (r *repository) CreateOrder(ctx context.Context, o *Order) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "CreateOrder"),
		zap.String("order_id", o.ID),
		zap.Int("item_count", len(o.Items)),
	)

	return r.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (
				id, order_number, user_id, subtotal, tax, shipping_fee, total,
				currency, status, payment_status, payment_method, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
		`,
			o.ID,
			o.OrderNumber,
			o.UserID,
			o.Subtotal,
			o.Tax,
			o.ShippingFee,
			o.Total,
			o.Currency,
			o.Status,
			o.PaymentStatus,
			o.PaymentMethod,
			o.CreatedAt,
		)
		if err != nil {
			log.Error("failed to insert order", zap.Error(err))
			return fmt.Errorf("insert order: %w", err)
		}

		for i, item := range o.Items {
			var variantName, variantValue *string
			if item.SelectedVariant != nil {
				variantName = &item.SelectedVariant.Name
				variantValue = &item.SelectedVariant.Value
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO order_items (
					order_id, product_id, product_name, quantity, unit_price,
					variant_name, variant_value, image_url
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			`,
				o.ID,
				item.ProductID,
				item.Name,
				item.Quantity,
				item.UnitPrice,
				variantName,
				variantValue,
				item.ImageURL,
			)
			if err != nil {
				log.Error("failed to insert order item",
					zap.Int("item_index", i),
					zap.String("product_id", item.ProductID),
					zap.Error(err),
				)
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		log.Info("order inserted")
		return nil
	})
}

func (r *repository) GetOrderByID(ctx context.Context, orderID string) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "GetOrderByID"),
		zap.String("order_id", orderID),
	)

	var (
		o              Order
		paymentDetails []byte
		refundDetails  []byte
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT
			id, order_number, user_id, subtotal, tax, shipping_fee, total,
			currency, status, payment_status, payment_method, gateway_order_ref,
			payment_details, refund_details, paid_at, refunded_at, cancelled_at,
			created_at, updated_at
		FROM orders
		WHERE id = $1
	`, orderID).Scan(
		&o.ID,
		&o.OrderNumber,
		&o.UserID,
		&o.Subtotal,
		&o.Tax,
		&o.ShippingFee,
		&o.Total,
		&o.Currency,
		&o.Status,
		&o.PaymentStatus,
		&o.PaymentMethod,
		&o.GatewayOrderRef,
		&paymentDetails,
		&refundDetails,
		&o.PaidAt,
		&o.RefundedAt,
		&o.CancelledAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) || isInvalidTextRepresentation(err) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		log.Error("failed to load order", zap.Error(err))
		return nil, fmt.Errorf("get order: %w", err)
	}

	if len(paymentDetails) > 0 {
		o.PaymentDetails = &PaymentDetails{}
		if err := json.Unmarshal(paymentDetails, o.PaymentDetails); err != nil {
			return nil, fmt.Errorf("decode payment_details: %w", err)
		}
	}
	if len(refundDetails) > 0 {
		o.RefundDetails = &RefundDetails{}
		if err := json.Unmarshal(refundDetails, o.RefundDetails); err != nil {
			return nil, fmt.Errorf("decode refund_details: %w", err)
		}
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, product_name, quantity, unit_price, variant_name, variant_value, image_url
		FROM order_items
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		log.Error("failed to load order items", zap.Error(err))
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item                      LineItem
			variantName, variantValue sql.NullString
		)
		if err := rows.Scan(
			&item.ProductID,
			&item.Name,
			&item.Quantity,
			&item.UnitPrice,
			&variantName,
			&variantValue,
			&item.ImageURL,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if variantName.Valid {
			item.SelectedVariant = &SelectedVariant{Name: variantName.String, Value: variantValue.String}
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return &o, nil
}

// SetGatewayOrderRef stores the remote session id. It is written once and only
// while the order is still unpaid.
func (r *repository) SetGatewayOrderRef(ctx context.Context, orderID, ref string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET gateway_order_ref = $2, updated_at = NOW()
		WHERE id = $1 AND gateway_order_ref IS NULL AND payment_status = $3
	`, orderID, ref, PaymentPending)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to set gateway order ref",
			zap.String("layer", "repository"),
			zap.String("method", "SetGatewayOrderRef"),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return fmt.Errorf("set gateway order ref: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrGatewayRefAlreadySet
	}
	return nil
}

func (r *repository) MarkPaidTx(
	ctx context.Context,
	tx *sql.Tx,
	orderID, gatewayRef string,
	details PaymentDetails,
	at time.Time,
) (uint, bool, error) {
	raw, err := json.Marshal(details)
	if err != nil {
		return 0, false, err
	}

	var ownerID uint
	err = tx.QueryRowContext(ctx, `
		UPDATE orders
		SET payment_status = $4,
			status = $5,
			payment_details = $6,
			paid_at = COALESCE(paid_at, $7),
			updated_at = $7
		WHERE id = $1 AND gateway_order_ref = $2 AND payment_status = ANY($3)
		RETURNING user_id
	`,
		orderID,
		gatewayRef,
		pq.Array(sourcesOf(PaymentPaid)),
		PaymentPaid,
		StatusConfirmed,
		raw,
		at,
	).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		logger.FromCtx(ctx).Error("failed to mark order paid",
			zap.String("layer", "repository"),
			zap.String("method", "MarkPaidTx"),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return 0, false, fmt.Errorf("mark order paid: %w", err)
	}
	return ownerID, true, nil
}

// MarkAuthorized never downgrades: it only moves a pending order.
func (r *repository) MarkAuthorized(
	ctx context.Context,
	orderID, gatewayRef string,
	details PaymentDetails,
	at time.Time,
) (bool, error) {
	raw, err := json.Marshal(details)
	if err != nil {
		return false, err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $4, status = $5, payment_details = $6, updated_at = $7
		WHERE id = $1 AND gateway_order_ref = $2 AND payment_status = $3
	`,
		orderID,
		gatewayRef,
		PaymentPending,
		PaymentAuthorized,
		StatusConfirmed,
		raw,
		at,
	)
	if err != nil {
		return false, fmt.Errorf("mark order authorized: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *repository) MarkFailedTx(
	ctx context.Context,
	tx *sql.Tx,
	orderID, gatewayRef string,
	details PaymentDetails,
	at time.Time,
) (bool, error) {
	raw, err := json.Marshal(details)
	if err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $4,
			status = $5,
			payment_details = $6,
			cancelled_at = COALESCE(cancelled_at, $7),
			updated_at = $7
		WHERE id = $1 AND gateway_order_ref = $2 AND payment_status = ANY($3)
	`,
		orderID,
		gatewayRef,
		pq.Array(sourcesOf(PaymentFailed)),
		PaymentFailed,
		StatusCancelled,
		raw,
		at,
	)
	if err != nil {
		return false, fmt.Errorf("mark order failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *repository) MarkRefundedTx(
	ctx context.Context,
	tx *sql.Tx,
	orderID string,
	details RefundDetails,
	at time.Time,
) (bool, error) {
	raw, err := json.Marshal(details)
	if err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $3,
			status = $4,
			refund_details = $5,
			refunded_at = COALESCE(refunded_at, $6),
			cancelled_at = COALESCE(cancelled_at, $6),
			updated_at = $6
		WHERE id = $1 AND payment_status = $2 AND refund_details IS NULL
	`,
		orderID,
		PaymentPaid,
		PaymentRefunded,
		StatusCancelled,
		raw,
		at,
	)
	if err != nil {
		return false, fmt.Errorf("mark order refunded: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// isInvalidTextRepresentation reports a value Postgres could not cast, such as
// a malformed uuid.
func isInvalidTextRepresentation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02"
}
