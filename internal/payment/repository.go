package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// WebhookRecord is one delivery as stored in payment_webhooks.
type WebhookRecord struct {
	Provider        Method
	EventID         string
	EventType       string
	GatewayOrderRef string
	Payload         json.RawMessage
	SignatureValid  bool
}

type Repository interface {
	// SaveWebhookEvent upserts the delivery. processed is true when an earlier
	// delivery of the same event already finished.
	SaveWebhookEvent(ctx context.Context, rec WebhookRecord) (webhookID int64, processed bool, err error)
	MarkWebhookProcessed(ctx context.Context, webhookID int64, note string) error
	MarkWebhookFailed(ctx context.Context, webhookID int64, reason string) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) SaveWebhookEvent(ctx context.Context, rec WebhookRecord) (int64, bool, error) {
	const q = `
	INSERT INTO payment_webhooks (
		provider,
		event_id,
		event_type,
		gateway_order_ref,
		signature_valid,
		payload
	)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (provider, event_id)
	DO UPDATE SET attempts = payment_webhooks.attempts + 1, last_received_at = now()
	RETURNING id, processed_at IS NOT NULL;
	`

	var (
		id        int64
		processed bool
	)
	err := r.db.QueryRowContext(
		ctx,
		q,
		string(rec.Provider),
		rec.EventID,
		rec.EventType,
		rec.GatewayOrderRef,
		rec.SignatureValid,
		[]byte(rec.Payload),
	).Scan(&id, &processed)
	if err != nil {
		return 0, false, fmt.Errorf("save webhook %s/%s: %w", rec.Provider, rec.EventID, err)
	}

	return id, processed, nil
}

func (r *repository) MarkWebhookProcessed(ctx context.Context, webhookID int64, note string) error {
	const q = `
	UPDATE payment_webhooks
	SET processed_at = now(), process_error = NULL, process_note = NULLIF($2, '')
	WHERE id = $1;
	`

	if _, err := r.db.ExecContext(ctx, q, webhookID, note); err != nil {
		return fmt.Errorf("mark webhook %d processed: %w", webhookID, err)
	}
	return nil
}

func (r *repository) MarkWebhookFailed(ctx context.Context, webhookID int64, reason string) error {
	const q = `
	UPDATE payment_webhooks
	SET process_error = $2
	WHERE id = $1;
	`

	if _, err := r.db.ExecContext(ctx, q, webhookID, reason); err != nil {
		return fmt.Errorf("mark webhook %d failed: %w", webhookID, err)
	}
	return nil
}
