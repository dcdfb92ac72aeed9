package outbox

import (
	"context"
	"database/sql"
	"fmt"
)

type Repository interface {
	Insert(ctx context.Context, event *Event) error
	InsertTx(ctx context.Context, tx *sql.Tx, event *Event) error
	FindPending(ctx context.Context, limit int) ([]*Event, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, reason string, maxAttempts int) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const insertEventQuery = `
	INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id
`

func (r *repository) Insert(ctx context.Context, event *Event) error {
	err := r.db.QueryRowContext(ctx, insertEventQuery,
		event.AggregateType,
		event.AggregateID,
		event.EventType,
		[]byte(event.Payload),
		event.Status,
		event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// InsertTx writes the event in the caller's transaction so it commits with the state change.
func (r *repository) InsertTx(ctx context.Context, tx *sql.Tx, event *Event) error {
	err := tx.QueryRowContext(ctx, insertEventQuery,
		event.AggregateType,
		event.AggregateID,
		event.EventType,
		[]byte(event.Payload),
		event.Status,
		event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

func (r *repository) FindPending(ctx context.Context, limit int) ([]*Event, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, status, attempts, created_at
		FROM outbox_events
		WHERE status = 'PENDING'
		ORDER BY created_at ASC, id ASC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event := &Event{}
		var payload []byte
		if err := rows.Scan(
			&event.ID,
			&event.AggregateType,
			&event.AggregateID,
			&event.EventType,
			&payload,
			&event.Status,
			&event.Attempts,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		event.Payload = payload
		events = append(events, event)
	}

	return events, rows.Err()
}

func (r *repository) MarkSent(ctx context.Context, id int64) error {
	query := `
		UPDATE outbox_events
		SET status = 'SENT', sent_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark event as sent: %w", err)
	}
	return nil
}

// MarkFailed records the attempt; the event stays pending until maxAttempts is reached.
func (r *repository) MarkFailed(ctx context.Context, id int64, reason string, maxAttempts int) error {
	query := `
		UPDATE outbox_events
		SET attempts = attempts + 1,
		    last_error = $2,
		    status = CASE WHEN attempts + 1 >= $3 THEN 'FAILED' ELSE status END
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, reason, maxAttempts); err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	return nil
}
