package outbox

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	StatusPending = "PENDING"
	StatusSent    = "SENT"
	StatusFailed  = "FAILED"
)

// Event types, also used as topic names.
const (
	EventOrderPaid                    = "order.paid"
	EventOrderPaymentFailed           = "order.payment_failed"
	EventOrderRefunded                = "order.refunded"
	EventPaymentReconciliationNeeded  = "payment.reconciliation_required"
	EventRefundReconciliationRequired = "refund.reconciliation_required"
)

const AggregateOrder = "order"

type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
	Status        string
	Attempts      int
	LastError     *string
	CreatedAt     time.Time
	SentAt        *time.Time
}

func NewOrderEvent(orderID, eventType string, payload any, now time.Time) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &Event{
		AggregateType: AggregateOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       raw,
		Status:        StatusPending,
		CreatedAt:     now,
	}, nil
}
