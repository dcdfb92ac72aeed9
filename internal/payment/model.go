package payment

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Method string

const (
	MethodRazorpay Method = "razorpay"
	MethodStripe   Method = "stripe"
)

func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodRazorpay, MethodStripe:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// CreateOrderRequest opens a remote payment session. Amounts are minor units (paise).
type CreateOrderRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// GatewayOrder is the remote session: a Razorpay order or a Stripe checkout session.
type GatewayOrder struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Receipt     string `json:"receipt"`
	Status      string `json:"status,omitempty"`
	CheckoutURL string `json:"url,omitempty"`
}

type RefundRequest struct {
	PaymentID string
	// nil refunds the full captured amount
	AmountMinor *int64
	Notes       map[string]string
}

type Refund struct {
	ID        string            `json:"id"`
	PaymentID string            `json:"paymentId"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency,omitempty"`
	Status    string            `json:"status"`
	Notes     map[string]string `json:"notes,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// PublicConfig is safe to hand to the browser.
type PublicConfig struct {
	Method         Method `json:"method"`
	KeyID          string `json:"keyId,omitempty"`
	PublishableKey string `json:"publishableKey,omitempty"`
	Currency       string `json:"currency"`
}

type EventKind int

const (
	EventIgnored EventKind = iota
	EventCaptured
	EventAuthorized
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventCaptured:
		return "captured"
	case EventAuthorized:
		return "authorized"
	case EventFailed:
		return "failed"
	default:
		return "ignored"
	}
}

// WebhookEvent is a verified delivery normalized across gateways.
type WebhookEvent struct {
	Provider         Method
	ID               string
	Type             string
	Kind             EventKind
	InternalOrderID  string
	GatewayOrderID   string
	GatewayPaymentID string
	AmountMinor      int64
	FailureReason    string
	Payload          json.RawMessage
}
