package order

import (
	"time"

	"sastabazar-be/internal/payment"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusConfirmed  OrderStatus = "confirmed"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
	StatusRefunded   OrderStatus = "refunded"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentPaid       PaymentStatus = "paid"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
)

// allowed forward moves of the payment state; anything else is rejected
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:    {PaymentAuthorized, PaymentPaid, PaymentFailed},
	PaymentAuthorized: {PaymentPaid, PaymentFailed},
	PaymentPaid:       {PaymentRefunded},
}

func (p PaymentStatus) CanMoveTo(next PaymentStatus) bool {
	for _, s := range paymentTransitions[p] {
		if s == next {
			return true
		}
	}
	return false
}

// sourcesOf lists the states from which next can be reached.
func sourcesOf(next PaymentStatus) []string {
	var out []string
	for _, from := range []PaymentStatus{PaymentPending, PaymentAuthorized, PaymentPaid} {
		if from.CanMoveTo(next) {
			out = append(out, string(from))
		}
	}
	return out
}

type PaymentSource string

const (
	SourceSync    PaymentSource = "sync"
	SourceWebhook PaymentSource = "webhook"
)

type SelectedVariant struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// LineItem is a snapshot of the cart row at checkout time.
type LineItem struct {
	ProductID       string           `json:"productId"`
	Name            string           `json:"name"`
	Quantity        int              `json:"quantity"`
	UnitPrice       int64            `json:"unitPrice"`
	SelectedVariant *SelectedVariant `json:"selectedVariant,omitempty"`
	ImageURL        *string          `json:"imageUrl,omitempty"`
}

// PaymentDetails is the last gateway confirmation applied to the order.
type PaymentDetails struct {
	GatewayPaymentID string        `json:"gatewayPaymentId,omitempty"`
	GatewayOrderID   string        `json:"gatewayOrderId,omitempty"`
	Signature        string        `json:"signature,omitempty"`
	Verified         bool          `json:"verified"`
	Source           PaymentSource `json:"source"`
	EventID          string        `json:"eventId,omitempty"`
	FailureReason    string        `json:"failureReason,omitempty"`
	ReceivedAt       time.Time     `json:"receivedAt"`
}

type RefundDetails struct {
	RefundID   string    `json:"refundId"`
	PaymentID  string    `json:"paymentId"`
	Amount     int64     `json:"amount"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	RefundedAt time.Time `json:"refundedAt"`
}

// Order amounts are whole currency units; gateways get TotalMinor.
type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"orderNumber"`
	UserID          uint            `json:"userId"`
	Items           []LineItem      `json:"items"`
	Subtotal        int64           `json:"subtotal"`
	Tax             int64           `json:"tax"`
	ShippingFee     int64           `json:"shippingFee"`
	Total           int64           `json:"total"`
	Currency        string          `json:"currency"`
	Status          OrderStatus     `json:"status"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus"`
	PaymentMethod   payment.Method  `json:"paymentMethod"`
	GatewayOrderRef *string         `json:"gatewayOrderRef,omitempty"`
	PaymentDetails  *PaymentDetails `json:"paymentDetails,omitempty"`
	RefundDetails   *RefundDetails  `json:"refundDetails,omitempty"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
	RefundedAt      *time.Time      `json:"refundedAt,omitempty"`
	CancelledAt     *time.Time      `json:"cancelledAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (o *Order) TotalMinor() int64 {
	return o.Total * 100
}

func (o *Order) GatewayRef() string {
	if o.GatewayOrderRef == nil {
		return ""
	}
	return *o.GatewayOrderRef
}

// CreatedOrder is the result of opening checkout: the pending order and its remote session.
type CreatedOrder struct {
	Order   *Order
	Gateway *payment.GatewayOrder
}

type VerifyPaymentInput struct {
	Method           payment.Method
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	InternalOrderID  string
}

type MarkPaidInput struct {
	OrderID          string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	Source           PaymentSource
	EventID          string
}

type MarkFailedInput struct {
	OrderID          string
	GatewayOrderID   string
	GatewayPaymentID string
	Reason           string
	Source           PaymentSource
	EventID          string
}

// TransitionResult reports whether this call moved the order or found it already moved.
type TransitionResult struct {
	Order   *Order
	Applied bool
}

type RefundInput struct {
	Method    payment.Method
	PaymentID string
	// minor units; nil refunds everything
	Amount  *int64
	Reason  string
	OrderID string
}

type RefundResult struct {
	Refund *payment.Refund
	Order  *Order
}
