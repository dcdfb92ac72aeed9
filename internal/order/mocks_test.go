package order

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"sastabazar-be/internal/cart"
	"sastabazar-be/internal/outbox"
	"sastabazar-be/internal/payment"

	"github.com/stretchr/testify/mock"
)

// --- Mocks ---

type MockRepository struct {
	mock.Mock
}

// WithTx runs fn with a nil tx unless the expectation returns an error.
func (m *MockRepository) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(nil)
}

func (m *MockRepository) CreateOrder(ctx context.Context, o *Order) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

func (m *MockRepository) GetOrderByID(ctx context.Context, orderID string) (*Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Order), args.Error(1)
}

func (m *MockRepository) SetGatewayOrderRef(ctx context.Context, orderID, ref string) error {
	args := m.Called(ctx, orderID, ref)
	return args.Error(0)
}

func (m *MockRepository) MarkPaidTx(ctx context.Context, tx *sql.Tx, orderID, gatewayRef string, details PaymentDetails, at time.Time) (uint, bool, error) {
	args := m.Called(ctx, tx, orderID, gatewayRef, details, at)
	return args.Get(0).(uint), args.Bool(1), args.Error(2)
}

func (m *MockRepository) MarkAuthorized(ctx context.Context, orderID, gatewayRef string, details PaymentDetails, at time.Time) (bool, error) {
	args := m.Called(ctx, orderID, gatewayRef, details, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) MarkFailedTx(ctx context.Context, tx *sql.Tx, orderID, gatewayRef string, details PaymentDetails, at time.Time) (bool, error) {
	args := m.Called(ctx, tx, orderID, gatewayRef, details, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) MarkRefundedTx(ctx context.Context, tx *sql.Tx, orderID string, details RefundDetails, at time.Time) (bool, error) {
	args := m.Called(ctx, tx, orderID, details, at)
	return args.Bool(0), args.Error(1)
}

type MockCartRepository struct {
	mock.Mock
}

func (m *MockCartRepository) GetCartItems(ctx context.Context, userID uint) ([]cart.CartItem, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]cart.CartItem), args.Error(1)
}

func (m *MockCartRepository) ClearCartTx(ctx context.Context, tx *sql.Tx, userID uint) (int64, error) {
	args := m.Called(ctx, tx, userID)
	return args.Get(0).(int64), args.Error(1)
}

type MockInventory struct {
	mock.Mock
}

func (m *MockInventory) DecrementStockTx(ctx context.Context, tx *sql.Tx, productID string, quantity int) (bool, error) {
	args := m.Called(ctx, tx, productID, quantity)
	return args.Bool(0), args.Error(1)
}

type MockEvents struct {
	mock.Mock
}

func (m *MockEvents) Insert(ctx context.Context, event *outbox.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEvents) InsertTx(ctx context.Context, tx *sql.Tx, event *outbox.Event) error {
	args := m.Called(ctx, tx, event)
	return args.Error(0)
}

func (m *MockEvents) FindPending(ctx context.Context, limit int) ([]*outbox.Event, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outbox.Event), args.Error(1)
}

func (m *MockEvents) MarkSent(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockEvents) MarkFailed(ctx context.Context, id int64, reason string, maxAttempts int) error {
	args := m.Called(ctx, id, reason, maxAttempts)
	return args.Error(0)
}

type MockGateway struct {
	mock.Mock
	method payment.Method
}

func (m *MockGateway) Method() payment.Method {
	return m.method
}

func (m *MockGateway) CreateOrder(ctx context.Context, req payment.CreateOrderRequest) (*payment.GatewayOrder, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.GatewayOrder), args.Error(1)
}

func (m *MockGateway) VerifyPaymentSignature(gatewayOrderID, gatewayPaymentID, signature string) error {
	args := m.Called(gatewayOrderID, gatewayPaymentID, signature)
	return args.Error(0)
}

func (m *MockGateway) VerifyWebhookSignature(body []byte, header http.Header) error {
	args := m.Called(body, header)
	return args.Error(0)
}

func (m *MockGateway) ParseWebhookEvent(body []byte, header http.Header) (*payment.WebhookEvent, error) {
	args := m.Called(body, header)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.WebhookEvent), args.Error(1)
}

func (m *MockGateway) Refund(ctx context.Context, req payment.RefundRequest) (*payment.Refund, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Refund), args.Error(1)
}

func (m *MockGateway) PublicConfig() payment.PublicConfig {
	return payment.PublicConfig{Method: m.method}
}
