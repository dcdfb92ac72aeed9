package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sastabazar-be/internal/cart"
	"sastabazar-be/internal/logger"
	"sastabazar-be/internal/metrics"
	"sastabazar-be/internal/outbox"
	"sastabazar-be/internal/payment"
	"sastabazar-be/internal/product"
	"sastabazar-be/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Gateway notes carried on every remote session so webhooks can find the order.
const (
	NoteInternalOrderID = "internal_order_id"
	NoteOrderNumber     = "order_number"
	NoteOwnerID         = "owner_id"
	NoteReason          = "reason"
)

type Service interface {
	CreatePaymentOrder(ctx context.Context, userID uint, method payment.Method) (*CreatedOrder, error)
	VerifyPayment(ctx context.Context, userID uint, in VerifyPaymentInput) (*Order, error)

	// MarkAsPaid is the one transition into paid, shared by the synchronous
	// verifier and the webhook reconciler.
	MarkAsPaid(ctx context.Context, in MarkPaidInput) (*TransitionResult, error)
	MarkAsAuthorized(ctx context.Context, in MarkPaidInput) (*TransitionResult, error)
	MarkAsFailed(ctx context.Context, in MarkFailedInput) (*TransitionResult, error)

	RefundPayment(ctx context.Context, in RefundInput) (*RefundResult, error)

	GetOrder(ctx context.Context, orderID string) (*Order, error)
	GetOrderForUser(ctx context.Context, userID uint, orderID string) (*Order, error)
}

type Options struct {
	Pricing        PricingConfig
	Currency       string
	GatewayTimeout time.Duration
	Metrics        *metrics.Registry
	Now            func() time.Time
}

type service struct {
	repo      Repository
	carts     cart.Repository
	inventory product.Repository
	events    outbox.Repository
	gateways  map[payment.Method]payment.Gateway

	pricing        PricingConfig
	currency       string
	gatewayTimeout time.Duration
	metrics        *metrics.Registry
	now            func() time.Time
}

func NewService(
	repo Repository,
	carts cart.Repository,
	inventory product.Repository,
	events outbox.Repository,
	gateways []payment.Gateway,
	opts Options,
) Service {
	s := &service{
		repo:           repo,
		carts:          carts,
		inventory:      inventory,
		events:         events,
		gateways:       make(map[payment.Method]payment.Gateway, len(gateways)),
		pricing:        opts.Pricing,
		currency:       opts.Currency,
		gatewayTimeout: opts.GatewayTimeout,
		metrics:        opts.Metrics,
		now:            opts.Now,
	}
	for _, g := range gateways {
		s.gateways[g.Method()] = g
	}

	if s.currency == "" {
		s.currency = "INR"
	}
	if s.gatewayTimeout <= 0 {
		s.gatewayTimeout = 10 * time.Second
	}
	if s.metrics == nil {
		s.metrics = metrics.NewRegistry()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *service) gateway(method payment.Method) (payment.Gateway, error) {
	g, ok := s.gateways[method]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not configured", payment.ErrUnknownMethod, method)
	}
	return g, nil
}

func (s *service) CreatePaymentOrder(ctx context.Context, userID uint, method payment.Method) (*CreatedOrder, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "CreatePaymentOrder"),
		zap.String("payment_method", string(method)),
	)

	if userID == 0 {
		return nil, validationError("buyer is required")
	}

	gw, err := s.gateway(method)
	if err != nil {
		return nil, err
	}

	cartItems, err := s.carts.GetCartItems(ctx, userID)
	if err != nil {
		log.Error("failed to load cart", zap.Error(err))
		return nil, err
	}
	if len(cartItems) == 0 {
		log.Info("cart is empty")
		return nil, ErrEmptyCart
	}

	items := make([]LineItem, 0, len(cartItems))
	for _, ci := range cartItems {
		if err := checkAvailable(ci); err != nil {
			log.Info("cart item unavailable",
				zap.String("product_id", ci.Product.ID),
				zap.Error(err),
			)
			return nil, err
		}

		item := LineItem{
			ProductID: ci.Product.ID,
			Name:      ci.Product.Name,
			Quantity:  ci.Quantity,
			UnitPrice: ci.Product.Price,
			ImageURL:  ci.Product.ImageURL,
		}
		if ci.SelectedVariant != nil {
			item.SelectedVariant = &SelectedVariant{
				Name:  ci.SelectedVariant.Name,
				Value: ci.SelectedVariant.Value,
			}
		}
		items = append(items, item)
	}

	now := s.now()
	pricing := CalculatePricing(items, s.pricing)

	o := &Order{
		ID:            uuid.NewString(),
		OrderNumber:   utils.GenerateOrderNumber(now),
		UserID:        userID,
		Items:         items,
		Subtotal:      pricing.Subtotal,
		Tax:           pricing.Tax,
		ShippingFee:   pricing.ShippingFee,
		Total:         pricing.Total,
		Currency:      s.currency,
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		PaymentMethod: method,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	log = log.With(zap.String("order_id", o.ID), zap.String("order_number", o.OrderNumber))

	if err := s.repo.CreateOrder(ctx, o); err != nil {
		log.Error("failed to persist order", zap.Error(err))
		return nil, err
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	timer := metrics.StartTimer()
	remote, err := gw.CreateOrder(gctx, payment.CreateOrderRequest{
		AmountMinor: o.TotalMinor(),
		Currency:    o.Currency,
		Receipt:     o.OrderNumber,
		Notes: map[string]string{
			NoteInternalOrderID: o.ID,
			NoteOrderNumber:     o.OrderNumber,
			NoteOwnerID:         strconv.FormatUint(uint64(userID), 10),
		},
	})
	s.metrics.Observe("gateway."+string(method)+".create_order", timer)
	if err != nil {
		s.metrics.Inc("orders.gateway_failed")
		log.Error("gateway rejected order; order stays pending", zap.Error(err))
		return nil, &GatewayError{Method: method, OrderID: o.ID, Err: err}
	}

	if err := s.repo.SetGatewayOrderRef(ctx, o.ID, remote.ID); err != nil {
		log.Error("failed to store gateway order ref",
			zap.String("gateway_order_id", remote.ID),
			zap.Error(err),
		)
		return nil, err
	}
	o.GatewayOrderRef = &remote.ID

	s.metrics.Inc("orders.created")
	log.Info("payment order created",
		zap.String("gateway_order_id", remote.ID),
		zap.Int64("total", o.Total),
	)

	return &CreatedOrder{Order: o, Gateway: remote}, nil
}

func checkAvailable(ci cart.CartItem) error {
	p := ci.Product
	switch {
	case ci.Quantity < 1:
		return validationError("quantity for %s must be at least 1", p.Name)
	case p.Price < 0:
		return validationError("price for %s is negative", p.Name)
	case !p.IsActive():
		return &ProductUnavailableError{ProductID: p.ID, Name: p.Name, Reason: "product is not active"}
	case p.Stock < ci.Quantity:
		return &ProductUnavailableError{
			ProductID:  p.ID,
			Name:       p.Name,
			Reason:     fmt.Sprintf("only %d left, %d requested", p.Stock, ci.Quantity),
			OutOfStock: true,
		}
	}
	return nil
}

func (s *service) VerifyPayment(ctx context.Context, userID uint, in VerifyPaymentInput) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "VerifyPayment"),
		zap.String("order_id", in.InternalOrderID),
		zap.String("gateway_order_id", in.GatewayOrderID),
	)

	if in.Method == "" {
		in.Method = payment.MethodRazorpay
	}

	var missing []string
	if in.GatewayOrderID == "" {
		missing = append(missing, "gateway order id")
	}
	if in.GatewayPaymentID == "" {
		missing = append(missing, "gateway payment id")
	}
	if in.Signature == "" {
		missing = append(missing, "signature")
	}
	if in.InternalOrderID == "" {
		missing = append(missing, "internal order id")
	}
	if len(missing) > 0 {
		return nil, validationError("missing %s", strings.Join(missing, ", "))
	}

	gw, err := s.gateway(in.Method)
	if err != nil {
		return nil, err
	}

	if err := gw.VerifyPaymentSignature(in.GatewayOrderID, in.GatewayPaymentID, in.Signature); err != nil {
		if errors.Is(err, payment.ErrUnsupported) {
			return nil, validationError("%s payments are confirmed by webhook", in.Method)
		}
		s.metrics.Inc("payments.signature_invalid")
		log.Warn("payment signature rejected", zap.Error(err))
		return nil, err
	}

	o, err := s.loadOrder(ctx, in.InternalOrderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		log.Warn("verification for an order owned by another buyer")
		return nil, ErrOrderNotFound
	}
	if o.GatewayRef() != in.GatewayOrderID {
		log.Warn("gateway order id does not match order", zap.String("stored_ref", o.GatewayRef()))
		return nil, ErrGatewayRefMismatch
	}

	res, err := s.markPaid(ctx, o, MarkPaidInput{
		OrderID:          o.ID,
		GatewayOrderID:   in.GatewayOrderID,
		GatewayPaymentID: in.GatewayPaymentID,
		Signature:        in.Signature,
		Source:           SourceSync,
	})
	if err != nil {
		return nil, err
	}
	return res.Order, nil
}

func (s *service) MarkAsPaid(ctx context.Context, in MarkPaidInput) (*TransitionResult, error) {
	o, err := s.loadOrder(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	return s.markPaid(ctx, o, in)
}

type paidEvent struct {
	OrderID          string        `json:"orderId"`
	OrderNumber      string        `json:"orderNumber"`
	UserID           uint          `json:"userId"`
	Total            int64         `json:"total"`
	Currency         string        `json:"currency"`
	PaymentMethod    string        `json:"paymentMethod"`
	GatewayOrderID   string        `json:"gatewayOrderId"`
	GatewayPaymentID string        `json:"gatewayPaymentId"`
	Source           PaymentSource `json:"source"`
	Items            []LineItem    `json:"items"`
	Shortfalls       []string      `json:"stockShortfalls,omitempty"`
	PaidAt           time.Time     `json:"paidAt"`
}

func (s *service) markPaid(ctx context.Context, o *Order, in MarkPaidInput) (*TransitionResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "MarkAsPaid"),
		zap.String("order_id", o.ID),
		zap.String("source", string(in.Source)),
		zap.String("gateway_payment_id", in.GatewayPaymentID),
	)

	ref := in.GatewayOrderID
	if ref == "" {
		ref = o.GatewayRef()
	}
	if ref == "" || ref != o.GatewayRef() {
		log.Warn("gateway order id does not match order",
			zap.String("gateway_order_id", ref),
			zap.String("stored_ref", o.GatewayRef()),
		)
		return nil, ErrGatewayRefMismatch
	}

	if o.PaymentStatus != PaymentPending && o.PaymentStatus != PaymentAuthorized {
		return s.settledBeforePaid(ctx, o, in)
	}

	now := s.now()
	details := PaymentDetails{
		GatewayPaymentID: in.GatewayPaymentID,
		GatewayOrderID:   ref,
		Signature:        in.Signature,
		Verified:         true,
		Source:           in.Source,
		EventID:          in.EventID,
		ReceivedAt:       now,
	}

	applied := false
	var shortfalls []string

	err := s.repo.WithTx(ctx, func(tx *sql.Tx) error {
		ownerID, ok, err := s.repo.MarkPaidTx(ctx, tx, o.ID, ref, details, now)
		if err != nil || !ok {
			return err
		}
		applied = true
		shortfalls = shortfalls[:0]

		cleared, err := s.carts.ClearCartTx(ctx, tx, ownerID)
		if err != nil {
			return err
		}

		for _, item := range o.Items {
			ok, err := s.inventory.DecrementStockTx(ctx, tx, item.ProductID, item.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				// The buyer has paid, so the order stands; ops gets the shortfall.
				shortfalls = append(shortfalls, item.ProductID)
				log.Warn("stock shortfall on paid order",
					zap.String("product_id", item.ProductID),
					zap.Int("quantity", item.Quantity),
				)
			}
		}

		ev, err := outbox.NewOrderEvent(o.ID, outbox.EventOrderPaid, paidEvent{
			OrderID:          o.ID,
			OrderNumber:      o.OrderNumber,
			UserID:           ownerID,
			Total:            o.Total,
			Currency:         o.Currency,
			PaymentMethod:    string(o.PaymentMethod),
			GatewayOrderID:   ref,
			GatewayPaymentID: in.GatewayPaymentID,
			Source:           in.Source,
			Items:            o.Items,
			Shortfalls:       shortfalls,
			PaidAt:           now,
		}, now)
		if err != nil {
			return err
		}
		if err := s.events.InsertTx(ctx, tx, ev); err != nil {
			return err
		}

		log.Debug("paid side effects applied", zap.Int64("cart_rows_cleared", cleared))
		return nil
	})
	if err != nil {
		log.Error("failed to mark order paid", zap.Error(err))
		return nil, err
	}

	if !applied {
		// Lost the race or the stored state moved under us.
		current, err := s.repo.GetOrderByID(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		if current.PaymentStatus == PaymentPending || current.PaymentStatus == PaymentAuthorized {
			log.Warn("conditional update matched nothing on an unpaid order")
			return nil, ErrGatewayRefMismatch
		}
		return s.settledBeforePaid(ctx, current, in)
	}

	if n := len(shortfalls); n > 0 {
		s.metrics.Counter("inventory.shortfall").Add(uint64(n))
	}
	s.metrics.Inc("payments.captured")
	s.metrics.Inc("payments.captured." + string(in.Source))

	o.PaymentStatus = PaymentPaid
	o.Status = StatusConfirmed
	o.PaymentDetails = &details
	o.PaidAt = &now
	o.UpdatedAt = now

	log.Info("order marked paid")
	return &TransitionResult{Order: o, Applied: true}, nil
}

// settledBeforePaid handles a paid confirmation for an order that has already
// left the unpaid states.
func (s *service) settledBeforePaid(ctx context.Context, o *Order, in MarkPaidInput) (*TransitionResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "MarkAsPaid"),
		zap.String("order_id", o.ID),
		zap.String("payment_status", string(o.PaymentStatus)),
	)

	switch o.PaymentStatus {
	case PaymentPaid:
		s.metrics.Inc("payments.duplicate_confirmation")
		log.Info("order already paid, replay ignored", zap.String("source", string(in.Source)))
		return &TransitionResult{Order: o, Applied: false}, nil

	case PaymentRefunded:
		if o.PaymentDetails != nil && o.PaymentDetails.GatewayPaymentID == in.GatewayPaymentID {
			log.Info("late confirmation for refunded payment ignored")
			return nil, fmt.Errorf("%w: order is refunded", ErrInvalidTransition)
		}
	}

	// Money was captured against an order that can no longer take it.
	s.metrics.Inc("payments.reconciliation_required")
	log.Error("capture for an order that is not payable",
		zap.String("gateway_payment_id", in.GatewayPaymentID),
		zap.String("source", string(in.Source)),
	)
	s.recordBestEffort(ctx, o.ID, outbox.EventPaymentReconciliationNeeded, map[string]any{
		"orderId":          o.ID,
		"orderNumber":      o.OrderNumber,
		"paymentStatus":    o.PaymentStatus,
		"gatewayOrderId":   in.GatewayOrderID,
		"gatewayPaymentId": in.GatewayPaymentID,
		"source":           in.Source,
		"eventId":          in.EventID,
	})
	return nil, fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.PaymentStatus)
}

// recordBestEffort writes an operator facing event outside any transaction.
func (s *service) recordBestEffort(ctx context.Context, orderID, eventType string, payload any) {
	ev, err := outbox.NewOrderEvent(orderID, eventType, payload, s.now())
	if err == nil {
		err = s.events.Insert(ctx, ev)
	}
	if err != nil {
		logger.FromCtx(ctx).Error("failed to record reconciliation event",
			zap.String("order_id", orderID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

func (s *service) MarkAsAuthorized(ctx context.Context, in MarkPaidInput) (*TransitionResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "MarkAsAuthorized"),
		zap.String("order_id", in.OrderID),
	)

	o, err := s.loadOrder(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}

	ref := in.GatewayOrderID
	if ref == "" {
		ref = o.GatewayRef()
	}
	if ref == "" || ref != o.GatewayRef() {
		return nil, ErrGatewayRefMismatch
	}

	if o.PaymentStatus != PaymentPending {
		log.Info("authorization ignored, order already past pending",
			zap.String("payment_status", string(o.PaymentStatus)),
		)
		return &TransitionResult{Order: o, Applied: false}, nil
	}

	now := s.now()
	details := PaymentDetails{
		GatewayPaymentID: in.GatewayPaymentID,
		GatewayOrderID:   ref,
		Verified:         true,
		Source:           in.Source,
		EventID:          in.EventID,
		ReceivedAt:       now,
	}

	ok, err := s.repo.MarkAuthorized(ctx, o.ID, ref, details, now)
	if err != nil {
		log.Error("failed to mark order authorized", zap.Error(err))
		return nil, err
	}
	if !ok {
		current, err := s.repo.GetOrderByID(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		return &TransitionResult{Order: current, Applied: false}, nil
	}

	o.PaymentStatus = PaymentAuthorized
	o.Status = StatusConfirmed
	o.PaymentDetails = &details
	o.UpdatedAt = now

	s.metrics.Inc("payments.authorized")
	log.Info("order marked authorized")
	return &TransitionResult{Order: o, Applied: true}, nil
}

func (s *service) MarkAsFailed(ctx context.Context, in MarkFailedInput) (*TransitionResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "MarkAsFailed"),
		zap.String("order_id", in.OrderID),
		zap.String("gateway_payment_id", in.GatewayPaymentID),
	)

	o, err := s.loadOrder(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}

	ref := in.GatewayOrderID
	if ref == "" {
		ref = o.GatewayRef()
	}
	if ref == "" || ref != o.GatewayRef() {
		return nil, ErrGatewayRefMismatch
	}

	if stale := s.staleFailure(o); stale != nil {
		log.Info("stale payment failure discarded", zap.String("payment_status", string(o.PaymentStatus)))
		return &TransitionResult{Order: o}, stale
	}
	if o.PaymentStatus == PaymentFailed {
		return &TransitionResult{Order: o}, nil
	}

	now := s.now()
	details := PaymentDetails{
		GatewayPaymentID: in.GatewayPaymentID,
		GatewayOrderID:   ref,
		Verified:         true,
		Source:           in.Source,
		EventID:          in.EventID,
		FailureReason:    in.Reason,
		ReceivedAt:       now,
	}

	applied := false
	err = s.repo.WithTx(ctx, func(tx *sql.Tx) error {
		ok, err := s.repo.MarkFailedTx(ctx, tx, o.ID, ref, details, now)
		if err != nil || !ok {
			return err
		}
		applied = true

		ev, err := outbox.NewOrderEvent(o.ID, outbox.EventOrderPaymentFailed, map[string]any{
			"orderId":          o.ID,
			"orderNumber":      o.OrderNumber,
			"userId":           o.UserID,
			"gatewayPaymentId": in.GatewayPaymentID,
			"reason":           in.Reason,
			"failedAt":         now,
		}, now)
		if err != nil {
			return err
		}
		return s.events.InsertTx(ctx, tx, ev)
	})
	if err != nil {
		log.Error("failed to mark order failed", zap.Error(err))
		return nil, err
	}

	if !applied {
		current, err := s.repo.GetOrderByID(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		if current.PaymentStatus == PaymentPending || current.PaymentStatus == PaymentAuthorized {
			return nil, ErrGatewayRefMismatch
		}
		return &TransitionResult{Order: current}, s.staleFailure(current)
	}

	o.PaymentStatus = PaymentFailed
	o.Status = StatusCancelled
	o.PaymentDetails = &details
	o.CancelledAt = &now
	o.UpdatedAt = now

	s.metrics.Inc("payments.failed")
	log.Info("order marked failed", zap.String("reason", in.Reason))
	return &TransitionResult{Order: o, Applied: true}, nil
}

// staleFailure returns nil when the order may still fail, and for an order
// that already failed (a replay). Paid and refunded orders never fail.
func (s *service) staleFailure(o *Order) error {
	switch o.PaymentStatus {
	case PaymentPaid, PaymentRefunded:
		s.metrics.Inc("payments.stale_failure")
		return fmt.Errorf("%w: failure after order is %s", ErrInvalidTransition, o.PaymentStatus)
	}
	return nil
}

func (s *service) RefundPayment(ctx context.Context, in RefundInput) (*RefundResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "RefundPayment"),
		zap.String("payment_id", in.PaymentID),
		zap.String("order_id", in.OrderID),
	)

	if in.Method == "" {
		in.Method = payment.MethodRazorpay
	}
	if strings.TrimSpace(in.PaymentID) == "" {
		return nil, validationError("payment id is required")
	}
	if in.Amount != nil && *in.Amount <= 0 {
		return nil, validationError("refund amount must be positive")
	}

	gw, err := s.gateway(in.Method)
	if err != nil {
		return nil, err
	}

	var o *Order
	if in.OrderID != "" {
		o, err = s.loadOrder(ctx, in.OrderID)
		if err != nil {
			return nil, err
		}
		if o.PaymentStatus != PaymentPaid {
			return nil, fmt.Errorf("%w: cannot refund a %s order", ErrInvalidTransition, o.PaymentStatus)
		}
		if o.PaymentMethod != in.Method {
			return nil, validationError("order was paid with %s", o.PaymentMethod)
		}
		if o.PaymentDetails != nil && o.PaymentDetails.GatewayPaymentID != "" &&
			o.PaymentDetails.GatewayPaymentID != in.PaymentID {
			return nil, validationError("payment %s does not belong to order", in.PaymentID)
		}
		if in.Amount != nil && *in.Amount > o.TotalMinor() {
			return nil, validationError("refund amount exceeds order total")
		}
	}

	notes := map[string]string{}
	if in.Reason != "" {
		notes[NoteReason] = in.Reason
	}
	if in.OrderID != "" {
		notes[NoteInternalOrderID] = in.OrderID
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	timer := metrics.StartTimer()
	refund, err := gw.Refund(gctx, payment.RefundRequest{
		PaymentID:   in.PaymentID,
		AmountMinor: in.Amount,
		Notes:       notes,
	})
	s.metrics.Observe("gateway."+string(in.Method)+".refund", timer)
	if err != nil {
		s.metrics.Inc("refunds.failed")
		log.Error("gateway refund failed", zap.Error(err))
		return nil, &RefundError{Method: in.Method, PaymentID: in.PaymentID, Err: err}
	}
	s.metrics.Inc("refunds.created")

	if o == nil {
		log.Info("refund issued without order", zap.String("refund_id", refund.ID))
		return &RefundResult{Refund: refund}, nil
	}

	now := s.now()
	details := RefundDetails{
		RefundID:   refund.ID,
		PaymentID:  in.PaymentID,
		Amount:     refund.Amount,
		Status:     refund.Status,
		Reason:     in.Reason,
		RefundedAt: now,
	}

	err = s.repo.WithTx(ctx, func(tx *sql.Tx) error {
		ok, err := s.repo.MarkRefundedTx(ctx, tx, o.ID, details, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: order changed during refund", ErrInvalidTransition)
		}

		ev, err := outbox.NewOrderEvent(o.ID, outbox.EventOrderRefunded, map[string]any{
			"orderId":     o.ID,
			"orderNumber": o.OrderNumber,
			"userId":      o.UserID,
			"refundId":    refund.ID,
			"paymentId":   in.PaymentID,
			"amount":      refund.Amount,
			"reason":      in.Reason,
			"refundedAt":  now,
		}, now)
		if err != nil {
			return err
		}
		return s.events.InsertTx(ctx, tx, ev)
	})
	if err != nil {
		s.metrics.Inc("refunds.unrecorded")
		log.Error("refund issued but order not updated, manual reconciliation needed",
			zap.String("refund_id", refund.ID),
			zap.Int64("amount", refund.Amount),
			zap.Error(err),
		)
		s.recordBestEffort(ctx, o.ID, outbox.EventRefundReconciliationRequired, map[string]any{
			"orderId":   o.ID,
			"refundId":  refund.ID,
			"paymentId": in.PaymentID,
			"amount":    refund.Amount,
			"error":     err.Error(),
		})
		return nil, &RefundNotRecordedError{Refund: refund, OrderID: o.ID, Err: err}
	}

	o.PaymentStatus = PaymentRefunded
	o.Status = StatusCancelled
	o.RefundDetails = &details
	o.RefundedAt = &now
	if o.CancelledAt == nil {
		o.CancelledAt = &now
	}
	o.UpdatedAt = now

	log.Info("order refunded", zap.String("refund_id", refund.ID))
	return &RefundResult{Refund: refund, Order: o}, nil
}

func (s *service) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, validationError("order id is required")
	}
	return s.loadOrder(ctx, orderID)
}

// loadOrder treats ids that are not UUIDs as unknown orders. Gateway test
// events carry placeholder ids and must not reach the uuid column.
func (s *service) loadOrder(ctx context.Context, orderID string) (*Order, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		logger.FromCtx(ctx).Info("order id is not a uuid",
			zap.String("layer", "service"),
			zap.String("order_id", orderID),
		)
		return nil, ErrOrderNotFound
	}
	return s.repo.GetOrderByID(ctx, orderID)
}

// GetOrderForUser hides other buyers' orders behind not found.
func (s *service) GetOrderForUser(ctx context.Context, userID uint, orderID string) (*Order, error) {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return o, nil
}
