package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sastabazar-be/internal/auth"
	"sastabazar-be/internal/idempotency"
	"sastabazar-be/internal/logger"
	"sastabazar-be/internal/middleware"
	"sastabazar-be/internal/order"
	"sastabazar-be/internal/payment"
	"sastabazar-be/internal/utils"

	"go.uber.org/zap"
)

const (
	IdempotencyHeader = "Idempotency-Key"

	maxRequestBytes = 64 << 10
)

// PaymentHandler serves the buyer and admin payment routes. Webhooks live in
// the webhook package.
type PaymentHandler struct {
	OrderSvc       order.Service
	Gateways       map[payment.Method]payment.Gateway
	Idempotency    idempotency.Store
	IdempotencyTTL time.Duration
}

func NewPaymentHandler(
	orderSvc order.Service,
	store idempotency.Store,
	ttl time.Duration,
	gateways ...payment.Gateway,
) *PaymentHandler {
	h := &PaymentHandler{
		OrderSvc:       orderSvc,
		Gateways:       make(map[payment.Method]payment.Gateway, len(gateways)),
		Idempotency:    store,
		IdempotencyTTL: ttl,
	}
	for _, g := range gateways {
		h.Gateways[g.Method()] = g
	}
	if h.Idempotency == nil {
		h.Idempotency = idempotency.NoopStore{}
	}
	if h.IdempotencyTTL <= 0 {
		h.IdempotencyTTL = 24 * time.Hour
	}
	return h
}

// Register mounts the routes. Authentication is expected to run earlier in the chain.
func (h *PaymentHandler) Register(mux *http.ServeMux) {
	mux.Handle("POST /payments/razorpay/order", middleware.RequireAuth(http.HandlerFunc(h.CreateRazorpayOrder)))
	mux.Handle("POST /payments/stripe/create-checkout-session", middleware.RequireAuth(http.HandlerFunc(h.CreateStripeSession)))
	mux.Handle("POST /payments/razorpay/verify", middleware.RequireAuth(http.HandlerFunc(h.VerifyRazorpayPayment)))
	mux.Handle("POST /payments/{method}/refund", middleware.RequireRole(auth.RoleAdmin, http.HandlerFunc(h.Refund)))
	mux.HandleFunc("GET /payments/razorpay/config", h.Config(payment.MethodRazorpay))
	mux.HandleFunc("GET /payments/stripe/config", h.Config(payment.MethodStripe))
	mux.Handle("GET /payments/orders/{id}", middleware.RequireAuth(http.HandlerFunc(h.GetOrder)))
}

type razorpayOrderResponse struct {
	Success         bool                  `json:"success"`
	Order           *payment.GatewayOrder `json:"order"`
	InternalOrderID string                `json:"internalOrderId"`
	OrderNumber     string                `json:"orderNumber"`
}

type stripeSessionResponse struct {
	Success         bool   `json:"success"`
	SessionID       string `json:"sessionId"`
	URL             string `json:"url"`
	InternalOrderID string `json:"internalOrderId"`
	OrderNumber     string `json:"orderNumber"`
}

func (h *PaymentHandler) CreateRazorpayOrder(w http.ResponseWriter, r *http.Request) {
	created, ok := h.createOrder(w, r, payment.MethodRazorpay)
	if !ok {
		return
	}
	utils.WriteJSON(w, http.StatusOK, razorpayOrderResponse{
		Success: true,
		Order: &payment.GatewayOrder{
			ID:       created.Gateway.ID,
			Amount:   created.Gateway.Amount,
			Currency: created.Gateway.Currency,
			Receipt:  created.Gateway.Receipt,
		},
		InternalOrderID: created.Order.ID,
		OrderNumber:     created.Order.OrderNumber,
	})
}

func (h *PaymentHandler) CreateStripeSession(w http.ResponseWriter, r *http.Request) {
	created, ok := h.createOrder(w, r, payment.MethodStripe)
	if !ok {
		return
	}
	utils.WriteJSON(w, http.StatusOK, stripeSessionResponse{
		Success:         true,
		SessionID:       created.Gateway.ID,
		URL:             created.Gateway.CheckoutURL,
		InternalOrderID: created.Order.ID,
		OrderNumber:     created.Order.OrderNumber,
	})
}

func (h *PaymentHandler) createOrder(w http.ResponseWriter, r *http.Request, method payment.Method) (*order.CreatedOrder, bool) {
	ctx := r.Context()
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "handler"),
		zap.String("method", "createOrder"),
		zap.String("payment_method", string(method)),
	)

	if _, ok := h.Gateways[method]; !ok {
		writeError(w, fmt.Errorf("%w: %s", payment.ErrUnknownMethod, method))
		return nil, false
	}

	userID, _ := utils.GetUserIDFromContext(ctx)

	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key != "" {
		key = strconv.FormatUint(uint64(userID), 10) + ":" + key
		reserved, err := h.Idempotency.Reserve(ctx, key, h.IdempotencyTTL)
		if err != nil {
			log.Error("failed to reserve idempotency key", zap.Error(err))
			writeError(w, err)
			return nil, false
		}
		if !reserved {
			log.Info("duplicate order creation request", zap.String("idempotency_key", key))
			writeError(w, idempotency.ErrKeyInUse)
			return nil, false
		}
	}

	created, err := h.OrderSvc.CreatePaymentOrder(ctx, userID, method)
	if err != nil {
		if key != "" {
			if rerr := h.Idempotency.Release(ctx, key); rerr != nil {
				log.Warn("failed to release idempotency key", zap.Error(rerr))
			}
		}
		log.Info("order creation failed", zap.Error(err))
		writeError(w, err)
		return nil, false
	}
	return created, true
}

type verifyRequest struct {
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
	InternalOrderID   string `json:"internal_order_id"`
}

type orderResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Order   *order.Order `json:"order"`
}

func (h *PaymentHandler) VerifyRazorpayPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	userID, _ := utils.GetUserIDFromContext(r.Context())
	o, err := h.OrderSvc.VerifyPayment(r.Context(), userID, order.VerifyPaymentInput{
		Method:           payment.MethodRazorpay,
		GatewayOrderID:   req.RazorpayOrderID,
		GatewayPaymentID: req.RazorpayPaymentID,
		Signature:        req.RazorpaySignature,
		InternalOrderID:  req.InternalOrderID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, orderResponse{
		Success: true,
		Message: "payment verified",
		Order:   o,
	})
}

type refundRequest struct {
	PaymentID string `json:"paymentId"`
	Amount    *int64 `json:"amount,omitempty"`
	Reason    string `json:"reason,omitempty"`
	OrderID   string `json:"orderId,omitempty"`
}

type refundResponse struct {
	Success bool            `json:"success"`
	Refund  *payment.Refund `json:"refund"`
	Order   *order.Order    `json:"order,omitempty"`
}

func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	method, err := payment.ParseMethod(r.PathValue("method"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req refundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	log := logger.FromCtx(r.Context()).With(
		zap.String("layer", "handler"),
		zap.String("method", "Refund"),
		zap.String("payment_id", req.PaymentID),
		zap.String("requested_by", utils.GetUserEmailFromContext(r.Context())),
	)

	res, err := h.OrderSvc.RefundPayment(r.Context(), order.RefundInput{
		Method:    method,
		PaymentID: req.PaymentID,
		Amount:    req.Amount,
		Reason:    req.Reason,
		OrderID:   req.OrderID,
	})
	if err != nil {
		log.Error("refund failed", zap.Error(err))
		writeError(w, err)
		return
	}
	log.Info("refund issued", zap.String("refund_id", res.Refund.ID))

	utils.WriteJSON(w, http.StatusOK, refundResponse{
		Success: true,
		Refund:  res.Refund,
		Order:   res.Order,
	})
}

type configResponse struct {
	Success bool `json:"success"`
	payment.PublicConfig
}

// Config serves the browser-safe gateway settings; secrets never leave the server.
func (h *PaymentHandler) Config(method payment.Method) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gw, ok := h.Gateways[method]
		if !ok {
			utils.WriteJSON(w, http.StatusNotFound, errorResponse{Error: "payment method not configured"})
			return
		}
		utils.WriteJSON(w, http.StatusOK, configResponse{Success: true, PublicConfig: gw.PublicConfig()})
	}
}

// GetOrder lets the checkout success page poll for the webhook outcome.
func (h *PaymentHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var (
		o   *order.Order
		err error
	)
	if utils.GetUserRoleFromContext(ctx) == auth.RoleAdmin {
		o, err = h.OrderSvc.GetOrder(ctx, id)
	} else {
		userID, _ := utils.GetUserIDFromContext(ctx)
		o, err = h.OrderSvc.GetOrderForUser(ctx, userID, id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, orderResponse{Success: true, Order: o})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", order.ErrValidation)
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, idempotency.ErrKeyInUse) {
		utils.WriteJSON(w, http.StatusConflict, errorResponse{Error: "duplicate request"})
		return
	}
	status, resp := newErrorResponse(err)
	utils.WriteJSON(w, status, resp)
}
