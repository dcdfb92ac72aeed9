package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"sastabazar-be/internal/logger"
	"sastabazar-be/internal/metrics"
	"sastabazar-be/internal/order"
	"sastabazar-be/internal/payment"
	"sastabazar-be/internal/utils"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Handler receives gateway webhooks. The body is read raw and verified before
// anything else touches it.
type Handler struct {
	OrderSvc order.Service
	Repo     payment.Repository
	Gateways map[payment.Method]payment.Gateway
	Metrics  *metrics.Registry
}

func NewWebhookHandler(
	orderSvc order.Service,
	repo payment.Repository,
	reg *metrics.Registry,
	gateways ...payment.Gateway,
) *Handler {
	h := &Handler{
		OrderSvc: orderSvc,
		Repo:     repo,
		Gateways: make(map[payment.Method]payment.Gateway, len(gateways)),
		Metrics:  reg,
	}
	for _, g := range gateways {
		h.Gateways[g.Method()] = g
	}
	if h.Metrics == nil {
		h.Metrics = metrics.NewRegistry()
	}
	return h
}

func (h *Handler) RazorpayWebhookHandler(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, payment.MethodRazorpay)
}

func (h *Handler) StripeWebhookHandler(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, payment.MethodStripe)
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request, provider payment.Method) {
	ctx := r.Context()
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "webhook"),
		zap.String("provider", string(provider)),
	)

	gw, ok := h.Gateways[provider]
	if !ok {
		utils.WriteJSONError(w, "payment method not configured", http.StatusNotFound)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.WriteJSONError(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		utils.WriteJSONError(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if err := gw.VerifyWebhookSignature(body, r.Header); err != nil {
		h.Metrics.Inc("webhooks.signature_invalid")
		log.Warn("webhook signature rejected", zap.Error(err))
		utils.WriteJSONError(w, "invalid signature", http.StatusBadRequest)
		return
	}

	ev, err := gw.ParseWebhookEvent(body, r.Header)
	if err != nil {
		log.Warn("malformed webhook payload", zap.Error(err))
		utils.WriteJSONError(w, "invalid payload", http.StatusBadRequest)
		return
	}

	log = log.With(
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.Type),
		zap.String("order_id", ev.InternalOrderID),
	)
	h.Metrics.Inc("webhooks.received." + string(provider))

	webhookID, processed, err := h.Repo.SaveWebhookEvent(ctx, payment.WebhookRecord{
		Provider:        provider,
		EventID:         ev.ID,
		EventType:       ev.Type,
		GatewayOrderRef: ev.GatewayOrderID,
		Payload:         body,
		SignatureValid:  true,
	})
	if err != nil {
		log.Error("failed to record webhook", zap.Error(err))
		utils.WriteJSONError(w, "failed to record webhook", http.StatusInternalServerError)
		return
	}
	if processed {
		h.Metrics.Inc("webhooks.duplicate")
		log.Info("duplicate webhook delivery acknowledged")
		writeReceived(w)
		return
	}

	note, err := h.dispatch(ctx, ev)
	if err != nil {
		log.Error("webhook processing failed, gateway will redeliver", zap.Error(err))
		if markErr := h.Repo.MarkWebhookFailed(ctx, webhookID, err.Error()); markErr != nil {
			log.Error("failed to mark webhook failed", zap.Error(markErr))
		}
		utils.WriteJSONError(w, "failed to process webhook", http.StatusInternalServerError)
		return
	}

	if err := h.Repo.MarkWebhookProcessed(ctx, webhookID, note); err != nil {
		// the transition itself is durable; a redelivery replays as a no-op
		log.Error("failed to mark webhook processed", zap.Error(err))
		utils.WriteJSONError(w, "failed to record webhook", http.StatusInternalServerError)
		return
	}

	log.Info("webhook processed", zap.String("note", note))
	writeReceived(w)
}

func writeReceived(w http.ResponseWriter) {
	utils.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// dispatch applies the event. A nil error with a note means the delivery is
// settled, including deliberately discarded ones; an error asks for redelivery.
func (h *Handler) dispatch(ctx context.Context, ev *payment.WebhookEvent) (string, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "webhook"),
		zap.String("event_id", ev.ID),
		zap.String("order_id", ev.InternalOrderID),
	)

	if ev.Kind == payment.EventIgnored {
		return "ignored event type " + ev.Type, nil
	}

	if ev.InternalOrderID == "" {
		h.Metrics.Inc("webhooks.discarded")
		log.Warn("webhook without internal order id")
		return "discarded: missing internal order id", nil
	}

	o, err := h.OrderSvc.GetOrder(ctx, ev.InternalOrderID)
	if err != nil {
		return h.settle(ctx, ev, err)
	}

	if ev.GatewayOrderID != "" && ev.GatewayOrderID != o.GatewayRef() {
		return h.settle(ctx, ev, order.ErrGatewayRefMismatch)
	}

	switch ev.Kind {
	case payment.EventCaptured:
		if ev.AmountMinor > 0 && ev.AmountMinor != o.TotalMinor() {
			h.Metrics.Inc("webhooks.amount_mismatch")
			log.Error("captured amount does not match order total",
				zap.Int64("captured", ev.AmountMinor),
				zap.Int64("expected", o.TotalMinor()),
			)
			return fmt.Sprintf("discarded: amount mismatch webhook=%d order=%d", ev.AmountMinor, o.TotalMinor()), nil
		}

		res, err := h.OrderSvc.MarkAsPaid(ctx, order.MarkPaidInput{
			OrderID:          o.ID,
			GatewayOrderID:   ev.GatewayOrderID,
			GatewayPaymentID: ev.GatewayPaymentID,
			Source:           order.SourceWebhook,
			EventID:          ev.ID,
		})
		if err != nil {
			return h.settle(ctx, ev, err)
		}
		return transitionNote("paid", res), nil

	case payment.EventAuthorized:
		res, err := h.OrderSvc.MarkAsAuthorized(ctx, order.MarkPaidInput{
			OrderID:          o.ID,
			GatewayOrderID:   ev.GatewayOrderID,
			GatewayPaymentID: ev.GatewayPaymentID,
			Source:           order.SourceWebhook,
			EventID:          ev.ID,
		})
		if err != nil {
			return h.settle(ctx, ev, err)
		}
		return transitionNote("authorized", res), nil

	case payment.EventFailed:
		res, err := h.OrderSvc.MarkAsFailed(ctx, order.MarkFailedInput{
			OrderID:          o.ID,
			GatewayOrderID:   ev.GatewayOrderID,
			GatewayPaymentID: ev.GatewayPaymentID,
			Reason:           ev.FailureReason,
			Source:           order.SourceWebhook,
			EventID:          ev.ID,
		})
		if err != nil {
			return h.settle(ctx, ev, err)
		}
		return transitionNote("failed", res), nil
	}

	return "ignored event kind " + ev.Kind.String(), nil
}

// settle turns errors that redelivery cannot fix into an acknowledged note.
func (h *Handler) settle(ctx context.Context, ev *payment.WebhookEvent, err error) (string, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "webhook"),
		zap.String("event_id", ev.ID),
		zap.String("order_id", ev.InternalOrderID),
	)

	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		h.Metrics.Inc("webhooks.discarded")
		log.Warn("webhook for unknown order")
		return "discarded: order not found", nil
	case errors.Is(err, order.ErrGatewayRefMismatch):
		h.Metrics.Inc("webhooks.discarded")
		log.Warn("webhook gateway order id does not match order", zap.String("gateway_order_id", ev.GatewayOrderID))
		return "discarded: gateway order ref mismatch", nil
	case errors.Is(err, order.ErrInvalidTransition):
		h.Metrics.Inc("webhooks.stale")
		log.Info("stale webhook acknowledged", zap.Error(err))
		return "stale: " + err.Error(), nil
	}
	return "", err
}

func transitionNote(state string, res *order.TransitionResult) string {
	if res != nil && !res.Applied && res.Order != nil {
		return "already " + string(res.Order.PaymentStatus)
	}
	return "marked " + state
}
