package payment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"sastabazar-be/internal/logger"

	"go.uber.org/zap"
)

const razorpayBaseURL = "https://api.razorpay.com"

type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Currency      string
	Timeout       time.Duration
	// BaseURL overrides the live API host, mostly for tests.
	BaseURL string
}

type razorpayGateway struct {
	keyID         string
	keySecret     string
	webhookSecret string
	currency      string
	baseURL       string
	httpClient    *http.Client
}

func NewRazorpayGateway(cfg RazorpayConfig) Gateway {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		logger.L().Warn("razorpay credentials are empty")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = razorpayBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	webhookSecret := cfg.WebhookSecret
	if webhookSecret == "" {
		webhookSecret = cfg.KeySecret
	}

	return &razorpayGateway{
		keyID:         cfg.KeyID,
		keySecret:     cfg.KeySecret,
		webhookSecret: webhookSecret,
		currency:      cfg.Currency,
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

func (g *razorpayGateway) Method() Method { return MethodRazorpay }

func (g *razorpayGateway) PublicConfig() PublicConfig {
	return PublicConfig{Method: MethodRazorpay, KeyID: g.keyID, Currency: g.currency}
}

// ----------------- CreateOrder -----------------

type razorpayOrder struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Status   string            `json:"status"`
	Notes    map[string]string `json:"notes"`
}

func (g *razorpayGateway) CreateOrder(ctx context.Context, req CreateOrderRequest) (*GatewayOrder, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("gateway", string(MethodRazorpay)),
		zap.String("receipt", req.Receipt),
		zap.Int64("amount", req.AmountMinor),
	)

	body := map[string]interface{}{
		"amount":   req.AmountMinor,
		"currency": req.Currency,
		"receipt":  req.Receipt,
		"notes":    req.Notes,
	}

	var res razorpayOrder
	if err := g.post(ctx, "/v1/orders", body, &res); err != nil {
		log.Error("razorpay create order failed", zap.Error(err))
		return nil, err
	}

	log.Info("razorpay order created", zap.String("gateway_order_id", res.ID))

	return &GatewayOrder{
		ID:       res.ID,
		Amount:   res.Amount,
		Currency: res.Currency,
		Receipt:  res.Receipt,
		Status:   res.Status,
	}, nil
}

// ----------------- Refund -----------------

type razorpayRefund struct {
	ID        string        `json:"id"`
	PaymentID string        `json:"payment_id"`
	Amount    int64         `json:"amount"`
	Currency  string        `json:"currency"`
	Status    string        `json:"status"`
	Notes     razorpayNotes `json:"notes"`
	CreatedAt int64         `json:"created_at"`
}

func (g *razorpayGateway) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("gateway", string(MethodRazorpay)),
		zap.String("payment_id", req.PaymentID),
	)

	body := map[string]interface{}{"notes": req.Notes}
	if req.AmountMinor != nil {
		body["amount"] = *req.AmountMinor
	}

	var res razorpayRefund
	path := "/v1/payments/" + url.PathEscape(req.PaymentID) + "/refund"
	if err := g.post(ctx, path, body, &res); err != nil {
		log.Error("razorpay refund failed", zap.Error(err))
		return nil, err
	}

	log.Info("razorpay refund created",
		zap.String("refund_id", res.ID),
		zap.Int64("amount", res.Amount),
		zap.String("status", res.Status),
	)

	return &Refund{
		ID:        res.ID,
		PaymentID: res.PaymentID,
		Amount:    res.Amount,
		Currency:  res.Currency,
		Status:    res.Status,
		Notes:     res.Notes,
		CreatedAt: time.Unix(res.CreatedAt, 0).UTC(),
	}, nil
}

func (g *razorpayGateway) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal razorpay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("build razorpay request: %w", err)
	}
	req.SetBasicAuth(g.keyID, g.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: razorpay request: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read razorpay response: %v", ErrGateway, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		}
		_ = json.Unmarshal(bodyBytes, &apiErr)
		return &APIError{
			Provider:    MethodRazorpay,
			StatusCode:  resp.StatusCode,
			Code:        apiErr.Error.Code,
			Description: apiErr.Error.Description,
		}
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("%w: decode razorpay response: %v", ErrGateway, err)
	}
	return nil
}

// ----------------- Signatures -----------------

func (g *razorpayGateway) VerifyPaymentSignature(gatewayOrderID, gatewayPaymentID, signature string) error {
	if !validHexMAC(g.keySecret, []byte(gatewayOrderID+"|"+gatewayPaymentID), signature) {
		return ErrInvalidSignature
	}
	return nil
}

func (g *razorpayGateway) VerifyWebhookSignature(body []byte, header http.Header) error {
	if !validHexMAC(g.webhookSecret, body, header.Get("X-Razorpay-Signature")) {
		return ErrInvalidSignature
	}
	return nil
}

// ----------------- Webhook events -----------------

// razorpayNotes tolerates the empty array Razorpay sends when no notes were set.
type razorpayNotes map[string]string

func (n *razorpayNotes) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		*n = nil
		return nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	out := make(razorpayNotes, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		} else if v != nil {
			out[k] = fmt.Sprint(v)
		}
	}
	*n = out
	return nil
}

type razorpayPaymentEntity struct {
	ID               string        `json:"id"`
	OrderID          string        `json:"order_id"`
	Amount           int64         `json:"amount"`
	Status           string        `json:"status"`
	Notes            razorpayNotes `json:"notes"`
	ErrorCode        string        `json:"error_code"`
	ErrorDescription string        `json:"error_description"`
}

type razorpayOrderEntity struct {
	ID     string        `json:"id"`
	Amount int64         `json:"amount"`
	Notes  razorpayNotes `json:"notes"`
}

type razorpayEnvelope struct {
	Event     string `json:"event"`
	EventID   string `json:"event_id"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment *struct {
			Entity razorpayPaymentEntity `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity razorpayOrderEntity `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

func (g *razorpayGateway) ParseWebhookEvent(body []byte, header http.Header) (*WebhookEvent, error) {
	var env razorpayEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event", ErrMalformedEvent)
	}

	ev := &WebhookEvent{
		Provider: MethodRazorpay,
		ID:       webhookEventID(env.EventID, header.Get("X-Razorpay-Event-Id"), body),
		Type:     env.Event,
		Payload:  json.RawMessage(body),
	}

	var notes razorpayNotes
	if p := env.Payload.Payment; p != nil {
		ev.GatewayPaymentID = p.Entity.ID
		ev.GatewayOrderID = p.Entity.OrderID
		ev.AmountMinor = p.Entity.Amount
		notes = p.Entity.Notes
		ev.FailureReason = p.Entity.ErrorDescription
		if ev.FailureReason == "" {
			ev.FailureReason = p.Entity.ErrorCode
		}
	}
	if o := env.Payload.Order; o != nil {
		if o.Entity.ID != "" {
			ev.GatewayOrderID = o.Entity.ID
		}
		if id := o.Entity.Notes["internal_order_id"]; id != "" {
			ev.InternalOrderID = id
		}
	}
	if ev.InternalOrderID == "" {
		ev.InternalOrderID = notes["internal_order_id"]
	}

	switch env.Event {
	case "payment.captured", "order.paid":
		ev.Kind = EventCaptured
	case "payment.authorized":
		ev.Kind = EventAuthorized
	case "payment.failed":
		ev.Kind = EventFailed
		if ev.FailureReason == "" {
			ev.FailureReason = "payment failed"
		}
	default:
		ev.Kind = EventIgnored
	}

	return ev, nil
}

// webhookEventID falls back to a body digest so redeliveries still dedupe.
func webhookEventID(bodyID, headerID string, body []byte) string {
	if bodyID != "" {
		return bodyID
	}
	if headerID != "" {
		return headerID
	}
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:])
}
