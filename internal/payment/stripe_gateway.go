package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sastabazar-be/internal/logger"

	"go.uber.org/zap"
)

const (
	stripeBaseURL = "https://api.stripe.com"
	// Stripe's own libraries reject events signed more than five minutes ago.
	stripeSignatureTolerance = 5 * time.Minute
)

type StripeConfig struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
	Currency       string
	SuccessURL     string
	CancelURL      string
	Timeout        time.Duration
	BaseURL        string
}

type stripeGateway struct {
	secretKey      string
	publishableKey string
	webhookSecret  string
	currency       string
	successURL     string
	cancelURL      string
	baseURL        string
	httpClient     *http.Client
	now            func() time.Time
}

func NewStripeGateway(cfg StripeConfig) Gateway {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &stripeGateway{
		secretKey:      cfg.SecretKey,
		publishableKey: cfg.PublishableKey,
		webhookSecret:  cfg.WebhookSecret,
		currency:       cfg.Currency,
		successURL:     cfg.SuccessURL,
		cancelURL:      cfg.CancelURL,
		baseURL:        baseURL,
		httpClient:     &http.Client{Timeout: timeout},
		now:            time.Now,
	}
}

func (g *stripeGateway) Method() Method { return MethodStripe }

func (g *stripeGateway) PublicConfig() PublicConfig {
	return PublicConfig{Method: MethodStripe, PublishableKey: g.publishableKey, Currency: g.currency}
}

// ----------------- Checkout session -----------------

type stripeCheckoutSession struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	PaymentIntent     string            `json:"payment_intent"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

func (g *stripeGateway) CreateOrder(ctx context.Context, req CreateOrderRequest) (*GatewayOrder, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("gateway", string(MethodStripe)),
		zap.String("receipt", req.Receipt),
		zap.Int64("amount", req.AmountMinor),
	)

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", g.successURL+"?session_id={CHECKOUT_SESSION_ID}")
	form.Set("cancel_url", g.cancelURL)
	form.Set("client_reference_id", req.Notes["internal_order_id"])
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.AmountMinor, 10))
	form.Set("line_items[0][price_data][product_data][name]", "Order "+req.Receipt)
	for k, v := range req.Notes {
		form.Set("metadata["+k+"]", v)
		form.Set("payment_intent_data[metadata]["+k+"]", v)
	}

	var res stripeCheckoutSession
	if err := g.post(ctx, "/v1/checkout/sessions", form, &res); err != nil {
		log.Error("stripe checkout session failed", zap.Error(err))
		return nil, err
	}

	log.Info("stripe checkout session created", zap.String("session_id", res.ID))

	return &GatewayOrder{
		ID:          res.ID,
		Amount:      res.AmountTotal,
		Currency:    strings.ToUpper(res.Currency),
		Receipt:     req.Receipt,
		Status:      res.Status,
		CheckoutURL: res.URL,
	}, nil
}

// ----------------- Refund -----------------

type stripeRefund struct {
	ID            string            `json:"id"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Status        string            `json:"status"`
	PaymentIntent string            `json:"payment_intent"`
	Metadata      map[string]string `json:"metadata"`
	Created       int64             `json:"created"`
}

func (g *stripeGateway) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("gateway", string(MethodStripe)),
		zap.String("payment_id", req.PaymentID),
	)

	form := url.Values{}
	form.Set("payment_intent", req.PaymentID)
	if req.AmountMinor != nil {
		form.Set("amount", strconv.FormatInt(*req.AmountMinor, 10))
	}
	for k, v := range req.Notes {
		form.Set("metadata["+k+"]", v)
	}

	var res stripeRefund
	if err := g.post(ctx, "/v1/refunds", form, &res); err != nil {
		log.Error("stripe refund failed", zap.Error(err))
		return nil, err
	}

	log.Info("stripe refund created",
		zap.String("refund_id", res.ID),
		zap.Int64("amount", res.Amount),
		zap.String("status", res.Status),
	)

	return &Refund{
		ID:        res.ID,
		PaymentID: res.PaymentIntent,
		Amount:    res.Amount,
		Currency:  strings.ToUpper(res.Currency),
		Status:    res.Status,
		Notes:     res.Metadata,
		CreatedAt: time.Unix(res.Created, 0).UTC(),
	}, nil
}

func (g *stripeGateway) post(ctx context.Context, path string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: stripe request: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read stripe response: %v", ErrGateway, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Code    string `json:"code"`
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(bodyBytes, &apiErr)
		code := apiErr.Error.Code
		if code == "" {
			code = apiErr.Error.Type
		}
		return &APIError{
			Provider:    MethodStripe,
			StatusCode:  resp.StatusCode,
			Code:        code,
			Description: apiErr.Error.Message,
		}
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("%w: decode stripe response: %v", ErrGateway, err)
	}
	return nil
}

// ----------------- Signatures -----------------

// VerifyPaymentSignature is not part of the Stripe flow; checkout sessions are confirmed by webhook.
func (g *stripeGateway) VerifyPaymentSignature(string, string, string) error {
	return ErrUnsupported
}

func (g *stripeGateway) VerifyWebhookSignature(body []byte, header http.Header) error {
	sigHeader := header.Get("Stripe-Signature")
	if sigHeader == "" {
		return ErrInvalidSignature
	}

	var (
		timestamp  string
		signatures []string
	)
	for _, part := range strings.Split(sigHeader, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			signatures = append(signatures, v)
		}
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil || len(signatures) == 0 {
		return ErrInvalidSignature
	}
	age := g.now().Sub(time.Unix(ts, 0))
	if math.Abs(float64(age)) > float64(stripeSignatureTolerance) {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	signed := append([]byte(timestamp+"."), body...)
	for _, sig := range signatures {
		if validHexMAC(g.webhookSecret, signed, sig) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// ----------------- Webhook events -----------------

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

func (g *stripeGateway) ParseWebhookEvent(body []byte, _ http.Header) (*WebhookEvent, error) {
	var env stripeEvent
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}

	ev := &WebhookEvent{
		Provider: MethodStripe,
		ID:       env.ID,
		Type:     env.Type,
		Kind:     EventIgnored,
		Payload:  json.RawMessage(body),
	}

	if !strings.HasPrefix(env.Type, "checkout.session.") {
		return ev, nil
	}

	var session stripeCheckoutSession
	if err := json.Unmarshal(env.Data.Object, &session); err != nil {
		return nil, fmt.Errorf("%w: checkout session: %v", ErrMalformedEvent, err)
	}

	ev.GatewayOrderID = session.ID
	ev.GatewayPaymentID = session.PaymentIntent
	ev.AmountMinor = session.AmountTotal
	ev.InternalOrderID = session.Metadata["internal_order_id"]
	if ev.InternalOrderID == "" {
		ev.InternalOrderID = session.ClientReferenceID
	}

	switch env.Type {
	case "checkout.session.completed":
		// delayed methods complete with payment_status "unpaid" and settle later
		if session.PaymentStatus == "paid" {
			ev.Kind = EventCaptured
		}
	case "checkout.session.async_payment_succeeded":
		ev.Kind = EventCaptured
	case "checkout.session.async_payment_failed":
		ev.Kind = EventFailed
		ev.FailureReason = "async payment failed"
	case "checkout.session.expired":
		ev.Kind = EventFailed
		ev.FailureReason = "checkout session expired"
	}

	return ev, nil
}
