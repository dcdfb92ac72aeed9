package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockRoundTripper allows us to mock the HTTP response
type MockRoundTripper func(req *http.Request) *http.Response

func (f MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

type MockRoundTripperWithError func(req *http.Request) (*http.Response, error)

func (f MockRoundTripperWithError) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

func newTestRazorpay() *razorpayGateway {
	return NewRazorpayGateway(RazorpayConfig{
		KeyID:     "rzp_test_key",
		KeySecret: "key_secret",
		Currency:  "INR",
	}).(*razorpayGateway)
}

func TestRazorpayGateway_CreateOrder(t *testing.T) {
	gw := newTestRazorpay()
	req := CreateOrderRequest{
		AmountMinor: 122900,
		Currency:    "INR",
		Receipt:     "SB-20240309-103000-123-0001",
		Notes:       map[string]string{"internal_order_id": "o-1"},
	}

	t.Run("Success", func(t *testing.T) {
		gw.httpClient.Transport = MockRoundTripper(func(r *http.Request) *http.Response {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "https://api.razorpay.com/v1/orders", r.URL.String())

			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "rzp_test_key", user)
			assert.Equal(t, "key_secret", pass)

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, float64(122900), body["amount"])
			assert.Equal(t, "SB-20240309-103000-123-0001", body["receipt"])

			return jsonResponse(http.StatusOK, `{
				"id": "order_Abc123",
				"entity": "order",
				"amount": 122900,
				"currency": "INR",
				"receipt": "SB-20240309-103000-123-0001",
				"status": "created"
			}`)
		})

		order, err := gw.CreateOrder(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "order_Abc123", order.ID)
		assert.Equal(t, int64(122900), order.Amount)
		assert.Equal(t, "created", order.Status)
	})

	t.Run("APIError", func(t *testing.T) {
		gw.httpClient.Transport = MockRoundTripper(func(r *http.Request) *http.Response {
			return jsonResponse(http.StatusBadRequest, `{"error":{"code":"BAD_REQUEST_ERROR","description":"amount exceeds maximum"}}`)
		})

		_, err := gw.CreateOrder(context.Background(), req)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrGateway)

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "BAD_REQUEST_ERROR", apiErr.Code)
	})

	t.Run("TransportError", func(t *testing.T) {
		gw.httpClient.Transport = MockRoundTripperWithError(func(r *http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		})

		_, err := gw.CreateOrder(context.Background(), req)
		assert.ErrorIs(t, err, ErrGateway)
	})
}

func TestRazorpayGateway_Refund(t *testing.T) {
	gw := newTestRazorpay()
	amount := int64(50000)

	gw.httpClient.Transport = MockRoundTripper(func(r *http.Request) *http.Response {
		assert.Equal(t, "https://api.razorpay.com/v1/payments/pay_1/refund", r.URL.String())

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(50000), body["amount"])

		return jsonResponse(http.StatusOK, `{
			"id": "rfnd_1",
			"entity": "refund",
			"amount": 50000,
			"currency": "INR",
			"payment_id": "pay_1",
			"notes": {"reason": "damaged"},
			"status": "processed",
			"created_at": 1700000000
		}`)
	})

	refund, err := gw.Refund(context.Background(), RefundRequest{
		PaymentID:   "pay_1",
		AmountMinor: &amount,
		Notes:       map[string]string{"reason": "damaged"},
	})
	require.NoError(t, err)
	assert.Equal(t, "rfnd_1", refund.ID)
	assert.Equal(t, "processed", refund.Status)
	assert.Equal(t, "damaged", refund.Notes["reason"])
}

func TestRazorpayGateway_Signatures(t *testing.T) {
	gw := newTestRazorpay()

	t.Run("PaymentSignature", func(t *testing.T) {
		sig := SignRazorpayPayment("key_secret", "order_1", "pay_1")
		assert.NoError(t, gw.VerifyPaymentSignature("order_1", "pay_1", sig))
		assert.ErrorIs(t, gw.VerifyPaymentSignature("order_1", "pay_2", sig), ErrInvalidSignature)
	})

	t.Run("WebhookFallsBackToKeySecret", func(t *testing.T) {
		body := []byte(`{"event":"payment.captured"}`)
		h := http.Header{}
		h.Set("X-Razorpay-Signature", SignRazorpayWebhook("key_secret", body))
		assert.NoError(t, gw.VerifyWebhookSignature(body, h))
	})

	t.Run("WebhookUsesDedicatedSecret", func(t *testing.T) {
		gw := NewRazorpayGateway(RazorpayConfig{KeyID: "k", KeySecret: "key_secret", WebhookSecret: "hook"})
		body := []byte(`{"event":"payment.captured"}`)

		h := http.Header{}
		h.Set("X-Razorpay-Signature", SignRazorpayWebhook("key_secret", body))
		assert.ErrorIs(t, gw.VerifyWebhookSignature(body, h), ErrInvalidSignature)

		h.Set("X-Razorpay-Signature", SignRazorpayWebhook("hook", body))
		assert.NoError(t, gw.VerifyWebhookSignature(body, h))
	})

	t.Run("MissingHeader", func(t *testing.T) {
		assert.ErrorIs(t, gw.VerifyWebhookSignature([]byte(`{}`), http.Header{}), ErrInvalidSignature)
	})
}

func TestRazorpayGateway_ParseWebhookEvent(t *testing.T) {
	gw := newTestRazorpay()

	t.Run("PaymentCaptured", func(t *testing.T) {
		body := []byte(`{
			"event": "payment.captured",
			"event_id": "evt_1",
			"payload": {"payment": {"entity": {
				"id": "pay_1", "order_id": "order_1", "amount": 122900, "status": "captured",
				"notes": {"internal_order_id": "o-1", "owner_id": 7}
			}}}
		}`)

		ev, err := gw.ParseWebhookEvent(body, http.Header{})
		require.NoError(t, err)
		assert.Equal(t, EventCaptured, ev.Kind)
		assert.Equal(t, "evt_1", ev.ID)
		assert.Equal(t, "o-1", ev.InternalOrderID)
		assert.Equal(t, "order_1", ev.GatewayOrderID)
		assert.Equal(t, "pay_1", ev.GatewayPaymentID)
	})

	t.Run("OrderPaidReadsOrderNotes", func(t *testing.T) {
		body := []byte(`{
			"event": "order.paid",
			"payload": {
				"payment": {"entity": {"id": "pay_2", "order_id": "order_2", "notes": []}},
				"order": {"entity": {"id": "order_2", "notes": {"internal_order_id": "o-2"}}}
			}
		}`)
		h := http.Header{}
		h.Set("X-Razorpay-Event-Id", "hdr_evt")

		ev, err := gw.ParseWebhookEvent(body, h)
		require.NoError(t, err)
		assert.Equal(t, EventCaptured, ev.Kind)
		assert.Equal(t, "hdr_evt", ev.ID)
		assert.Equal(t, "o-2", ev.InternalOrderID)
	})

	t.Run("PaymentFailedCarriesReason", func(t *testing.T) {
		body := []byte(`{"event":"payment.failed","payload":{"payment":{"entity":{
			"id":"pay_3","order_id":"order_3","notes":{"internal_order_id":"o-3"},
			"error_code":"BAD_REQUEST_ERROR","error_description":"Card declined"}}}}`)

		ev, err := gw.ParseWebhookEvent(body, http.Header{})
		require.NoError(t, err)
		assert.Equal(t, EventFailed, ev.Kind)
		assert.Equal(t, "Card declined", ev.FailureReason)
		assert.Contains(t, ev.ID, "sha256:")
	})

	t.Run("PaymentAuthorized", func(t *testing.T) {
		ev, err := gw.ParseWebhookEvent([]byte(`{"event":"payment.authorized","payload":{}}`), http.Header{})
		require.NoError(t, err)
		assert.Equal(t, EventAuthorized, ev.Kind)
	})

	t.Run("UnknownEventIsIgnored", func(t *testing.T) {
		ev, err := gw.ParseWebhookEvent([]byte(`{"event":"refund.processed","payload":{}}`), http.Header{})
		require.NoError(t, err)
		assert.Equal(t, EventIgnored, ev.Kind)
	})

	t.Run("Malformed", func(t *testing.T) {
		_, err := gw.ParseWebhookEvent([]byte(`{not json`), http.Header{})
		assert.ErrorIs(t, err, ErrMalformedEvent)

		_, err = gw.ParseWebhookEvent([]byte(`{"payload":{}}`), http.Header{})
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})
}

func TestRazorpayGateway_PublicConfig(t *testing.T) {
	cfg := newTestRazorpay().PublicConfig()
	assert.Equal(t, "rzp_test_key", cfg.KeyID)
	assert.Equal(t, "INR", cfg.Currency)

	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "key_secret")
}
