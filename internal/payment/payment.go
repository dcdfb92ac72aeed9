package payment

import (
	"context"
	"net/http"
)

type Gateway interface {
	Method() Method
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*GatewayOrder, error)
	// VerifyPaymentSignature checks the client side confirmation handed back after checkout.
	VerifyPaymentSignature(gatewayOrderID, gatewayPaymentID, signature string) error
	// VerifyWebhookSignature must run on the raw body before it is parsed.
	VerifyWebhookSignature(body []byte, header http.Header) error
	ParseWebhookEvent(body []byte, header http.Header) (*WebhookEvent, error)
	Refund(ctx context.Context, req RefundRequest) (*Refund, error)
	PublicConfig() PublicConfig
}
