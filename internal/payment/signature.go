package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

func hmacSHA256(secret string, message []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return mac.Sum(nil)
}

// validHexMAC compares in constant time; a signature that is not hex never matches.
func validHexMAC(secret string, message []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(got, hmacSHA256(secret, message))
}

// SignRazorpayPayment is what checkout.js returns as razorpay_signature.
func SignRazorpayPayment(secret, gatewayOrderID, gatewayPaymentID string) string {
	return hex.EncodeToString(hmacSHA256(secret, []byte(gatewayOrderID+"|"+gatewayPaymentID)))
}

func SignRazorpayWebhook(secret string, body []byte) string {
	return hex.EncodeToString(hmacSHA256(secret, body))
}

// SignStripeWebhook builds a Stripe-Signature header value for body at timestamp.
func SignStripeWebhook(secret string, timestamp int64, body []byte) string {
	ts := strconv.FormatInt(timestamp, 10)
	mac := hmacSHA256(secret, append([]byte(ts+"."), body...))
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac)
}
