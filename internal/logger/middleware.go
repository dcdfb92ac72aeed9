package logger

import (
	"net/http"

	"github.com/google/uuid"
)

const (
	RequestIDHeader     = "X-Request-ID"
	RazorpayEventHeader = "X-Razorpay-Event-Id"

	maxRequestIDLen = 128
)

// RequestIDMiddleware tags each request with a correlation id. A caller supplied
// X-Request-ID wins; webhook deliveries fall back to the gateway's event id so a
// redelivery can be traced across logs.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := correlationID(r)

		ctx := WithRequestID(r.Context(), reqID)
		w.Header().Set(RequestIDHeader, reqID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func correlationID(r *http.Request) string {
	for _, h := range []string{RequestIDHeader, RazorpayEventHeader} {
		if v := r.Header.Get(h); validRequestID(v) {
			return v
		}
	}
	return uuid.New().String()
}

// validRequestID keeps inbound ids printable and bounded; they end up in every log line.
func validRequestID(v string) bool {
	if v == "" || len(v) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 0x21 || v[i] > 0x7e {
			return false
		}
	}
	return true
}
