package transport

import (
	"errors"
	"net/http"

	"sastabazar-be/internal/order"
	"sastabazar-be/internal/payment"
)

// StatusFor maps service errors to HTTP status codes. Unknown errors are 500.
func StatusFor(err error) int {
	var (
		gatewayErr *order.GatewayError
		refundErr  *order.RefundError
	)

	switch {
	case errors.Is(err, order.ErrRefundNotRecorded):
		return http.StatusInternalServerError
	case errors.Is(err, order.ErrValidation),
		errors.Is(err, payment.ErrInvalidSignature),
		errors.Is(err, payment.ErrUnknownMethod),
		errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrGatewayRefMismatch):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, order.ErrProductUnavailable),
		errors.Is(err, order.ErrInsufficientStock),
		errors.Is(err, order.ErrInvalidTransition):
		return http.StatusConflict
	case errors.As(err, &gatewayErr), errors.As(err, &refundErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// clientMessage hides internal failures behind a generic message.
func clientMessage(err error, status int) string {
	switch status {
	case http.StatusInternalServerError:
		if errors.Is(err, order.ErrRefundNotRecorded) {
			return "refund issued but not recorded on the order"
		}
		return "internal server error"
	case http.StatusBadGateway:
		return "payment gateway error"
	}
	return err.Error()
}

type errorResponse struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	RefundID string `json:"refundId,omitempty"`
}

func newErrorResponse(err error) (int, errorResponse) {
	status := StatusFor(err)
	resp := errorResponse{Error: clientMessage(err, status)}

	var unrecorded *order.RefundNotRecordedError
	if errors.As(err, &unrecorded) && unrecorded.Refund != nil {
		resp.RefundID = unrecorded.Refund.ID
	}
	return status, resp
}
