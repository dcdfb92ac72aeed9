package order

import (
	"errors"
	"fmt"

	"sastabazar-be/internal/payment"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrValidation           = errors.New("validation failed")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrProductUnavailable   = errors.New("product unavailable")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrInvalidTransition    = errors.New("invalid payment state transition")
	ErrGatewayRefMismatch   = errors.New("gateway order reference mismatch")
	ErrGatewayRefAlreadySet = errors.New("gateway order reference already set")
	ErrRefundNotRecorded    = errors.New("refund succeeded at gateway but was not recorded")
	ErrForbidden            = errors.New("forbidden")
)

type ProductUnavailableError struct {
	ProductID  string
	Name       string
	Reason     string
	OutOfStock bool
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %q unavailable: %s", e.Name, e.Reason)
}

func (e *ProductUnavailableError) Unwrap() []error {
	if e.OutOfStock {
		return []error{ErrProductUnavailable, ErrInsufficientStock}
	}
	return []error{ErrProductUnavailable}
}

// GatewayError wraps a failed remote session; the local order stays pending.
type GatewayError struct {
	Method  payment.Method
	OrderID string
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s create order for %s: %v", e.Method, e.OrderID, e.Err)
}

func (e *GatewayError) Unwrap() []error {
	return []error{payment.ErrGateway, e.Err}
}

type RefundError struct {
	Method    payment.Method
	PaymentID string
	Err       error
}

func (e *RefundError) Error() string {
	return fmt.Sprintf("%s refund of %s: %v", e.Method, e.PaymentID, e.Err)
}

func (e *RefundError) Unwrap() []error {
	return []error{payment.ErrGateway, e.Err}
}

// RefundNotRecordedError carries the remote refund so an operator can reconcile it.
type RefundNotRecordedError struct {
	Refund  *payment.Refund
	OrderID string
	Err     error
}

func (e *RefundNotRecordedError) Error() string {
	return fmt.Sprintf("refund %s for order %s not recorded: %v", e.Refund.ID, e.OrderID, e.Err)
}

func (e *RefundNotRecordedError) Unwrap() []error {
	return []error{ErrRefundNotRecorded, e.Err}
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
