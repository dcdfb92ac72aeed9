package payment

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSignature = errors.New("invalid payment signature")
	ErrGateway          = errors.New("payment gateway error")
	ErrUnsupported      = errors.New("operation not supported by gateway")
	ErrMalformedEvent   = errors.New("malformed webhook event")
	ErrUnknownMethod    = errors.New("unknown payment method")
)

// APIError is a non-2xx answer from a gateway.
type APIError struct {
	Provider    Method
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s %s", e.Provider, e.StatusCode, e.Code, e.Description)
}

func (e *APIError) Unwrap() error {
	return ErrGateway
}
