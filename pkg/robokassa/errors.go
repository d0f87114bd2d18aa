package robokassa

import (
	"errors"
	"fmt"
)

// Validation and configuration errors. All of them are reported
// synchronously by the setter or builder that detected the problem.
var (
	ErrUnsupportedHashAlgorithm = errors.New("unsupported hash algorithm")
	ErrUnsupportedRequestMethod = errors.New("unsupported request method")
	ErrInvalidCulture           = errors.New("unsupported culture")
	ErrInvalidInvoiceID         = errors.New("invoice id must not be negative")
	ErrInvalidExpirationDate    = errors.New("invalid expiration date")
	ErrInvalidSum               = errors.New("sum must be positive")
	ErrEmptySum                 = errors.New("sum is not set")
	ErrEmptyDescription         = errors.New("description is empty")
	ErrEmptyPaymentMethod       = errors.New("payment method is empty")
)

// Result/Code values the web service gives a specific meaning to.
const (
	codeInvoiceNotFound   = 3
	codeCalculateSumError = 5
)

// APIError is a non-zero Result returned by the gateway web service.
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("robokassa: response error (code %d)", e.Code)
	}
	return fmt.Sprintf("robokassa: %s (code %d)", e.Description, e.Code)
}

// Is matches APIErrors by code, so the sentinels below work with errors.Is
// regardless of the description the gateway attached.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Code == e.Code
}

// Typed remote errors.
var (
	// ErrInvoiceNotFound is returned by GetInvoice when the gateway has no
	// record of the requested invoice (Result/Code 3).
	ErrInvoiceNotFound = &APIError{Code: codeInvoiceNotFound}

	// ErrCalculateSum is returned by the rate operations when no rate is
	// applicable to the requested payment method (Result/Code 5).
	ErrCalculateSum = &APIError{Code: codeCalculateSumError}
)
