package repositories

import "fmt"

// LedgerErrorCode enumerates repository failure causes for ledger writes.
type LedgerErrorCode string

const (
	// LedgerErrorUnknown represents an unspecified failure.
	LedgerErrorUnknown LedgerErrorCode = "ledger_unknown"
	// LedgerErrorProductNotFound indicates the product document is missing.
	LedgerErrorProductNotFound LedgerErrorCode = "ledger_product_not_found"
	// LedgerErrorChainMismatch indicates the mutation was built on a stale chain head.
	LedgerErrorChainMismatch LedgerErrorCode = "ledger_chain_mismatch"
)

// LedgerError wraps ledger failures with machine readable codes.
type LedgerError struct {
	Op        string
	Code      LedgerErrorCode
	ProductID string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *LedgerError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *LedgerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the product was missing.
func (e *LedgerError) IsNotFound() bool {
	return e != nil && e.Code == LedgerErrorProductNotFound
}

// NewLedgerError constructs a typed ledger error.
func NewLedgerError(code LedgerErrorCode, productID, message string, err error) *LedgerError {
	if message == "" {
		message = string(code)
	}
	return &LedgerError{Code: code, ProductID: productID, Message: message, Err: err}
}
