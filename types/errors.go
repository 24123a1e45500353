package types

import "fmt"

// ErrorCode is a stable machine-readable verification failure code,
// deliberately distinct from the human-readable message.
type ErrorCode string

const (
	// Transaction fetch
	ErrTransactionNotFound ErrorCode = "transaction_not_found"
	ErrTransactionFailed   ErrorCode = "transaction_failed"

	// Transfer matching
	ErrNoMatchingTransfer ErrorCode = "no_matching_transfer"
	ErrWrongRecipient     ErrorCode = "wrong_recipient"
	ErrInsufficientAmount ErrorCode = "insufficient_amount"

	// Reference / memo
	ErrInvalidReference ErrorCode = "invalid_reference"
	ErrReferenceExpired ErrorCode = "reference_expired"

	// Finality
	ErrStatusUnknown             ErrorCode = "status_unknown"
	ErrNotConfirmed              ErrorCode = "not_confirmed"
	ErrInsufficientConfirmations ErrorCode = "insufficient_confirmations"

	// Pre-flight
	ErrInvalidProof       ErrorCode = "invalid_proof"
	ErrUnsupportedNetwork ErrorCode = "unsupported_network"
)

// VerificationError is the typed failure of a payment verification.
// Chain-qualified via Network; exhaustive handling at the response-mapping
// boundary switches on Code.
type VerificationError struct {
	Code    ErrorCode `json:"code"`
	Network Network   `json:"chain,omitempty"`
	Message string    `json:"message"`

	// Confirmations reached so far, reported alongside finality rejections
	// so callers can expose partial-confidence status.
	Confirmations uint64 `json:"confirmations,omitempty"`
}

func (e *VerificationError) Error() string {
	if e.Network != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Network, e.Message, e.Code)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// NewVerificationError builds a chain-qualified verification failure.
func NewVerificationError(network Network, code ErrorCode, format string, args ...any) *VerificationError {
	return &VerificationError{
		Code:    code,
		Network: network,
		Message: fmt.Sprintf(format, args...),
	}
}

// AsVerificationError unwraps err into a *VerificationError if it is one.
func AsVerificationError(err error) (*VerificationError, bool) {
	ve, ok := err.(*VerificationError)
	return ve, ok
}
