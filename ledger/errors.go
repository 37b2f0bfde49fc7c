/*
errors.go - Centralized error types for the ledger core

PURPOSE:
  All ledger error types in one place for consistency and
  discoverability. The payment and enroll packages wrap or propagate
  these; the api package maps them to HTTP status codes.

ERROR CATEGORIES:
  1. Validation errors - bad amounts, rejected before any mutation
  2. Conflict errors - duplicate payment reference (a harmless replay)
  3. Resource errors - insufficient balance

USAGE:
  Callers match with errors.Is:

    if errors.Is(err, ledger.ErrInsufficientBalance) {
        // 400 at the HTTP edge, no state was changed
    }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when a credit or debit amount is not
	// strictly positive. Rejected before any store call.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientBalance is returned when a spend would drive the
	// balance negative. The debit is rejected, never clamped.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateReference is returned by the store when a payment
	// reference has already been claimed. CreditLedger.Credit treats it
	// as a successful no-op: webhook replays must be harmless.
	ErrDuplicateReference = errors.New("duplicate payment reference")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	AccountID AccountID
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %d, requested %d",
		e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}
