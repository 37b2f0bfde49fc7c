/*
ledger.go - The balance-mutation API

PURPOSE:
  CreditLedger is the only API through which balances change. It
  composes the Store's atomic Apply with input validation and the
  replay-safety rule for payment references.

CRITICAL INVARIANTS:
  1. balance == sum of signed transaction amounts, always
  2. balance >= 0, enforced inside the store's atomic unit
  3. one external payment reference => at most one purchase transaction

REPLAY SAFETY:
  Credit with an external reference that was already claimed returns
  the CURRENT balance and no error. The payment processor retries
  confirmations; a retry must look like success to the caller while
  changing nothing.

NUMERIC SEMANTICS:
  All amounts are int64 in the smallest credit unit. Floating point is
  never used here; external-currency pricing stays in the payment
  package.

SEE ALSO:
  - store.go: the atomic persistence contract
  - payment/gateway.go: turns processor confirmations into Credit calls
  - enroll/coordinator.go: turns course purchases into Debit calls
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CREDIT LEDGER
// =============================================================================

// CreditLedger exposes safe credit and debit operations over a Store.
// It is stateless; all synchronization lives in the store.
type CreditLedger struct {
	store Store
}

func New(store Store) *CreditLedger {
	return &CreditLedger{store: store}
}

// Credit adds amount credits to the account as a purchase transaction.
// The second return value reports whether a transaction was actually
// appended: callers counting credits must not count replays twice.
//
// If externalRef is non-empty and was already claimed, the call is a
// successful no-op returning the current balance and false:
// confirmation delivery is at-least-once, so the handler must be
// exactly-once.
func (l *CreditLedger) Credit(ctx context.Context, accountID AccountID, amount int64, description, externalRef string) (int64, bool, error) {
	if amount <= 0 {
		return 0, false, fmt.Errorf("credit %d: %w", amount, ErrInvalidAmount)
	}

	balance, err := l.store.Apply(ctx, Transaction{
		ID:          newTransactionID(),
		AccountID:   accountID,
		Kind:        TxPurchase,
		Amount:      amount,
		Description: description,
		ExternalRef: externalRef,
		CreatedAt:   time.Now().UTC(),
	})
	if errors.Is(err, ErrDuplicateReference) {
		// Replay. Report the balance as it stands.
		balance, err := l.store.Balance(ctx, accountID)
		return balance, false, err
	}
	if err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

// Debit removes amount credits from the account as a spend transaction.
// Surfaces ErrInsufficientBalance unchanged; the store guarantees the
// check and the write happen in one atomic unit.
func (l *CreditLedger) Debit(ctx context.Context, accountID AccountID, amount int64, description string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit %d: %w", amount, ErrInvalidAmount)
	}

	return l.store.Apply(ctx, Transaction{
		ID:          newTransactionID(),
		AccountID:   accountID,
		Kind:        TxSpend,
		Amount:      amount,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	})
}

// Refund issues a compensating credit, logged distinctly from a normal
// purchase. Used when a step that depended on a spend failed after the
// spend committed.
func (l *CreditLedger) Refund(ctx context.Context, accountID AccountID, amount int64, description string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("refund %d: %w", amount, ErrInvalidAmount)
	}

	return l.store.Apply(ctx, Transaction{
		ID:          newTransactionID(),
		AccountID:   accountID,
		Kind:        TxRefund,
		Amount:      amount,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	})
}

// Balance is a thin pass-through to the store.
func (l *CreditLedger) Balance(ctx context.Context, accountID AccountID) (int64, error) {
	return l.store.Balance(ctx, accountID)
}

// Summary returns balance plus running totals for the account.
func (l *CreditLedger) Summary(ctx context.Context, accountID AccountID) (AccountSummary, error) {
	return l.store.Summary(ctx, accountID)
}

// Transactions returns the account's transaction history, oldest first.
func (l *CreditLedger) Transactions(ctx context.Context, accountID AccountID) ([]Transaction, error) {
	return l.store.Transactions(ctx, accountID)
}

func newTransactionID() TransactionID {
	return TransactionID("tx-" + uuid.NewString())
}
