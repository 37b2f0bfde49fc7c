/*
Package ledger provides the credit ledger core.

PURPOSE:
  This package contains the types and operations for tracking a buyer's
  credit balance. Credits are the platform's internal unit of purchasing
  power: bought through an external payment processor, spent on courses.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: An immutable ledger entry recording a balance change
  - TxKind: purchase (credit), spend (debit), refund (compensation)
  - AccountSummary: balance plus running purchase/spend totals

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified, only compensated
  2. Integer arithmetic: Balances are int64 in the smallest credit unit.
     No floating point ever touches the ledger; external-currency
     conversion lives entirely in the payment package.
  3. Derived balance: The cached balance must always equal the signed
     sum of the account's transactions. The log is the source of truth.
  4. Auditability: Every transaction has a description and, for
     processor-credited purchases, the external payment reference.

SEE ALSO:
  - ledger.go: The balance-mutation API
  - store.go: Persistence interface with the atomic Apply contract
*/
package ledger

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

// AccountID identifies a buyer. It is owned by the external identity
// collaborator; this package treats it as opaque. Accounts are created
// lazily on the first balance-affecting operation.
type AccountID string

type TransactionID string

// =============================================================================
// TRANSACTION - Immutable, append-only ledger entry
// =============================================================================

// TxKind is the business reason for a balance change.
type TxKind string

const (
	// TxPurchase credits an account after a confirmed payment.
	TxPurchase TxKind = "purchase"

	// TxSpend debits an account for a course purchase.
	TxSpend TxKind = "spend"

	// TxRefund is a compensating credit issued when a step that depended
	// on a spend failed after the spend was committed. Logged distinctly
	// from purchases so audits can tell real top-ups from corrections.
	TxRefund TxKind = "refund"
)

// Transaction is a single row in the append-only credit ledger.
// Amount is always the positive magnitude; Signed() applies the kind.
type Transaction struct {
	ID          TransactionID
	AccountID   AccountID
	Kind        TxKind
	Amount      int64 // positive magnitude, smallest credit unit
	Description string
	ExternalRef string // payment reference for purchases, "" otherwise
	CreatedAt   time.Time
}

// Signed returns the balance delta this transaction applies:
// positive for purchase/refund, negative for spend.
func (t Transaction) Signed() int64 {
	if t.Kind == TxSpend {
		return -t.Amount
	}
	return t.Amount
}

// =============================================================================
// ACCOUNT SUMMARY - Derived totals for the balance endpoint
// =============================================================================

// AccountSummary is the projection returned by GET /credit/balance.
// All fields are derived from the transaction log.
type AccountSummary struct {
	AccountID      AccountID
	Balance        int64
	TotalPurchased int64 // sum of purchase + refund amounts
	TotalSpent     int64 // sum of spend amounts
}
