/*
store.go - Persistence interface for accounts and the transaction log

PURPOSE:
  Defines the interface between the ledger logic and the database.
  The Store is the only component permitted to persist balance
  mutations, and Apply is its only write operation.

APPEND-ONLY CONTRACT:
  - Apply(): appends one transaction and updates the cached balance
  - NO Update() or Delete() methods exist
  - Corrections are made via refund transactions, not edits

ATOMICITY:
  Apply performs three things as ONE unit of work:
    1. For a spend, assert the resulting balance stays >= 0
    2. Append the transaction
    3. Update the cached balance
  No read-then-write gap is observable across concurrent callers on the
  same account. Either every effect is durable or none is.

IDEMPOTENCY:
  When a transaction carries an external payment reference, Apply also
  claims that reference in the same unit of work. A reference that was
  already claimed makes Apply fail with ErrDuplicateReference and write
  nothing. Claims are permanent - a webhook replayed arbitrarily far in
  the future must never re-credit an account.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite (one SQL transaction per Apply)
  - store/memory: in-memory for testing

SEE ALSO:
  - ledger.go: CreditLedger, the API composed over this interface
  - store/sqlite/sqlite.go: concrete implementation
*/
package ledger

import "context"

// Store handles persistence of accounts and their transaction logs.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
type Store interface {
	// Apply atomically appends tx and updates the account balance,
	// returning the new balance. A spend that would drive the balance
	// negative fails with an error wrapping ErrInsufficientBalance.
	// If tx.ExternalRef is non-empty, the reference is claimed in the
	// same unit of work; an already-claimed reference fails with
	// ErrDuplicateReference. On any failure nothing is written.
	Apply(ctx context.Context, tx Transaction) (int64, error)

	// Balance returns the current balance. Accounts with no prior
	// activity have balance 0; this is not an error.
	Balance(ctx context.Context, accountID AccountID) (int64, error)

	// Summary returns the balance plus running purchase/spend totals,
	// all derived from the transaction log.
	Summary(ctx context.Context, accountID AccountID) (AccountSummary, error)

	// Transactions returns the account's transactions, oldest first.
	Transactions(ctx context.Context, accountID AccountID) ([]Transaction, error)

	// ClaimReference atomically records externalRef as processed and
	// reports whether this caller won the claim. Exactly one caller ever
	// sees true for a given reference, including across restarts.
	// This must be a single check-and-set against durable storage,
	// never a read followed by a write.
	ClaimReference(ctx context.Context, externalRef string) (bool, error)
}
