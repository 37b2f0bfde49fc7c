/*
Package payment adapts the external payment processor to the credit ledger.

PURPOSE:
  Translates a credit-purchase request into an external payable intent,
  and later translates the processor's confirmation callback into a
  ledger credit. The processor is an untrusted external collaborator:
  callbacks are verified (verify.go) and the STORED INTENT, not the
  callback body, is the source of truth for who gets how many credits.

INTENT LIFECYCLE:
  created -> confirmed   (terminal, credits applied exactly once)
          -> expired     (swept after TTL, no credit)
          -> failed      (terminal, no credit)
  Terminal states are never left, with one reconciliation exception:
  a confirmation that loses the status race to the expiry sweep flips
  expired -> confirmed after its credit landed, so the intent record
  always matches the ledger.

EXACTLY-ONCE CONFIRMATION:
  Confirmation delivery is at-least-once at the transport level, so
  ConfirmIntent must be idempotent. Two layers guarantee this:
  1. The ledger's reference claim: one external reference credits at
     most once, ever (ledger.Store.Apply).
  2. The intent status CAS: created -> confirmed flips at most once.
  The credit is applied BEFORE the status flip. A crash in between
  leaves the intent 'created'; the retried confirmation replays the
  credit as a no-op and completes the flip. Value is never lost or
  duplicated.

CURRENCY BOUNDARY:
  The credit-to-external-currency conversion uses decimal arithmetic
  and lives entirely here. The ledger only ever sees int64 credits.

SEE ALSO:
  - processor.go: HTTP client for the external processor
  - verify.go: callback verification strategies
  - ledger/ledger.go: Credit, the idempotent crediting operation
*/
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/learnxtrade/credit-engine/ledger"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrGateway is returned when the external processor call fails or
	// times out. No ledger effect and no confirmed intent ever results.
	ErrGateway = errors.New("payment gateway error")

	// ErrIntentNotFound is returned for an unknown intent id.
	ErrIntentNotFound = errors.New("payment intent not found")

	// ErrIntentTerminal is returned when confirming an expired or
	// failed intent. Terminal states are never left.
	ErrIntentTerminal = errors.New("payment intent in terminal state")

	// ErrIntentMismatch is returned when a callback's account or amount
	// disagrees with the stored intent. The intent is authoritative;
	// the callback body is not trusted.
	ErrIntentMismatch = errors.New("callback does not match payment intent")
)

// =============================================================================
// PAYMENT INTENT
// =============================================================================

type IntentStatus string

const (
	IntentCreated   IntentStatus = "created"
	IntentConfirmed IntentStatus = "confirmed"
	IntentExpired   IntentStatus = "expired"
	IntentFailed    IntentStatus = "failed"
)

// Intent records one credit-purchase attempt. Stored when created, so
// a processor failure still leaves an audit trail, but only an explicit
// confirmation ever moves it to confirmed.
type Intent struct {
	ID          string
	AccountID   ledger.AccountID
	Credits     int64           // requested credit amount
	Quote       decimal.Decimal // priced external-currency amount
	Status      IntentStatus
	ExternalRef string // processor payment id, set on create
	PayLink     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IntentStore persists payment intents.
type IntentStore interface {
	SaveIntent(ctx context.Context, intent Intent) error
	GetIntent(ctx context.Context, id string) (*Intent, error)

	// TransitionIntent performs a compare-and-set on status, recording
	// externalRef if non-empty. Returns false without error when the
	// intent was not in the expected 'from' status - the caller decides
	// whether that is a benign race or a terminal-state violation.
	TransitionIntent(ctx context.Context, id string, from, to IntentStatus, externalRef string) (bool, error)

	// StaleIntents returns 'created' intents older than cutoff.
	StaleIntents(ctx context.Context, cutoff time.Time) ([]Intent, error)
}

// =============================================================================
// GATEWAY
// =============================================================================

// Gateway is the payment intent gateway. Stateless orchestration; the
// intent store and the ledger hold all mutable state.
type Gateway struct {
	ledger    *ledger.CreditLedger
	intents   IntentStore
	processor Processor
	rate      decimal.Decimal // external currency per credit
}

func NewGateway(l *ledger.CreditLedger, intents IntentStore, processor Processor, rate decimal.Decimal) *Gateway {
	return &Gateway{ledger: l, intents: intents, processor: processor, rate: rate}
}

// IntentResult is returned by CreateIntent.
type IntentResult struct {
	IntentID string
	PayLink  string
	Credits  int64
	Quote    decimal.Decimal
}

// Quote converts a credit amount to the external currency.
func (g *Gateway) Quote(credits int64) decimal.Decimal {
	return decimal.NewFromInt(credits).Mul(g.rate)
}

// CreateIntent prices the request, records a 'created' intent, and asks
// the processor for a payable link. The ledger is untouched; a failed
// or timed-out processor call surfaces ErrGateway and the intent stays
// 'created' for audit and later expiry.
func (g *Gateway) CreateIntent(ctx context.Context, accountID ledger.AccountID, credits int64) (*IntentResult, error) {
	if credits <= 0 {
		return nil, fmt.Errorf("create intent %d: %w", credits, ledger.ErrInvalidAmount)
	}

	now := time.Now().UTC()
	intent := Intent{
		ID:        "pi-" + uuid.NewString(),
		AccountID: accountID,
		Credits:   credits,
		Quote:     g.Quote(credits),
		Status:    IntentCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.intents.SaveIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("save intent: %w", err)
	}

	resp, err := g.processor.CreatePayment(ctx, PaymentRequest{
		IntentID:  intent.ID,
		AccountID: string(accountID),
		Credits:   credits,
		Quote:     intent.Quote,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	// Record the processor's payment id against the intent so the
	// confirmation callback can be matched to it.
	if _, err := g.intents.TransitionIntent(ctx, intent.ID, IntentCreated, IntentCreated, resp.PaymentID); err != nil {
		return nil, fmt.Errorf("record payment reference: %w", err)
	}

	return &IntentResult{
		IntentID: intent.ID,
		PayLink:  resp.PayLink,
		Credits:  credits,
		Quote:    intent.Quote,
	}, nil
}

// ConfirmResult is returned by ConfirmIntent. Applied reports whether
// this call actually credited the ledger; it is false for replays,
// including two confirmations racing past the status read together.
type ConfirmResult struct {
	Balance int64
	Credits int64
	Applied bool
}

// ConfirmIntent applies the created -> confirmed transition exactly
// once. The callback's accountID and credits are validated against the
// stored intent; zero values mean "not supplied" and are filled from
// the intent. An already-confirmed intent is a no-op that still returns
// the current balance.
func (g *Gateway) ConfirmIntent(ctx context.Context, intentID, externalRef string, accountID ledger.AccountID, credits int64) (*ConfirmResult, error) {
	intent, err := g.intents.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, fmt.Errorf("intent %s: %w", intentID, ErrIntentNotFound)
	}

	if accountID != "" && accountID != intent.AccountID {
		return nil, fmt.Errorf("account %s: %w", accountID, ErrIntentMismatch)
	}
	if credits != 0 && credits != intent.Credits {
		return nil, fmt.Errorf("amount %d: %w", credits, ErrIntentMismatch)
	}

	switch intent.Status {
	case IntentConfirmed:
		balance, err := g.ledger.Balance(ctx, intent.AccountID)
		if err != nil {
			return nil, err
		}
		return &ConfirmResult{Balance: balance, Credits: intent.Credits}, nil
	case IntentExpired, IntentFailed:
		return nil, fmt.Errorf("intent %s is %s: %w", intentID, intent.Status, ErrIntentTerminal)
	}

	ref := intent.ExternalRef
	if ref == "" {
		ref = externalRef
	}
	if ref == "" {
		// Without a reference the reference claim cannot dedupe replays;
		// fall back to the intent id, which is unique per purchase.
		ref = intent.ID
	}

	desc := fmt.Sprintf("purchased %d credits", intent.Credits)
	balance, applied, err := g.ledger.Credit(ctx, intent.AccountID, intent.Credits, desc, ref)
	if err != nil {
		return nil, err
	}

	// Flip the status after the credit. If a concurrent confirmation
	// already flipped it, that is fine - the credit above was already
	// deduped by the reference claim.
	ok, err := g.intents.TransitionIntent(ctx, intentID, IntentCreated, IntentConfirmed, ref)
	if err != nil {
		return nil, fmt.Errorf("confirm intent: %w", err)
	}
	if !ok {
		// Lost the status race. The credit above is durable, so the
		// intent must end confirmed. A concurrent confirmation landing
		// first is already that; the expiry sweep firing between our
		// read and the credit is not, and gets reconciled here.
		current, err := g.intents.GetIntent(ctx, intentID)
		if err != nil {
			return nil, err
		}
		if current != nil && current.Status == IntentExpired {
			if _, err := g.intents.TransitionIntent(ctx, intentID, IntentExpired, IntentConfirmed, ref); err != nil {
				return nil, fmt.Errorf("reconcile expired intent: %w", err)
			}
		}
	}

	return &ConfirmResult{Balance: balance, Credits: intent.Credits, Applied: applied}, nil
}

// ExpireStale sweeps 'created' intents older than ttl to 'expired'.
// Never touches the ledger. Returns how many intents were expired.
func (g *Gateway) ExpireStale(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	stale, err := g.intents.StaleIntents(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, intent := range stale {
		ok, err := g.intents.TransitionIntent(ctx, intent.ID, IntentCreated, IntentExpired, "")
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}
