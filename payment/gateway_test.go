/*
gateway_test.go - Payment intent lifecycle tests

CORE DESIGN:
- created -> confirmed happens exactly once, no matter how often the
  confirmation is delivered
- a processor failure leaves the intent 'created' and the ledger untouched
- the stored intent, not the callback, decides who gets how many credits
*/
package payment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnxtrade/credit-engine/ledger"
	"github.com/learnxtrade/credit-engine/payment"
	"github.com/learnxtrade/credit-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// fakeProcessor returns canned responses or a canned error.
type fakeProcessor struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *fakeProcessor) CreatePayment(_ context.Context, req payment.PaymentRequest) (*payment.PaymentResponse, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if p.err != nil {
		return nil, p.err
	}
	return &payment.PaymentResponse{
		PaymentID: "pay-" + req.IntentID,
		PayLink:   "https://pay.example/" + req.IntentID,
	}, nil
}

func newTestGateway(t *testing.T, proc *fakeProcessor) (*payment.Gateway, *ledger.CreditLedger, *memory.Store) {
	t.Helper()
	store := memory.New()
	l := ledger.New(store)
	rate := decimal.RequireFromString("0.5")
	return payment.NewGateway(l, store, proc, rate), l, store
}

// =============================================================================
// INTENT CREATION TESTS
// =============================================================================

func TestGateway_CreateIntent_Success(t *testing.T) {
	// GIVEN: A working processor
	// WHEN: Creating an intent for 100 credits at rate 0.5
	// THEN: A 'created' intent is stored with quote 50 and the processor's
	//       payment id; the ledger is untouched

	proc := &fakeProcessor{}
	gw, l, store := newTestGateway(t, proc)
	ctx := context.Background()

	result, err := gw.CreateIntent(ctx, "acct-1", 100)
	require.NoError(t, err)
	assert.NotEmpty(t, result.IntentID)
	assert.Equal(t, "https://pay.example/"+result.IntentID, result.PayLink)
	assert.Equal(t, int64(100), result.Credits)
	assert.True(t, result.Quote.Equal(decimal.RequireFromString("50")))

	intent, err := store.GetIntent(ctx, result.IntentID)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, payment.IntentCreated, intent.Status)
	assert.Equal(t, "pay-"+result.IntentID, intent.ExternalRef)

	balance, err := l.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance, "creating an intent must not credit anything")
}

func TestGateway_CreateIntent_InvalidAmount(t *testing.T) {
	proc := &fakeProcessor{}
	gw, _, _ := newTestGateway(t, proc)

	for _, amount := range []int64{0, -5} {
		_, err := gw.CreateIntent(context.Background(), "acct-1", amount)
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount, "amount %d", amount)
	}
	assert.Equal(t, 0, proc.calls, "invalid amounts must not reach the processor")
}

func TestGateway_CreateIntent_ProcessorFailure(t *testing.T) {
	// GIVEN: A processor that fails
	// WHEN: Creating an intent
	// THEN: ErrGateway; the intent stays 'created' for audit and later
	//       expiry, and the ledger is untouched

	proc := &fakeProcessor{err: errors.New("connection refused")}
	gw, l, store := newTestGateway(t, proc)
	ctx := context.Background()

	_, err := gw.CreateIntent(ctx, "acct-1", 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, payment.ErrGateway)

	stale, err := store.StaleIntents(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1, "the failed attempt still leaves an audit record")
	assert.Equal(t, payment.IntentCreated, stale[0].Status)

	balance, err := l.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

// =============================================================================
// CONFIRMATION TESTS
// =============================================================================

func TestGateway_ConfirmIntent_CreditsExactlyOnce(t *testing.T) {
	// GIVEN: A created intent for 100 credits
	// WHEN: Confirming it twice (processor retry)
	// THEN: First confirm applies the credit, second is a no-op replay
	//       reporting the same balance

	gw, l, _ := newTestGateway(t, &fakeProcessor{})
	ctx := context.Background()

	created, err := gw.CreateIntent(ctx, "acct-1", 100)
	require.NoError(t, err)

	first, err := gw.ConfirmIntent(ctx, created.IntentID, "", "", 0)
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.Equal(t, int64(100), first.Balance)
	assert.Equal(t, int64(100), first.Credits)

	second, err := gw.ConfirmIntent(ctx, created.IntentID, "", "", 0)
	require.NoError(t, err)
	assert.False(t, second.Applied, "second delivery is a replay")
	assert.Equal(t, int64(100), second.Balance)

	txs, err := l.Transactions(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestGateway_ConfirmIntent_ConcurrentDeliveries(t *testing.T) {
	// GIVEN: A created intent
	// WHEN: 10 confirmations race
	// THEN: The balance is credited exactly once, and exactly one
	//       delivery reports the credit as applied

	gw, l, _ := newTestGateway(t, &fakeProcessor{})
	ctx := context.Background()

	created, err := gw.CreateIntent(ctx, "acct-1", 100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*payment.ConfirmResult, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := gw.ConfirmIntent(ctx, created.IntentID, "", "", 0)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	balance, err := l.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	appliedCount := 0
	for _, res := range results {
		if res != nil && res.Applied {
			appliedCount++
		}
	}
	assert.Equal(t, 1, appliedCount, "only one delivery may report a fresh credit")
}

// expireOnReadStore expires a 'created' intent right after it is read,
// reproducing the expiry sweep firing between a confirmation's intent
// read and its ledger credit.
type expireOnReadStore struct {
	*memory.Store
	armed bool
}

func (s *expireOnReadStore) GetIntent(ctx context.Context, id string) (*payment.Intent, error) {
	intent, err := s.Store.GetIntent(ctx, id)
	if err != nil || intent == nil || !s.armed || intent.Status != payment.IntentCreated {
		return intent, err
	}
	s.armed = false
	if _, err := s.Store.TransitionIntent(ctx, id, payment.IntentCreated, payment.IntentExpired, ""); err != nil {
		return nil, err
	}
	return intent, nil
}

func TestGateway_ConfirmIntent_ReconcilesMidFlightExpiry(t *testing.T) {
	// GIVEN: The expiry sweep flips the intent to 'expired' between the
	//        confirmation's intent read and its credit
	// WHEN: The confirmation completes
	// THEN: The credit stands and the intent ends 'confirmed', never
	//       'expired' with money attached; a replay is a normal no-op,
	//       not a terminal-state rejection

	base := memory.New()
	store := &expireOnReadStore{Store: base}
	l := ledger.New(base)
	gw := payment.NewGateway(l, store, &fakeProcessor{}, decimal.RequireFromString("0.5"))
	ctx := context.Background()

	created, err := gw.CreateIntent(ctx, "acct-1", 100)
	require.NoError(t, err)

	store.armed = true
	result, err := gw.ConfirmIntent(ctx, created.IntentID, "", "", 0)
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, int64(100), result.Balance)

	intent, err := base.GetIntent(ctx, created.IntentID)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, payment.IntentConfirmed, intent.Status)

	replay, err := gw.ConfirmIntent(ctx, created.IntentID, "", "", 0)
	require.NoError(t, err)
	assert.False(t, replay.Applied)
	assert.Equal(t, int64(100), replay.Balance)

	balance, err := l.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestGateway_ConfirmIntent_UnknownIntent(t *testing.T) {
	gw, _, _ := newTestGateway(t, &fakeProcessor{})

	_, err := gw.ConfirmIntent(context.Background(), "pi-nope", "", "", 0)
	assert.ErrorIs(t, err, payment.ErrIntentNotFound)
}

func TestGateway_ConfirmIntent_MismatchRejected(t *testing.T) {
	// GIVEN: An intent for acct-1 / 100 credits
	// WHEN: The callback claims a different account or amount
	// THEN: Rejected; the stored intent is authoritative

	gw, l, _ := newTestGateway(t, &fakeProcessor{})
	ctx := context.Background()

	created, err := gw.CreateIntent(ctx, "acct-1", 100)
	require.NoError(t, err)

	_, err = gw.ConfirmIntent(ctx, created.IntentID, "", "acct-2", 100)
	assert.ErrorIs(t, err, payment.ErrIntentMismatch)

	_, err = gw.ConfirmIntent(ctx, created.IntentID, "", "acct-1", 999)
	assert.ErrorIs(t, err, payment.ErrIntentMismatch)

	balance, err := l.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance, "mismatched callbacks must not credit")
}

func TestGateway_ConfirmIntent_TerminalState(t *testing.T) {
	// GIVEN: An intent swept to 'expired'
	// WHEN: A late confirmation arrives
	// THEN: ErrIntentTerminal and no credit

	gw, l, store := newTestGateway(t, &fakeProcessor{})
	ctx := context.Background()

	created, err := gw.CreateIntent(ctx, "acct-1", 100)
	require.NoError(t, err)

	ok, err := store.TransitionIntent(ctx, created.IntentID, payment.IntentCreated, payment.IntentExpired, "")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = gw.ConfirmIntent(ctx, created.IntentID, "", "", 0)
	assert.ErrorIs(t, err, payment.ErrIntentTerminal)

	balance, err := l.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

// =============================================================================
// EXPIRY SWEEP TESTS
// =============================================================================

func TestGateway_ExpireStale_SweepsOnlyOldCreated(t *testing.T) {
	// GIVEN: One stale created intent, one fresh one, one confirmed one
	// WHEN: Sweeping with a 1h TTL
	// THEN: Only the stale created intent expires

	gw, _, store := newTestGateway(t, &fakeProcessor{})
	ctx := context.Background()

	stale := payment.Intent{
		ID:        "pi-stale",
		AccountID: "acct-1",
		Credits:   10,
		Status:    payment.IntentCreated,
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
	}
	require.NoError(t, store.SaveIntent(ctx, stale))

	fresh, err := gw.CreateIntent(ctx, "acct-1", 20)
	require.NoError(t, err)

	confirmedIntent, err := gw.CreateIntent(ctx, "acct-1", 30)
	require.NoError(t, err)
	_, err = gw.ConfirmIntent(ctx, confirmedIntent.IntentID, "", "", 0)
	require.NoError(t, err)

	expired, err := gw.ExpireStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := store.GetIntent(ctx, "pi-stale")
	require.NoError(t, err)
	assert.Equal(t, payment.IntentExpired, got.Status)

	got, err = store.GetIntent(ctx, fresh.IntentID)
	require.NoError(t, err)
	assert.Equal(t, payment.IntentCreated, got.Status)

	got, err = store.GetIntent(ctx, confirmedIntent.IntentID)
	require.NoError(t, err)
	assert.Equal(t, payment.IntentConfirmed, got.Status)
}
