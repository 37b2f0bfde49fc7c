/*
ledger_test.go - Core ledger invariant tests

CORE DESIGN:
- balance is always the signed sum of the transaction log
- balance never goes negative; the check is atomic with the write
- one external payment reference credits at most once, ever
*/
package ledger_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnxtrade/credit-engine/ledger"
	"github.com/learnxtrade/credit-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*ledger.CreditLedger, *memory.Store) {
	t.Helper()
	store := memory.New()
	return ledger.New(store), store
}

// signedSum recomputes the balance from the transaction log.
func signedSum(t *testing.T, l *ledger.CreditLedger, accountID ledger.AccountID) int64 {
	t.Helper()
	txs, err := l.Transactions(context.Background(), accountID)
	require.NoError(t, err)

	var sum int64
	for _, tx := range txs {
		sum += tx.Signed()
	}
	return sum
}

// =============================================================================
// BALANCE INVARIANT TESTS
// =============================================================================

func TestCreditLedger_BalanceEqualsTransactionSum(t *testing.T) {
	// GIVEN: A mix of purchases, spends, and a refund
	// WHEN: Reading the balance
	// THEN: It equals the signed sum of the transaction log

	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, _, err := l.Credit(ctx, "acct-1", 100, "purchased 100 credits", "pay-1")
	require.NoError(t, err)
	_, err = l.Debit(ctx, "acct-1", 30, "course purchase: go-101")
	require.NoError(t, err)
	_, err = l.Refund(ctx, "acct-1", 30, "refund: course purchase failed: go-101")
	require.NoError(t, err)
	_, err = l.Debit(ctx, "acct-1", 45, "course purchase: sql-201")
	require.NoError(t, err)

	balance, err := l.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(55), balance)
	assert.Equal(t, balance, signedSum(t, l, "acct-1"))
}

func TestCreditLedger_UnknownAccount_ZeroBalance(t *testing.T) {
	// GIVEN: An account the ledger has never seen
	// WHEN: Reading balance and summary
	// THEN: Everything is zero, no error

	l, _ := newTestLedger(t)
	ctx := context.Background()

	balance, err := l.Balance(ctx, "never-seen")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	summary, err := l.Summary(ctx, "never-seen")
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.Balance)
	assert.Equal(t, int64(0), summary.TotalPurchased)
	assert.Equal(t, int64(0), summary.TotalSpent)
}

func TestCreditLedger_Summary_Totals(t *testing.T) {
	// GIVEN: Two purchases and a spend
	// WHEN: Reading the summary
	// THEN: TotalPurchased and TotalSpent reflect the running totals

	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, _, err := l.Credit(ctx, "acct-1", 100, "", "pay-1")
	require.NoError(t, err)
	_, _, err = l.Credit(ctx, "acct-1", 50, "", "pay-2")
	require.NoError(t, err)
	_, err = l.Debit(ctx, "acct-1", 60, "course purchase: go-101")
	require.NoError(t, err)

	summary, err := l.Summary(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(90), summary.Balance)
	assert.Equal(t, int64(150), summary.TotalPurchased)
	assert.Equal(t, int64(60), summary.TotalSpent)
}

// =============================================================================
// NON-NEGATIVITY TESTS
// =============================================================================

func TestCreditLedger_Debit_InsufficientBalance(t *testing.T) {
	// GIVEN: An account with 10 credits
	// WHEN: Debiting 25
	// THEN: InsufficientBalanceError with available and requested amounts,
	//       and nothing is written

	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, _, err := l.Credit(ctx, "acct-1", 10, "", "pay-1")
	require.NoError(t, err)

	_, err = l.Debit(ctx, "acct-1", 25, "course purchase: go-101")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	var insErr *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insErr)
	assert.Equal(t, int64(10), insErr.Available)
	assert.Equal(t, int64(25), insErr.Requested)

	balance, err := l.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)

	txs, err := l.Transactions(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, txs, 1, "failed debit must not append a transaction")
}

func TestCreditLedger_ConcurrentDebits_NeverNegative(t *testing.T) {
	// GIVEN: 100 credits and 20 concurrent debits of 10 each
	// WHEN: All debits race
	// THEN: Exactly 10 succeed, the rest fail, balance ends at 0

	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, _, err := l.Credit(ctx, "acct-1", 100, "", "pay-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.Debit(ctx, "acct-1", 10, "course purchase: race")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 10, succeeded)

	balance, err := l.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
	assert.Equal(t, balance, signedSum(t, l, "acct-1"))
}

// =============================================================================
// REPLAY SAFETY TESTS
// =============================================================================

func TestCreditLedger_DuplicateReference_NoOpSuccess(t *testing.T) {
	// GIVEN: A confirmed purchase with reference pay-1
	// WHEN: The same reference is credited again (processor retry)
	// THEN: No error, no new transaction, balance unchanged

	l, _ := newTestLedger(t)
	ctx := context.Background()

	first, applied, err := l.Credit(ctx, "acct-1", 100, "purchased 100 credits", "pay-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), first)
	assert.True(t, applied)

	second, applied, err := l.Credit(ctx, "acct-1", 100, "purchased 100 credits", "pay-1")
	require.NoError(t, err, "replay must look like success")
	assert.Equal(t, int64(100), second)
	assert.False(t, applied, "replay must not report a fresh credit")

	txs, err := l.Transactions(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, txs, 1, "replay must not append a second transaction")
}

func TestCreditLedger_ConcurrentSameReference_CreditsOnce(t *testing.T) {
	// GIVEN: 10 concurrent confirmations with the same reference
	// WHEN: All race
	// THEN: Exactly one transaction exists, balance is 100

	l, _ := newTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	appliedFlags := make([]bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, applied, err := l.Credit(ctx, "acct-1", 100, "purchased 100 credits", "pay-1")
			assert.NoError(t, err)
			appliedFlags[i] = applied
		}(i)
	}
	wg.Wait()

	appliedCount := 0
	for _, applied := range appliedFlags {
		if applied {
			appliedCount++
		}
	}
	assert.Equal(t, 1, appliedCount, "exactly one caller may report a fresh credit")

	balance, err := l.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	txs, err := l.Transactions(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestCreditLedger_EmptyReference_NoDedup(t *testing.T) {
	// GIVEN: Two credits with no external reference
	// WHEN: Both are applied
	// THEN: Both count; refunds and manual grants are not deduped

	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, _, err := l.Credit(ctx, "acct-1", 10, "", "")
	require.NoError(t, err)
	balance, _, err := l.Credit(ctx, "acct-1", 10, "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestCreditLedger_InvalidAmounts_Rejected(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for _, amount := range []int64{0, -1, -100} {
		_, _, err := l.Credit(ctx, "acct-1", amount, "", "")
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount, "credit %d", amount)

		_, err = l.Debit(ctx, "acct-1", amount, "")
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount, "debit %d", amount)

		_, err = l.Refund(ctx, "acct-1", amount, "")
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount, "refund %d", amount)
	}

	txs, err := l.Transactions(ctx, "acct-1")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestTransaction_Signed(t *testing.T) {
	purchase := ledger.Transaction{Kind: ledger.TxPurchase, Amount: 50}
	spend := ledger.Transaction{Kind: ledger.TxSpend, Amount: 30}
	refund := ledger.Transaction{Kind: ledger.TxRefund, Amount: 30}

	assert.Equal(t, int64(50), purchase.Signed())
	assert.Equal(t, int64(-30), spend.Signed())
	assert.Equal(t, int64(30), refund.Signed())
}
