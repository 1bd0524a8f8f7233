package points_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/incentive-engine/points"
	"github.com/warp/incentive-engine/points/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) *points.Ledger {
	t.Helper()
	return points.NewLedger(store.NewMemory())
}

func mustEarn(t *testing.T, l *points.Ledger, emp points.EmployeeID, value int64) {
	t.Helper()
	_, err := l.Append(context.Background(), emp, value, points.TxEarn, "test credit", "system")
	require.NoError(t, err)
}

// =============================================================================
// BALANCE DERIVATION TESTS
// =============================================================================

func TestLedger_BalanceIsSumOfTransactions(t *testing.T) {
	// GIVEN: A ledger with credits and debits for one employee
	// WHEN: Reading the balance
	// THEN: It equals the signed sum of all entries

	ledger := newTestLedger(t)
	ctx := context.Background()

	mustEarn(t, ledger, "emp-1", 500)
	mustEarn(t, ledger, "emp-1", 150)
	_, err := ledger.Append(ctx, "emp-1", -300, points.TxRedeem, "redeemed", "mgr-1")
	require.NoError(t, err)

	balance, err := ledger.Balance(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(350), balance.CurrentTotal)
	assert.Equal(t, points.EmployeeID("emp-1"), balance.EmployeeID)
	assert.False(t, balance.LastUpdatedAt.IsZero())
}

func TestLedger_Balance_NoHistory_NotFound(t *testing.T) {
	// GIVEN: An employee with no transactions
	// WHEN: Reading their balance
	// THEN: NotFoundError

	ledger := newTestLedger(t)

	_, err := ledger.Balance(context.Background(), "emp-ghost")
	assert.Error(t, err)
	assert.True(t, points.IsNotFound(err))

	var nfErr *points.NotFoundError
	assert.ErrorAs(t, err, &nfErr)
}

func TestLedger_Available_NoHistory_Zero(t *testing.T) {
	// Available treats an empty history as a zero balance so debit
	// checks work for employees that were never credited.
	ledger := newTestLedger(t)

	available, err := ledger.Available(context.Background(), "emp-ghost")
	require.NoError(t, err)
	assert.Equal(t, int64(0), available)
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestLedger_Append_ZeroValue_Rejected(t *testing.T) {
	ledger := newTestLedger(t)

	_, err := ledger.Append(context.Background(), "emp-1", 0, points.TxEarn, "", "system")
	assert.Error(t, err)

	var invErr *points.InvalidValueError
	assert.ErrorAs(t, err, &invErr)
	assert.True(t, points.IsClientError(err))
}

func TestLedger_Append_UnknownType_Rejected(t *testing.T) {
	ledger := newTestLedger(t)

	_, err := ledger.Append(context.Background(), "emp-1", 10, "bogus", "", "system")
	var invErr *points.InvalidValueError
	assert.ErrorAs(t, err, &invErr)
}

func TestLedger_Append_EmptyEmployee_Rejected(t *testing.T) {
	ledger := newTestLedger(t)

	_, err := ledger.Append(context.Background(), "", 10, points.TxEarn, "", "system")
	var invErr *points.InvalidValueError
	assert.ErrorAs(t, err, &invErr)
}

func TestLedger_Append_TransferType_Rejected(t *testing.T) {
	// GIVEN: A ledger
	// WHEN: Appending a single entry typed "transfer"
	// THEN: Rejected - transfer entries only come in correlated pairs

	ledger := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Append(ctx, "emp-1", 100, points.TxTransfer, "sneaky", "emp-2")
	var invErr *points.InvalidValueError
	require.ErrorAs(t, err, &invErr)

	_, err = ledger.Balance(ctx, "emp-1")
	assert.True(t, points.IsNotFound(err), "nothing must be persisted")
}

// =============================================================================
// NON-NEGATIVE INVARIANT TESTS
// =============================================================================

func TestLedger_Debit_ExceedingBalance_Rejected(t *testing.T) {
	// GIVEN: An employee with 100 points
	// WHEN: Debiting 150
	// THEN: InsufficientBalanceError and the balance is unchanged

	ledger := newTestLedger(t)
	ctx := context.Background()

	mustEarn(t, ledger, "emp-1", 100)

	_, err := ledger.Append(ctx, "emp-1", -150, points.TxRedeem, "too much", "mgr-1")
	assert.Error(t, err)

	var insErr *points.InsufficientBalanceError
	require.ErrorAs(t, err, &insErr)
	assert.Equal(t, int64(100), insErr.Available)
	assert.Equal(t, int64(150), insErr.Requested)

	balance, err := ledger.Balance(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance.CurrentTotal)
}

func TestLedger_Debit_ExactBalance_Allowed(t *testing.T) {
	// Redeeming down to exactly zero is legal.
	ledger := newTestLedger(t)
	ctx := context.Background()

	mustEarn(t, ledger, "emp-1", 100)

	_, err := ledger.Append(ctx, "emp-1", -100, points.TxRedeem, "all of it", "mgr-1")
	require.NoError(t, err)

	balance, err := ledger.Balance(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.CurrentTotal)
}

func TestLedger_ConcurrentDebits_NeverOverdraw(t *testing.T) {
	// GIVEN: An employee with 100 points
	// WHEN: Two concurrent debits of 80 race
	// THEN: Exactly one succeeds and the final balance is 20

	ledger := newTestLedger(t)
	ctx := context.Background()

	mustEarn(t, ledger, "emp-1", 100)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ledger.Append(ctx, "emp-1", -80, points.TxRedeem,
				fmt.Sprintf("debit %d", i), "mgr-1")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			var insErr *points.InsufficientBalanceError
			assert.ErrorAs(t, err, &insErr)
		}
	}
	assert.Equal(t, 1, succeeded)

	balance, err := ledger.Balance(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance.CurrentTotal)
}

// =============================================================================
// IDEMPOTENCY TESTS
// =============================================================================

func TestLedger_AppendWithKey_DuplicateRejected(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.AppendWithKey(ctx, "emp-1", 50, points.TxEarn, "", "system", "key-1")
	require.NoError(t, err)

	_, err = ledger.AppendWithKey(ctx, "emp-1", 50, points.TxEarn, "", "system", "key-1")
	assert.ErrorIs(t, err, points.ErrDuplicateIdempotencyKey)

	balance, err := ledger.Balance(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance.CurrentTotal, "retry must not double-credit")
}

func TestLedger_AppendWithKey_DuplicateAcrossEmployees_Rejected(t *testing.T) {
	// Idempotency keys are unique store-wide, not per employee.
	ledger := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.AppendWithKey(ctx, "emp-1", 50, points.TxEarn, "", "system", "key-1")
	require.NoError(t, err)

	_, err = ledger.AppendWithKey(ctx, "emp-2", 50, points.TxEarn, "", "system", "key-1")
	assert.ErrorIs(t, err, points.ErrDuplicateIdempotencyKey)
}

// =============================================================================
// TRANSFER TESTS
// =============================================================================

func TestLedger_Transfer_MovesPointsAtomically(t *testing.T) {
	// GIVEN: emp-1 has 200 points, emp-2 has none
	// WHEN: Transferring 75 from emp-1 to emp-2
	// THEN: Balances shift, and both entries share a correlation id

	ledger := newTestLedger(t)
	ctx := context.Background()

	mustEarn(t, ledger, "emp-1", 200)

	txs, err := ledger.Transfer(ctx, "emp-1", "emp-2", 75, "spot bonus", "mgr-1")
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, int64(-75), txs[0].Value)
	assert.Equal(t, int64(75), txs[1].Value)
	assert.Equal(t, points.TxTransfer, txs[0].Type)
	assert.Equal(t, points.TxTransfer, txs[1].Type)
	assert.NotEmpty(t, txs[0].CorrelationID)
	assert.Equal(t, txs[0].CorrelationID, txs[1].CorrelationID)

	from, err := ledger.Balance(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(125), from.CurrentTotal)

	to, err := ledger.Balance(ctx, "emp-2")
	require.NoError(t, err)
	assert.Equal(t, int64(75), to.CurrentTotal)
}

func TestLedger_Transfer_InsufficientSource_Rejected(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	mustEarn(t, ledger, "emp-1", 50)

	_, err := ledger.Transfer(ctx, "emp-1", "emp-2", 75, "", "mgr-1")
	var insErr *points.InsufficientBalanceError
	assert.ErrorAs(t, err, &insErr)

	// Neither side moved
	from, err := ledger.Balance(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), from.CurrentTotal)

	_, err = ledger.Balance(ctx, "emp-2")
	assert.True(t, points.IsNotFound(err))
}

func TestLedger_Transfer_SameEmployee_Rejected(t *testing.T) {
	ledger := newTestLedger(t)

	_, err := ledger.Transfer(context.Background(), "emp-1", "emp-1", 10, "", "mgr-1")
	var invErr *points.InvalidValueError
	assert.ErrorAs(t, err, &invErr)
}

func TestLedger_Transfer_NonPositiveValue_Rejected(t *testing.T) {
	ledger := newTestLedger(t)

	_, err := ledger.Transfer(context.Background(), "emp-1", "emp-2", 0, "", "mgr-1")
	var invErr *points.InvalidValueError
	assert.ErrorAs(t, err, &invErr)
}

// =============================================================================
// HISTORY TESTS
// =============================================================================

func TestLedger_History_PaginatesNewestFirst(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := ledger.Append(ctx, "emp-1", int64(10+i), points.TxEarn,
			fmt.Sprintf("credit %d", i), "system")
		require.NoError(t, err)
	}

	page, err := ledger.History(ctx, "emp-1", 1, 2, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 5, page.TotalCount)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, int64(14), page.Items[0].Value, "newest entry first")

	last, err := ledger.History(ctx, "emp-1", 3, 2, "")
	require.NoError(t, err)
	assert.Len(t, last.Items, 1)
	assert.Equal(t, int64(10), last.Items[0].Value)
}

func TestLedger_History_FiltersByType(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	mustEarn(t, ledger, "emp-1", 100)
	_, err := ledger.Append(ctx, "emp-1", -30, points.TxRedeem, "", "mgr-1")
	require.NoError(t, err)
	_, err = ledger.Append(ctx, "emp-1", 5, points.TxAdjustment, "correction", "mgr-1")
	require.NoError(t, err)

	page, err := ledger.History(ctx, "emp-1", 1, 20, points.TxRedeem)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(-30), page.Items[0].Value)
	assert.Equal(t, 1, page.TotalCount)
}

func TestLedger_History_InvalidTypeFilter_Rejected(t *testing.T) {
	ledger := newTestLedger(t)

	_, err := ledger.History(context.Background(), "emp-1", 1, 20, "bogus")
	var invErr *points.InvalidValueError
	assert.ErrorAs(t, err, &invErr)
}

func TestLedger_History_DefaultsPaging(t *testing.T) {
	// Page and page size fall back to 1/20 when out of range.
	ledger := newTestLedger(t)
	ctx := context.Background()

	mustEarn(t, ledger, "emp-1", 10)

	page, err := ledger.History(ctx, "emp-1", 0, -5, "")
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PageSize)
	assert.Len(t, page.Items, 1)
}
