/*
Package ledgertest holds behavioral tests every ledger.Store must pass when
driven through ledger.Engine. Store packages call Run from their own tests.

ORGANIZATION:
  1. Single-account operations - deposit, withdraw, guard failures
  2. Transfers - correctness, atomicity, missing accounts
  3. Refunds - reversal, parent links, repeated refunds
  4. Concurrency - racing withdrawals against one balance
  5. History - pagination in insertion order
  6. Scoped transactions - rollback on callback error

Each case uses GIVEN/WHEN/THEN comments.
*/
package ledgertest

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lawal-create/Virtual-Bank-Accounts-Manager/ledger"
)

// NewStore returns a fresh, empty store. Cleanup is the caller's job.
type NewStore func(t *testing.T) ledger.Store

// Run executes the whole suite as subtests.
func Run(t *testing.T, newStore NewStore) {
	cases := []struct {
		name string
		fn   func(t *testing.T, newStore NewStore)
	}{
		{"Deposit_IncreasesBalanceAndLogsOneRow", testDeposit},
		{"Withdraw_WithinBalance", testWithdraw},
		{"Withdraw_InsufficientBalance_NoRow", testWithdrawInsufficient},
		{"NonPositiveAmount_Rejected", testNonPositiveAmount},
		{"Deposit_Overflow_Rejected", testDepositOverflow},
		{"Transfer_MovesMoneyAndPairsLegs", testTransfer},
		{"Transfer_GuardFails_NothingChanges", testTransferAtomicity},
		{"Transfer_MissingAccounts", testTransferMissingAccounts},
		{"Transfer_SameAccount_Rejected", testTransferSameAccount},
		{"Transfer_Overflow_NothingChanges", testTransferOverflow},
		{"Refund_ReversesTransfer", testRefund},
		{"Refund_Twice_TwoReversals", testRefundTwice},
		{"Refund_RequiresTransferWithdrawalLeg", testRefundRejects},
		{"Refund_InsufficientBalance_NothingChanges", testRefundInsufficient},
		{"ConcurrentWithdrawals_ExactlyOneSucceeds", testConcurrentWithdrawals},
		{"GetTransactions_Pagination", testPagination},
		{"WithTx_RollsBackOnError", testWithTxRollback},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore)
		})
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func newEngine(t *testing.T, newStore NewStore) (*ledger.Engine, ledger.Store) {
	s := newStore(t)
	return ledger.NewEngine(s, nil), s
}

func open(t *testing.T, e *ledger.Engine, name string, balance int64) ledger.Account {
	t.Helper()
	a, err := e.OpenAccount(context.Background(), ledger.Account{
		OwnerID: "owner-" + name,
		Balance: balance,
		Metadata: ledger.AccountMetadata{
			AccountName:   name,
			AccountNumber: "ACC-" + name,
			BankName:      "Test Bank",
			AccountType:   "checking",
			Currency:      ledger.CurrencyUSD,
		},
	})
	require.NoError(t, err)
	return a
}

func balanceOf(t *testing.T, e *ledger.Engine, id string) int64 {
	t.Helper()
	b, err := e.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b.Amount
}

func history(t *testing.T, e *ledger.Engine, id string) []ledger.TransactionRequest {
	t.Helper()
	txs, err := e.GetTransactions(context.Background(), id, ledger.Page{Limit: 1000})
	require.NoError(t, err)
	return txs
}

// =============================================================================
// SINGLE-ACCOUNT OPERATIONS
// =============================================================================

func testDeposit(t *testing.T, newStore NewStore) {
	// GIVEN: an account with balance 100
	// WHEN: 250 is deposited
	// THEN: balance is 350 and one successful deposit row exists, no shared id
	e, _ := newEngine(t, newStore)
	a := open(t, e, "alice", 100)

	updated, err := e.Deposit(context.Background(), a.ID, 250)
	require.NoError(t, err)
	assert.Equal(t, int64(350), updated.Balance)
	assert.Equal(t, int64(350), balanceOf(t, e, a.ID))

	txs := history(t, e, a.ID)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.RequestDeposit, txs[0].RequestType)
	assert.Equal(t, ledger.StatusSuccessful, txs[0].Status)
	assert.Equal(t, int64(250), txs[0].Amount)
	assert.Equal(t, a.OwnerID, txs[0].OwnerID)
	assert.Equal(t, ledger.CurrencyUSD, txs[0].Currency)
	assert.Empty(t, txs[0].Metadata.SharedID)

	_, err = e.Deposit(context.Background(), "missing", 10)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func testWithdraw(t *testing.T, newStore NewStore) {
	e, _ := newEngine(t, newStore)
	a := open(t, e, "alice", 100)

	updated, err := e.Withdraw(context.Background(), a.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), updated.Balance)

	txs := history(t, e, a.ID)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.RequestWithdrawal, txs[0].RequestType)
	assert.Equal(t, ledger.StatusSuccessful, txs[0].Status)
}

func testWithdrawInsufficient(t *testing.T, newStore NewStore) {
	// GIVEN: balance 100
	// WHEN: withdrawing 101
	// THEN: InsufficientBalance, balance still 100, no row written
	e, _ := newEngine(t, newStore)
	a := open(t, e, "alice", 100)

	_, err := e.Withdraw(context.Background(), a.ID, 101)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	var balErr *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &balErr)
	assert.Equal(t, a.ID, balErr.AccountID)
	assert.Equal(t, int64(101), balErr.Requested)

	assert.Equal(t, int64(100), balanceOf(t, e, a.ID))
	assert.Empty(t, history(t, e, a.ID))

	_, err = e.Withdraw(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func testNonPositiveAmount(t *testing.T, newStore NewStore) {
	e, _ := newEngine(t, newStore)
	a := open(t, e, "alice", 100)
	b := open(t, e, "bob", 0)
	ctx := context.Background()

	_, err := e.Deposit(ctx, a.ID, 0)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = e.Withdraw(ctx, a.ID, -5)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = e.Transfer(ctx, b.ID, a.ID, 0, "")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	assert.Equal(t, int64(100), balanceOf(t, e, a.ID))
	assert.Empty(t, history(t, e, a.ID))
}

func testDepositOverflow(t *testing.T, newStore NewStore) {
	// GIVEN: an account holding 1
	// WHEN: depositing math.MaxInt64
	// THEN: the deposit is a client error and nothing is written
	e, s := newEngine(t, newStore)
	a := open(t, e, "alice", 1)
	ctx := context.Background()

	_, err := e.Deposit(ctx, a.ID, math.MaxInt64)
	require.ErrorIs(t, err, ledger.ErrBalanceOverflow)
	assert.True(t, ledger.IsClientError(err))
	assert.Equal(t, int64(1), balanceOf(t, e, a.ID))
	assert.Empty(t, history(t, e, a.ID))

	// The store refuses the credit on its own as well.
	_, err = s.Increment(ctx, a.ID, math.MaxInt64)
	require.ErrorIs(t, err, ledger.ErrBalanceOverflow)
	assert.Equal(t, int64(1), balanceOf(t, e, a.ID))

	// Filling up to the limit exactly is allowed.
	updated, err := e.Deposit(ctx, a.ID, math.MaxInt64-1)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), updated.Balance)
}

// =============================================================================
// TRANSFERS
// =============================================================================

func testTransfer(t *testing.T, newStore NewStore) {
	// GIVEN: X with 50 and Y with 200
	// WHEN: transfer(X, Y, 120)
	// THEN: X = 170, Y = 80, two legs sharing one id
	e, _ := newEngine(t, newStore)
	x := open(t, e, "xavier", 50)
	y := open(t, e, "yvonne", 200)

	result, err := e.Transfer(context.Background(), x.ID, y.ID, 120, "")
	require.NoError(t, err)

	assert.Equal(t, int64(170), balanceOf(t, e, x.ID))
	assert.Equal(t, int64(80), balanceOf(t, e, y.ID))
	assert.Equal(t, int64(170), result.DepositAccount.Balance)
	assert.Equal(t, int64(80), result.WithdrawalAccount.Balance)

	xTxs, yTxs := history(t, e, x.ID), history(t, e, y.ID)
	require.Len(t, xTxs, 1)
	require.Len(t, yTxs, 1)

	deposit, withdrawal := xTxs[0], yTxs[0]
	assert.Equal(t, ledger.RequestDeposit, deposit.RequestType)
	assert.Equal(t, ledger.RequestWithdrawal, withdrawal.RequestType)
	assert.NotEmpty(t, deposit.Metadata.SharedID)
	assert.Equal(t, deposit.Metadata.SharedID, withdrawal.Metadata.SharedID)
	assert.Equal(t, result.SharedID(), deposit.Metadata.SharedID)
	assert.Empty(t, withdrawal.Metadata.ParentID)
	assert.Empty(t, deposit.Metadata.ParentID)

	assert.Equal(t, "Transfer from yvonne - ACC-yvonne", deposit.Metadata.Description)
	assert.Equal(t, "Transfer to xavier - ACC-xavier", withdrawal.Metadata.Description)
	assert.Equal(t, x.OwnerID, deposit.OwnerID)
	assert.Equal(t, y.OwnerID, withdrawal.OwnerID)
	assert.Equal(t, result.WithdrawalLeg.ID, withdrawal.ID)
}

func testTransferAtomicity(t *testing.T, newStore NewStore) {
	// GIVEN: Y has 10
	// WHEN: transferring 11 from Y to X
	// THEN: neither balance changes and no rows are written
	e, _ := newEngine(t, newStore)
	x := open(t, e, "xavier", 5)
	y := open(t, e, "yvonne", 10)

	_, err := e.Transfer(context.Background(), x.ID, y.ID, 11, "")
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	assert.Equal(t, int64(5), balanceOf(t, e, x.ID))
	assert.Equal(t, int64(10), balanceOf(t, e, y.ID))
	assert.Empty(t, history(t, e, x.ID))
	assert.Empty(t, history(t, e, y.ID))
}

func testTransferOverflow(t *testing.T, newStore NewStore) {
	// GIVEN: X two short of the largest balance and Y with 10
	// WHEN: transferring 5 from Y to X
	// THEN: the transfer is rejected and Y keeps its money
	e, s := newEngine(t, newStore)
	x := open(t, e, "xavier", math.MaxInt64-2)
	y := open(t, e, "yvonne", 10)
	ctx := context.Background()

	_, err := e.Transfer(ctx, x.ID, y.ID, 5, "")
	require.ErrorIs(t, err, ledger.ErrBalanceOverflow)
	assert.Equal(t, int64(math.MaxInt64-2), balanceOf(t, e, x.ID))
	assert.Equal(t, int64(10), balanceOf(t, e, y.ID))
	assert.Empty(t, history(t, e, x.ID))
	assert.Empty(t, history(t, e, y.ID))

	// A failed nested pair undoes its debit and leaves the enclosing scope usable.
	err = s.WithTx(ctx, func(tx ledger.Store) error {
		_, err := tx.TransferPair(ctx, y.ID, x.ID, 5)
		require.ErrorIs(t, err, ledger.ErrBalanceOverflow)
		_, err = tx.Increment(ctx, y.ID, 1)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64-2), balanceOf(t, e, x.ID))
	assert.Equal(t, int64(11), balanceOf(t, e, y.ID))
}

func testTransferMissingAccounts(t *testing.T, newStore NewStore) {
	e, _ := newEngine(t, newStore)
	y := open(t, e, "yvonne", 10)
	ctx := context.Background()

	// Credited account missing: the debit must not happen.
	_, err := e.Transfer(ctx, "missing", y.ID, 5, "")
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
	assert.Equal(t, int64(10), balanceOf(t, e, y.ID))
	assert.Empty(t, history(t, e, y.ID))

	_, err = e.Transfer(ctx, y.ID, "missing", 5, "")
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
	assert.Equal(t, int64(10), balanceOf(t, e, y.ID))
}

func testTransferSameAccount(t *testing.T, newStore NewStore) {
	e, _ := newEngine(t, newStore)
	a := open(t, e, "alice", 10)

	_, err := e.Transfer(context.Background(), a.ID, a.ID, 5, "")
	require.ErrorIs(t, err, ledger.ErrSameAccount)
	assert.True(t, ledger.IsClientError(err))
	assert.Equal(t, int64(10), balanceOf(t, e, a.ID))
	assert.Empty(t, history(t, e, a.ID))
}

// =============================================================================
// REFUNDS
// =============================================================================

func testRefund(t *testing.T, newStore NewStore) {
	// GIVEN: a transfer of 30 from Y to X (withdrawal leg W on Y)
	// WHEN: refund(W.id)
	// THEN: 30 flows from X back to Y and the new withdrawal leg points at W
	e, _ := newEngine(t, newStore)
	x := open(t, e, "xavier", 0)
	y := open(t, e, "yvonne", 100)
	ctx := context.Background()

	original, err := e.Transfer(ctx, x.ID, y.ID, 30, "")
	require.NoError(t, err)
	w := original.WithdrawalLeg

	refund, err := e.Refund(ctx, w.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(0), balanceOf(t, e, x.ID))
	assert.Equal(t, int64(100), balanceOf(t, e, y.ID))

	assert.Equal(t, y.ID, refund.DepositLeg.VirtualAccountID)
	assert.Equal(t, x.ID, refund.WithdrawalLeg.VirtualAccountID)
	assert.Equal(t, w.Amount, refund.WithdrawalLeg.Amount)
	assert.Equal(t, w.ID, refund.WithdrawalLeg.Metadata.ParentID)
	assert.Empty(t, refund.DepositLeg.Metadata.ParentID)
	assert.NotEqual(t, original.SharedID(), refund.SharedID())
	assert.Equal(t, refund.DepositLeg.Metadata.SharedID, refund.WithdrawalLeg.Metadata.SharedID)

	// Original rows are untouched.
	stored, err := e.GetTransaction(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.Metadata, stored.Metadata)
	assert.Equal(t, ledger.StatusSuccessful, stored.Status)

	assert.Len(t, history(t, e, x.ID), 2)
	assert.Len(t, history(t, e, y.ID), 2)
}

func testRefundTwice(t *testing.T, newStore NewStore) {
	// Refunds are not deduplicated: each call is an independent reversal.
	e, _ := newEngine(t, newStore)
	x := open(t, e, "xavier", 0)
	y := open(t, e, "yvonne", 100)
	ctx := context.Background()

	original, err := e.Transfer(ctx, x.ID, y.ID, 40, "")
	require.NoError(t, err)
	_, err = e.Deposit(ctx, x.ID, 40)
	require.NoError(t, err)

	first, err := e.Refund(ctx, original.WithdrawalLeg.ID)
	require.NoError(t, err)
	second, err := e.Refund(ctx, original.WithdrawalLeg.ID)
	require.NoError(t, err)

	assert.NotEqual(t, first.SharedID(), second.SharedID())
	assert.Equal(t, original.WithdrawalLeg.ID, first.WithdrawalLeg.Metadata.ParentID)
	assert.Equal(t, original.WithdrawalLeg.ID, second.WithdrawalLeg.Metadata.ParentID)
	assert.Equal(t, int64(0), balanceOf(t, e, x.ID))
	assert.Equal(t, int64(140), balanceOf(t, e, y.ID))
}

func testRefundRejects(t *testing.T, newStore NewStore) {
	e, _ := newEngine(t, newStore)
	x := open(t, e, "xavier", 0)
	y := open(t, e, "yvonne", 100)
	ctx := context.Background()

	_, err := e.Refund(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)

	// A plain withdrawal has no sibling leg.
	_, err = e.Withdraw(ctx, y.ID, 10)
	require.NoError(t, err)
	plain := history(t, e, y.ID)[0]
	_, err = e.Refund(ctx, plain.ID)
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)

	// The deposit leg of a transfer is not refundable.
	transfer, err := e.Transfer(ctx, x.ID, y.ID, 10, "")
	require.NoError(t, err)
	_, err = e.Refund(ctx, transfer.DepositLeg.ID)
	var notFound *ledger.TransactionNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, transfer.DepositLeg.ID, notFound.ID)

	assert.Equal(t, int64(10), balanceOf(t, e, x.ID))
	assert.Equal(t, int64(80), balanceOf(t, e, y.ID))
}

func testRefundInsufficient(t *testing.T, newStore NewStore) {
	// GIVEN: the recipient spent the transferred money
	// WHEN: refunding
	// THEN: InsufficientBalance and no rows are added
	e, _ := newEngine(t, newStore)
	x := open(t, e, "xavier", 0)
	y := open(t, e, "yvonne", 50)
	ctx := context.Background()

	transfer, err := e.Transfer(ctx, x.ID, y.ID, 50, "")
	require.NoError(t, err)
	_, err = e.Withdraw(ctx, x.ID, 20)
	require.NoError(t, err)

	_, err = e.Refund(ctx, transfer.WithdrawalLeg.ID)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	assert.Equal(t, int64(30), balanceOf(t, e, x.ID))
	assert.Equal(t, int64(0), balanceOf(t, e, y.ID))
	assert.Len(t, history(t, e, x.ID), 2)
	assert.Len(t, history(t, e, y.ID), 1)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func testConcurrentWithdrawals(t *testing.T, newStore NewStore) {
	// GIVEN: balance exactly 500
	// WHEN: 16 goroutines each withdraw 500
	// THEN: exactly one succeeds, the rest get InsufficientBalance, balance 0
	const workers = 16
	e, _ := newEngine(t, newStore)
	a := open(t, e, "alice", 500)

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		successes    int
		insufficient int
		others       []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := e.Withdraw(context.Background(), a.ID, 500)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ledger.ErrInsufficientBalance):
				insufficient++
			default:
				others = append(others, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, others)
	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, insufficient)
	assert.Equal(t, int64(0), balanceOf(t, e, a.ID))
	assert.Len(t, history(t, e, a.ID), 1)
}

// =============================================================================
// HISTORY
// =============================================================================

func testPagination(t *testing.T, newStore NewStore) {
	// GIVEN: five deposits of 1..5
	// WHEN: limit=2 offset=1
	// THEN: rows 2 and 3 in insertion order
	e, _ := newEngine(t, newStore)
	a := open(t, e, "alice", 0)
	other := open(t, e, "bob", 0)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		_, err := e.Deposit(ctx, a.ID, i)
		require.NoError(t, err)
		_, err = e.Deposit(ctx, other.ID, 100+i)
		require.NoError(t, err)
	}

	page, err := e.GetTransactions(ctx, a.ID, ledger.Page{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].Amount)
	assert.Equal(t, int64(3), page[1].Amount)

	all, err := e.GetTransactions(ctx, a.ID, ledger.Page{})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	past, err := e.GetTransactions(ctx, a.ID, ledger.Page{Limit: 2, Offset: 10})
	require.NoError(t, err)
	assert.NotNil(t, past)
	assert.Empty(t, past)

	none, err := e.GetTransactions(ctx, "missing", ledger.Page{})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

// =============================================================================
// SCOPED TRANSACTIONS
// =============================================================================

var errAbort = errors.New("abort")

func testWithTxRollback(t *testing.T, newStore NewStore) {
	e, s := newEngine(t, newStore)
	a := open(t, e, "alice", 100)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.Increment(ctx, a.ID, 50); err != nil {
			return err
		}
		if _, err := tx.CreateTransaction(ctx, ledger.TransactionRequest{
			OwnerID:          a.OwnerID,
			VirtualAccountID: a.ID,
			RequestType:      ledger.RequestDeposit,
			Status:           ledger.StatusSuccessful,
			Amount:           50,
			Currency:         ledger.CurrencyUSD,
		}); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	assert.Equal(t, int64(100), balanceOf(t, e, a.ID))
	assert.Empty(t, history(t, e, a.ID))

	// Nested helpers roll back with the enclosing scope.
	b := open(t, e, "bob", 0)
	err = s.WithTx(ctx, func(tx ledger.Store) error {
		pair, err := tx.TransferPair(ctx, a.ID, b.ID, 60)
		if err != nil {
			return err
		}
		require.True(t, pair.Applied)
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)
	assert.Equal(t, int64(100), balanceOf(t, e, a.ID))
	assert.Equal(t, int64(0), balanceOf(t, e, b.ID))

	// A failed guard is a result, not an error.
	debit, err := s.Decrement(ctx, a.ID, 101)
	require.NoError(t, err)
	assert.False(t, debit.Applied)
	assert.Equal(t, int64(100), balanceOf(t, e, a.ID))
}
