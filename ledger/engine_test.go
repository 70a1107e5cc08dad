package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Lawal-create/Virtual-Bank-Accounts-Manager/ledger"
	"github.com/Lawal-create/Virtual-Bank-Accounts-Manager/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newObservedEngine(t *testing.T) (*ledger.Engine, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	return ledger.NewEngine(store.NewMemory(), zap.New(core)), logs
}

func account(name string, balance int64) ledger.Account {
	return ledger.Account{
		OwnerID: "owner-" + name,
		Balance: balance,
		Metadata: ledger.AccountMetadata{
			AccountName:   name,
			AccountNumber: "N-" + name,
			Currency:      ledger.CurrencyUSD,
		},
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestEngine_OpenAccount_Validates(t *testing.T) {
	e := ledger.NewEngine(store.NewMemory(), nil)
	ctx := context.Background()

	_, err := e.OpenAccount(ctx, ledger.Account{Metadata: ledger.AccountMetadata{Currency: ledger.CurrencyUSD}})
	assert.ErrorIs(t, err, ledger.ErrInvalidAccount, "owner is required")

	_, err = e.OpenAccount(ctx, account("neg", -1))
	assert.ErrorIs(t, err, ledger.ErrInvalidAccount)

	bad := account("yen", 0)
	bad.Metadata.Currency = "jpy"
	_, err = e.OpenAccount(ctx, bad)
	assert.ErrorIs(t, err, ledger.ErrInvalidAccount)

	created, err := e.OpenAccount(ctx, account("ok", 10))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	got, err := e.GetAccount(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Metadata, got.Metadata)
}

// =============================================================================
// LOGGING
// =============================================================================

func TestEngine_LogsTransfersAtInfo(t *testing.T) {
	e, logs := newObservedEngine(t)
	ctx := context.Background()

	x, err := e.OpenAccount(ctx, account("x", 0))
	require.NoError(t, err)
	y, err := e.OpenAccount(ctx, account("y", 100))
	require.NoError(t, err)

	result, err := e.Transfer(ctx, x.ID, y.ID, 25, "")
	require.NoError(t, err)

	entries := logs.FilterMessage("transfer recorded").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "ledger", entries[0].LoggerName)
	fields := entries[0].ContextMap()
	assert.Equal(t, result.SharedID(), fields["shared_id"])
	assert.Equal(t, int64(25), fields["amount"])
	assert.NotContains(t, fields, "parent_id")

	_, err = e.Refund(ctx, result.WithdrawalLeg.ID)
	require.NoError(t, err)
	refunds := logs.FilterMessage("refund recorded").All()
	require.Len(t, refunds, 1)
	assert.Equal(t, result.WithdrawalLeg.ID, refunds[0].ContextMap()["parent_id"])
}

func TestEngine_LogsRejectionsAtWarn(t *testing.T) {
	e, logs := newObservedEngine(t)
	ctx := context.Background()

	a, err := e.OpenAccount(ctx, account("a", 5))
	require.NoError(t, err)

	_, err = e.Withdraw(ctx, a.ID, 6)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	warns := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warns, 1)
	assert.Equal(t, "withdrawal rejected", warns[0].Message)
	assert.Equal(t, a.ID, warns[0].ContextMap()["account_id"])
}

type brokenStore struct {
	ledger.Store
}

var errDisk = errors.New("disk full")

func (brokenStore) WithTx(context.Context, func(ledger.Store) error) error {
	return errDisk
}

func TestEngine_StoreFailuresPropagateUnlogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := ledger.NewEngine(brokenStore{Store: store.NewMemory()}, zap.New(core))

	_, err := e.Transfer(context.Background(), "a", "b", 1, "")
	assert.ErrorIs(t, err, errDisk)
	assert.False(t, ledger.IsNotFound(err))
	assert.Zero(t, logs.Len())
}
