//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/Lawal-create/Virtual-Bank-Accounts-Manager/ledger"
	"github.com/Lawal-create/Virtual-Bank-Accounts-Manager/ledger/ledgertest"
	"github.com/Lawal-create/Virtual-Bank-Accounts-Manager/store/postgres"
)

// setupPostgres starts a disposable PostgreSQL container, applies the
// migrations and returns a connected store.
func setupPostgres(t *testing.T) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ledger"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := postgres.Connect(ctx, dsn, postgres.DefaultPoolConfig)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Migrate("public", zaptest.NewLogger(t)))
	return store
}

func truncate(t *testing.T, store *postgres.Store) {
	t.Helper()
	_, err := store.Pool().Exec(context.Background(), `TRUNCATE transaction_requests, accounts`)
	require.NoError(t, err)
}

func TestIntegration_Postgres(t *testing.T) {
	store := setupPostgres(t)

	t.Run("EngineSuite", func(t *testing.T) {
		ledgertest.Run(t, func(t *testing.T) ledger.Store {
			truncate(t, store)
			return store
		})
	})

	t.Run("MigrateIsIdempotent", func(t *testing.T) {
		assert.NoError(t, store.Migrate("public", zaptest.NewLogger(t)))
	})

	t.Run("NegativeBalanceRejectedBySchema", func(t *testing.T) {
		truncate(t, store)
		_, err := store.CreateAccount(context.Background(), ledger.Account{OwnerID: "o", Balance: -1})
		assert.ErrorIs(t, err, ledger.ErrInvalidAccount)
	})

	t.Run("OppositeTransfersDoNotDeadlock", func(t *testing.T) {
		// GIVEN: A and B with 1000 each
		// WHEN: transfers run concurrently in both directions
		// THEN: all succeed and the total is conserved
		truncate(t, store)
		ctx := context.Background()
		engine := ledger.NewEngine(store, zaptest.NewLogger(t))

		a, err := engine.OpenAccount(ctx, ledger.Account{
			OwnerID:  "a",
			Balance:  1000,
			Metadata: ledger.AccountMetadata{Currency: ledger.CurrencyUSD},
		})
		require.NoError(t, err)
		b, err := engine.OpenAccount(ctx, ledger.Account{
			OwnerID:  "b",
			Balance:  1000,
			Metadata: ledger.AccountMetadata{Currency: ledger.CurrencyUSD},
		})
		require.NoError(t, err)

		const rounds = 20
		errs := make(chan error, 2*rounds)
		var wg sync.WaitGroup
		for i := 0; i < rounds; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, err := engine.Transfer(ctx, a.ID, b.ID, 1, "")
				errs <- err
			}()
			go func() {
				defer wg.Done()
				_, err := engine.Transfer(ctx, b.ID, a.ID, 1, "")
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			assert.NoError(t, err)
		}
		balanceA, err := engine.GetBalance(ctx, a.ID)
		require.NoError(t, err)
		balanceB, err := engine.GetBalance(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), balanceA.Amount)
		assert.Equal(t, int64(1000), balanceB.Amount)
	})

	t.Run("MetadataRoundTrip", func(t *testing.T) {
		truncate(t, store)
		ctx := context.Background()

		account, err := store.CreateAccount(ctx, ledger.Account{
			OwnerID: "o",
			Metadata: ledger.AccountMetadata{
				AccountName:   "Savings",
				AccountNumber: "0123",
				Currency:      ledger.CurrencyEUR,
				SwiftCode:     "ABCDEF12",
			},
		})
		require.NoError(t, err)

		got, err := store.GetAccount(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, account.Metadata, got.Metadata)

		meta := ledger.TransactionMetadata{Description: "d", SharedID: "s-1", ParentID: "p-1"}
		tx, err := store.CreateTransaction(ctx, ledger.TransactionRequest{
			OwnerID:          "o",
			VirtualAccountID: account.ID,
			RequestType:      ledger.RequestWithdrawal,
			Status:           ledger.StatusFailed,
			Amount:           3,
			Currency:         ledger.CurrencyEUR,
			Metadata:         meta,
		})
		require.NoError(t, err)

		stored, err := store.GetTransaction(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, meta, stored.Metadata)
		assert.Equal(t, ledger.StatusFailed, stored.Status)
	})
}
