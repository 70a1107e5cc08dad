/*
store.go - Persistence contracts for accounts and transaction requests

KEY INTERFACES:
  AccountStore:     Balance records and the guarded, atomic mutations on them
  TransactionStore: Append-only transaction requests
  Store:            Both of the above plus a callback-scoped transaction

GUARDED DECREMENT:
  Decrement() is a single conditional statement: subtract only if the
  resulting balance stays >= 0. A failed guard is reported through
  Debit.Applied, not through an error. Two concurrent withdrawals can
  never both observe a sufficient balance.

APPEND-ONLY CONTRACT:
  TransactionStore has no Update or Delete. A refund is a new transfer.

ATOMIC UNITS:
  WithTx(fn) commits when fn returns nil and rolls back otherwise. The
  Store handed to fn is bound to the open transaction, so TransferPair and
  CreatePair called through it join the outer unit instead of opening
  their own.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for tests
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL
*/
package ledger

import "context"

// Debit is the outcome of a guarded decrement.
// Applied is false when the balance was too low (or the row is missing);
// Account is then the zero value.
type Debit struct {
	Account Account
	Applied bool
}

// Pair is the outcome of TransferPair.
type Pair struct {
	Debited  Account
	Credited Account
	Applied  bool
}

// AccountStore owns every balance mutation.
type AccountStore interface {
	// CreateAccount persists a new account, assigning ID and timestamps when empty.
	CreateAccount(ctx context.Context, account Account) (Account, error)

	// GetAccount returns ErrAccountNotFound when id has no row.
	GetAccount(ctx context.Context, id string) (Account, error)

	// Decrement subtracts amount only if the balance stays non-negative.
	Decrement(ctx context.Context, id string, amount int64) (Debit, error)

	// Increment adds amount. Returns ErrAccountNotFound when id has no row
	// and ErrBalanceOverflow, with nothing mutated, when the sum would not
	// fit in an int64.
	Increment(ctx context.Context, id string, amount int64) (Account, error)

	// TransferPair debits fromID (guarded) then credits toID atomically.
	// A failed guard returns Applied=false with nothing mutated; a missing
	// toID or an overflowing credit returns the Increment error and the
	// debit is rolled back.
	TransferPair(ctx context.Context, fromID, toID string, amount int64) (Pair, error)
}

// TransactionStore is the append-only transaction request log.
type TransactionStore interface {
	// CreateTransaction appends one row, returning it with generated id and timestamps.
	CreateTransaction(ctx context.Context, record TransactionRequest) (TransactionRequest, error)

	// CreatePair appends both legs of a transfer atomically.
	CreatePair(ctx context.Context, deposit, withdrawal TransactionRequest) (TransactionRequest, TransactionRequest, error)

	// GetTransaction returns ErrTransactionNotFound when id has no row.
	GetTransaction(ctx context.Context, id string) (TransactionRequest, error)

	// GetBySharedID returns the other leg: same shared id, different row id.
	GetBySharedID(ctx context.Context, excludeID, sharedID string) (TransactionRequest, error)

	// ListTransactions returns one account's rows in insertion order.
	ListTransactions(ctx context.Context, accountID string, page Page) ([]TransactionRequest, error)
}

// Store is everything the engine needs from persistence.
type Store interface {
	AccountStore
	TransactionStore

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
