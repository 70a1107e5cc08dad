/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

KEY TABLES:
  accounts:             Balance records, CHECK (balance >= 0)
  transaction_requests: Append-only log, ordered by rowid (insertion order)

GUARDED DECREMENT:
  UPDATE accounts SET balance = balance - ? WHERE id = ? AND balance >= ?
  RETURNING ...
  No row back means the guard failed. The CHECK constraint backs the guard
  at the schema level.

CONCURRENCY:
  SQLite allows a single writer. The pool is capped at one connection so
  every statement and transaction is serialized by database/sql.

TRANSACTIONS:
  WithTx begins a transaction and hands fn a Store bound to it. Atomic
  helpers (TransferPair, CreatePair) open their own transaction at the top
  level and a SAVEPOINT when already inside one.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store, logger)

MIGRATION:
  Schema is auto-migrated on New(). Use ":memory:" for tests.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/Lawal-create/Virtual-Bank-Accounts-Manager/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	*queries
	db *sql.DB
}

var _ ledger.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{
		db: db,
		queries: &queries{
			db:  db,
			q:   db,
			now: func() time.Time { return time.Now().UTC() },
		},
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_owner
		ON accounts(owner_id);

	-- Append-only: the core never issues UPDATE or DELETE here
	CREATE TABLE IF NOT EXISTS transaction_requests (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		virtual_account_id TEXT NOT NULL REFERENCES accounts(id),
		request_type TEXT NOT NULL CHECK (request_type IN ('deposit', 'withdrawal')),
		status TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'successful', 'failed', 'canceled')),
		amount INTEGER NOT NULL CHECK (amount > 0),
		currency TEXT NOT NULL DEFAULT 'usd',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transaction_requests_account
		ON transaction_requests(virtual_account_id);

	-- Sibling-leg lookup for refunds
	CREATE INDEX IF NOT EXISTS idx_transaction_requests_shared_id
		ON transaction_requests(json_extract(metadata, '$.shared_id'));
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// QUERIES - Shared by the root store and transaction-bound views
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db    *sql.DB
	q     querier
	tx    *sql.Tx // nil outside WithTx
	depth int     // savepoint nesting inside tx
	now   func() time.Time
}

// WithTx executes fn within a database transaction.
func (qs *queries) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return qs.atomic(ctx, func(inner *queries) error {
		return fn(inner)
	})
}

// atomic runs fn in a transaction, or in a savepoint when one is already open.
func (qs *queries) atomic(ctx context.Context, fn func(*queries) error) error {
	if qs.tx == nil {
		sqlTx, err := qs.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer sqlTx.Rollback()

		if err := fn(&queries{db: qs.db, q: sqlTx, tx: sqlTx, now: qs.now}); err != nil {
			return err
		}
		if err := sqlTx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	}

	inner := &queries{db: qs.db, q: qs.tx, tx: qs.tx, depth: qs.depth + 1, now: qs.now}
	name := fmt.Sprintf("sp_%d", inner.depth)
	if _, err := qs.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to open savepoint: %w", err)
	}
	if err := fn(inner); err != nil {
		if _, rbErr := qs.tx.ExecContext(ctx, "ROLLBACK TO "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to roll back savepoint: %w", rbErr))
		}
		if _, relErr := qs.tx.ExecContext(ctx, "RELEASE "+name); relErr != nil {
			return errors.Join(err, fmt.Errorf("failed to release savepoint: %w", relErr))
		}
		return err
	}
	if _, err := qs.tx.ExecContext(ctx, "RELEASE "+name); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

const accountColumns = `id, owner_id, balance, metadata, created_at, updated_at`

// CreateAccount inserts a new account.
func (qs *queries) CreateAccount(ctx context.Context, account ledger.Account) (ledger.Account, error) {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := qs.now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = now
	}
	metadataJSON, err := json.Marshal(account.Metadata)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to encode account metadata: %w", err)
	}

	_, err = qs.q.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.OwnerID,
		account.Balance,
		string(metadataJSON),
		formatTime(account.CreatedAt),
		formatTime(account.UpdatedAt),
	)
	if err != nil {
		if isConstraintError(err) {
			return ledger.Account{}, fmt.Errorf("%w: %v", ledger.ErrInvalidAccount, err)
		}
		return ledger.Account{}, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

// GetAccount retrieves an account by ID.
func (qs *queries) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	row := qs.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// Decrement is the guarded decrement: no row back means the guard failed.
func (qs *queries) Decrement(ctx context.Context, id string, amount int64) (ledger.Debit, error) {
	row := qs.q.QueryRowContext(ctx, `
		UPDATE accounts
		SET balance = balance - ?, updated_at = ?
		WHERE id = ? AND balance >= ?
		RETURNING `+accountColumns,
		amount, formatTime(qs.now()), id, amount,
	)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Debit{}, nil
	}
	if err != nil {
		return ledger.Debit{}, fmt.Errorf("failed to decrement balance: %w", err)
	}
	return ledger.Debit{Account: account, Applied: true}, nil
}

// Increment adds amount to an account's balance.
func (qs *queries) Increment(ctx context.Context, id string, amount int64) (ledger.Account, error) {
	row := qs.q.QueryRowContext(ctx, `
		UPDATE accounts
		SET balance = balance + ?, updated_at = ?
		WHERE id = ? AND balance <= ?
		RETURNING `+accountColumns,
		amount, formatTime(qs.now()), id, math.MaxInt64-amount,
	)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the id is missing or the credit would overflow.
		if _, err := qs.GetAccount(ctx, id); err != nil {
			return ledger.Account{}, err
		}
		return ledger.Account{}, ledger.ErrBalanceOverflow
	}
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to increment balance: %w", err)
	}
	return account, nil
}

// TransferPair debits fromID and credits toID in one transaction.
func (qs *queries) TransferPair(ctx context.Context, fromID, toID string, amount int64) (ledger.Pair, error) {
	var pair ledger.Pair
	err := qs.atomic(ctx, func(inner *queries) error {
		debit, err := inner.Decrement(ctx, fromID, amount)
		if err != nil {
			return err
		}
		if !debit.Applied {
			return errGuardFailed
		}
		credited, err := inner.Increment(ctx, toID, amount)
		if err != nil {
			return err
		}
		pair = ledger.Pair{Debited: debit.Account, Credited: credited, Applied: true}
		return nil
	})
	if errors.Is(err, errGuardFailed) {
		return ledger.Pair{}, nil
	}
	if err != nil {
		return ledger.Pair{}, err
	}
	return pair, nil
}

// errGuardFailed aborts TransferPair's transaction; it never leaves this package.
var errGuardFailed = errors.New("guarded decrement did not apply")

func scanAccount(row *sql.Row) (ledger.Account, error) {
	var (
		account      ledger.Account
		metadataJSON string
		createdAt    string
		updatedAt    string
	)
	err := row.Scan(&account.ID, &account.OwnerID, &account.Balance, &metadataJSON, &createdAt, &updatedAt)
	if err != nil {
		return ledger.Account{}, err
	}
	if err := json.Unmarshal([]byte(metadataJSON), &account.Metadata); err != nil {
		return ledger.Account{}, fmt.Errorf("failed to decode account metadata: %w", err)
	}
	account.CreatedAt = parseTime(createdAt)
	account.UpdatedAt = parseTime(updatedAt)
	return account, nil
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

const transactionColumns = `id, owner_id, virtual_account_id, request_type, status, amount,
	currency, metadata, created_at, updated_at`

// CreateTransaction appends one transaction request.
func (qs *queries) CreateTransaction(ctx context.Context, record ledger.TransactionRequest) (ledger.TransactionRequest, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = ledger.StatusPending
	}
	if record.Currency == "" {
		record.Currency = ledger.CurrencyUSD
	}
	now := qs.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	metadataJSON, err := json.Marshal(record.Metadata)
	if err != nil {
		return ledger.TransactionRequest{}, fmt.Errorf("failed to encode transaction metadata: %w", err)
	}

	_, err = qs.q.ExecContext(ctx, `
		INSERT INTO transaction_requests (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.OwnerID,
		record.VirtualAccountID,
		record.RequestType,
		record.Status,
		record.Amount,
		record.Currency,
		string(metadataJSON),
		formatTime(record.CreatedAt),
		formatTime(record.UpdatedAt),
	)
	if err != nil {
		return ledger.TransactionRequest{}, fmt.Errorf("failed to append transaction request: %w", err)
	}
	return record, nil
}

// CreatePair appends both legs of a transfer atomically.
func (qs *queries) CreatePair(ctx context.Context, deposit, withdrawal ledger.TransactionRequest) (ledger.TransactionRequest, ledger.TransactionRequest, error) {
	var depositRow, withdrawalRow ledger.TransactionRequest
	err := qs.atomic(ctx, func(inner *queries) error {
		var err error
		if depositRow, err = inner.CreateTransaction(ctx, deposit); err != nil {
			return err
		}
		withdrawalRow, err = inner.CreateTransaction(ctx, withdrawal)
		return err
	})
	if err != nil {
		return ledger.TransactionRequest{}, ledger.TransactionRequest{}, err
	}
	return depositRow, withdrawalRow, nil
}

// GetTransaction returns a specific transaction request by ID.
func (qs *queries) GetTransaction(ctx context.Context, id string) (ledger.TransactionRequest, error) {
	txs, err := qs.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transaction_requests WHERE id = ?`, id)
	if err != nil {
		return ledger.TransactionRequest{}, err
	}
	if len(txs) == 0 {
		return ledger.TransactionRequest{}, ledger.ErrTransactionNotFound
	}
	return txs[0], nil
}

// GetBySharedID returns the other leg of a transfer.
func (qs *queries) GetBySharedID(ctx context.Context, excludeID, sharedID string) (ledger.TransactionRequest, error) {
	if sharedID == "" {
		return ledger.TransactionRequest{}, ledger.ErrTransactionNotFound
	}
	txs, err := qs.queryTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM transaction_requests
		WHERE id <> ? AND json_extract(metadata, '$.shared_id') = ?
		ORDER BY rowid ASC
		LIMIT 1`,
		excludeID, sharedID,
	)
	if err != nil {
		return ledger.TransactionRequest{}, err
	}
	if len(txs) == 0 {
		return ledger.TransactionRequest{}, ledger.ErrTransactionNotFound
	}
	return txs[0], nil
}

// ListTransactions returns one account's history in insertion order.
func (qs *queries) ListTransactions(ctx context.Context, accountID string, page ledger.Page) ([]ledger.TransactionRequest, error) {
	page = page.Normalize()
	txs, err := qs.queryTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM transaction_requests
		WHERE virtual_account_id = ?
		ORDER BY rowid ASC
		LIMIT ? OFFSET ?`,
		accountID, page.Limit, page.Offset,
	)
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []ledger.TransactionRequest{}
	}
	return txs, nil
}

func (qs *queries) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.TransactionRequest, error) {
	rows, err := qs.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction requests: %w", err)
	}
	defer rows.Close()

	var txs []ledger.TransactionRequest
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.TransactionRequest, error) {
	var (
		tx           ledger.TransactionRequest
		metadataJSON string
		createdAt    string
		updatedAt    string
	)
	err := rows.Scan(
		&tx.ID, &tx.OwnerID, &tx.VirtualAccountID, &tx.RequestType, &tx.Status, &tx.Amount,
		&tx.Currency, &metadataJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction request: %w", err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &tx.Metadata); err != nil {
		return tx, fmt.Errorf("failed to decode transaction metadata: %w", err)
	}
	tx.CreatedAt = parseTime(createdAt)
	tx.UpdatedAt = parseTime(updatedAt)
	return tx, nil
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}
