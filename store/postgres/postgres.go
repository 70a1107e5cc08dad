/*
Package postgres provides a PostgreSQL implementation of ledger.Store on a
pgx connection pool.

GUARDED DECREMENT:
  UPDATE accounts SET balance = balance - $1 WHERE id = $2 AND balance >= $1
  RETURNING ...
  The UPDATE takes the row lock, so concurrent debits of one account queue
  behind each other and re-evaluate the guard against the committed balance.
  Read committed isolation is enough.

TRANSACTIONS:
  WithTx, TransferPair and CreatePair use pgx.BeginFunc. Called on a pgx.Tx
  that becomes a SAVEPOINT, so the helpers join an enclosing WithTx.

SCHEMA:
  Managed by golang-migrate from the embedded migrations/ directory.
  See Migrate().
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Lawal-create/Virtual-Bank-Accounts-Manager/ledger"
)

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultPoolConfig mirrors the settings used for serverless Postgres.
var DefaultPoolConfig = PoolConfig{
	MaxConns:        10,
	MinConns:        0,
	MaxConnLifetime: time.Hour,
	MaxConnIdleTime: 30 * time.Minute,
}

// Store implements ledger.Store using PostgreSQL.
type Store struct {
	*queries
	pool *pgxpool.Pool
}

var _ ledger.Store = (*Store)(nil)

// Connect parses dsn, opens a pool and pings it.
func Connect(ctx context.Context, dsn string, pc PoolConfig) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	config.MaxConns = pc.MaxConns
	config.MinConns = pc.MinConns
	config.MaxConnLifetime = pc.MaxConnLifetime
	config.MaxConnIdleTime = pc.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
		queries: &queries{
			db:  pool,
			now: func() time.Time { return time.Now().UTC() },
		},
	}
}

// Pool exposes the underlying pool (migrations, health checks).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes every connection in the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// =============================================================================
// QUERIES - Shared by the pool-backed store and transaction-bound views
// =============================================================================

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type queries struct {
	db  dbtx
	now func() time.Time
}

// WithTx executes fn within a transaction (a savepoint when nested).
func (qs *queries) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return qs.atomic(ctx, func(inner *queries) error {
		return fn(inner)
	})
}

func (qs *queries) atomic(ctx context.Context, fn func(*queries) error) error {
	return pgx.BeginFunc(ctx, qs.db, func(tx pgx.Tx) error {
		return fn(&queries{db: tx, now: qs.now})
	})
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

const accountColumns = `id, owner_id, balance, metadata, created_at, updated_at`

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

	row := qs.db.QueryRow(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+accountColumns,
		account.ID, account.OwnerID, account.Balance, metadataJSON, account.CreatedAt, account.UpdatedAt,
	)
	created, err := scanAccount(row)
	if err != nil {
		if isConstraintError(err) {
			return ledger.Account{}, fmt.Errorf("%w: %v", ledger.ErrInvalidAccount, err)
		}
		return ledger.Account{}, fmt.Errorf("failed to create account: %w", err)
	}
	return created, nil
}

func (qs *queries) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	row := qs.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

func (qs *queries) Decrement(ctx context.Context, id string, amount int64) (ledger.Debit, error) {
	row := qs.db.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance - $1, updated_at = $2
		WHERE id = $3 AND balance >= $1
		RETURNING `+accountColumns,
		amount, qs.now(), id,
	)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Debit{}, nil
	}
	if err != nil {
		return ledger.Debit{}, fmt.Errorf("failed to decrement balance: %w", err)
	}
	return ledger.Debit{Account: account, Applied: true}, nil
}

func (qs *queries) Increment(ctx context.Context, id string, amount int64) (ledger.Account, error) {
	row := qs.db.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance + $1, updated_at = $2
		WHERE id = $3 AND balance <= $4
		RETURNING `+accountColumns,
		amount, qs.now(), id, math.MaxInt64-amount,
	)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
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

// errGuardFailed aborts TransferPair's transaction; it never leaves this package.
var errGuardFailed = errors.New("guarded decrement did not apply")

func (qs *queries) TransferPair(ctx context.Context, fromID, toID string, amount int64) (ledger.Pair, error) {
	var pair ledger.Pair
	err := qs.atomic(ctx, func(inner *queries) error {
		// Lock both rows in id order so opposite-direction transfers queue
		// instead of deadlocking.
		if _, err := inner.db.Exec(ctx,
			`SELECT id FROM accounts WHERE id IN ($1, $2) ORDER BY id FOR UPDATE`,
			fromID, toID,
		); err != nil {
			return fmt.Errorf("failed to lock accounts: %w", err)
		}
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

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var (
		account      ledger.Account
		metadataJSON []byte
	)
	err := row.Scan(&account.ID, &account.OwnerID, &account.Balance, &metadataJSON, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return ledger.Account{}, err
	}
	if err := json.Unmarshal(metadataJSON, &account.Metadata); err != nil {
		return ledger.Account{}, fmt.Errorf("failed to decode account metadata: %w", err)
	}
	account.CreatedAt = account.CreatedAt.UTC()
	account.UpdatedAt = account.UpdatedAt.UTC()
	return account, nil
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

const transactionColumns = `id, owner_id, virtual_account_id, request_type, status, amount,
	currency, metadata, created_at, updated_at`

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

	rows, err := qs.db.Query(ctx, `
		INSERT INTO transaction_requests (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+transactionColumns,
		record.ID,
		record.OwnerID,
		record.VirtualAccountID,
		string(record.RequestType),
		string(record.Status),
		record.Amount,
		string(record.Currency),
		metadataJSON,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return ledger.TransactionRequest{}, fmt.Errorf("failed to append transaction request: %w", err)
	}
	created, err := collectTransactions(rows)
	if err != nil {
		if isConstraintError(err) && record.Amount <= 0 {
			return ledger.TransactionRequest{}, fmt.Errorf("failed to append transaction request: %w: %v", ledger.ErrInvalidAmount, err)
		}
		return ledger.TransactionRequest{}, fmt.Errorf("failed to append transaction request: %w", err)
	}
	if len(created) == 0 {
		return ledger.TransactionRequest{}, errors.New("failed to append transaction request: no row returned")
	}
	return created[0], nil
}

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

func (qs *queries) GetTransaction(ctx context.Context, id string) (ledger.TransactionRequest, error) {
	rows, err := qs.db.Query(ctx, `SELECT `+transactionColumns+` FROM transaction_requests WHERE id = $1`, id)
	if err != nil {
		return ledger.TransactionRequest{}, fmt.Errorf("failed to query transaction requests: %w", err)
	}
	txs, err := collectTransactions(rows)
	if err != nil {
		return ledger.TransactionRequest{}, err
	}
	if len(txs) == 0 {
		return ledger.TransactionRequest{}, ledger.ErrTransactionNotFound
	}
	return txs[0], nil
}

func (qs *queries) GetBySharedID(ctx context.Context, excludeID, sharedID string) (ledger.TransactionRequest, error) {
	if sharedID == "" {
		return ledger.TransactionRequest{}, ledger.ErrTransactionNotFound
	}
	rows, err := qs.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transaction_requests
		WHERE id <> $1 AND metadata ->> 'shared_id' = $2
		ORDER BY seq ASC
		LIMIT 1`,
		excludeID, sharedID,
	)
	if err != nil {
		return ledger.TransactionRequest{}, fmt.Errorf("failed to query transaction requests: %w", err)
	}
	txs, err := collectTransactions(rows)
	if err != nil {
		return ledger.TransactionRequest{}, err
	}
	if len(txs) == 0 {
		return ledger.TransactionRequest{}, ledger.ErrTransactionNotFound
	}
	return txs[0], nil
}

func (qs *queries) ListTransactions(ctx context.Context, accountID string, page ledger.Page) ([]ledger.TransactionRequest, error) {
	page = page.Normalize()
	rows, err := qs.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transaction_requests
		WHERE virtual_account_id = $1
		ORDER BY seq ASC
		LIMIT $2 OFFSET $3`,
		accountID, page.Limit, page.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction requests: %w", err)
	}
	return collectTransactions(rows)
}

// collectTransactions drains and closes rows.
func collectTransactions(rows pgx.Rows) ([]ledger.TransactionRequest, error) {
	defer rows.Close()

	txs := []ledger.TransactionRequest{}
	for rows.Next() {
		var (
			tx                            ledger.TransactionRequest
			requestType, status, currency string
			metadataJSON                  []byte
		)
		err := rows.Scan(
			&tx.ID, &tx.OwnerID, &tx.VirtualAccountID, &requestType, &status, &tx.Amount,
			&currency, &metadataJSON, &tx.CreatedAt, &tx.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction request: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode transaction metadata: %w", err)
		}
		tx.RequestType = ledger.RequestType(requestType)
		tx.Status = ledger.RequestStatus(status)
		tx.Currency = ledger.Currency(currency)
		tx.CreatedAt = tx.CreatedAt.UTC()
		tx.UpdatedAt = tx.UpdatedAt.UTC()
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// isConstraintError reports integrity violations (class 23).
func isConstraintError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && len(pgErr.Code) == 5 && pgErr.Code[:2] == "23"
}
