// Package store provides an in-memory ledger.Store.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lawal-create/Virtual-Bank-Accounts-Manager/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps accounts and transaction requests in maps guarded by one
// mutex. Every public method is atomic; WithTx holds the lock for the whole
// callback and restores a snapshot when it fails.
type Memory struct {
	mu       sync.Mutex
	accounts map[string]ledger.Account
	txs      []ledger.TransactionRequest
	txIndex  map[string]int

	// Now is the clock used for timestamps.
	Now func() time.Time
}

var _ ledger.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]ledger.Account),
		txIndex:  make(map[string]int),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) CreateAccount(ctx context.Context, account ledger.Account) (ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().CreateAccount(ctx, account)
}

func (m *Memory) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetAccount(ctx, id)
}

func (m *Memory) Decrement(ctx context.Context, id string, amount int64) (ledger.Debit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().Decrement(ctx, id, amount)
}

func (m *Memory) Increment(ctx context.Context, id string, amount int64) (ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().Increment(ctx, id, amount)
}

func (m *Memory) TransferPair(ctx context.Context, fromID, toID string, amount int64) (ledger.Pair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().TransferPair(ctx, fromID, toID, amount)
}

func (m *Memory) CreateTransaction(ctx context.Context, record ledger.TransactionRequest) (ledger.TransactionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().CreateTransaction(ctx, record)
}

func (m *Memory) CreatePair(ctx context.Context, deposit, withdrawal ledger.TransactionRequest) (ledger.TransactionRequest, ledger.TransactionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().CreatePair(ctx, deposit, withdrawal)
}

func (m *Memory) GetTransaction(ctx context.Context, id string) (ledger.TransactionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetTransaction(ctx, id)
}

func (m *Memory) GetBySharedID(ctx context.Context, excludeID, sharedID string) (ledger.TransactionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetBySharedID(ctx, excludeID, sharedID)
}

func (m *Memory) ListTransactions(ctx context.Context, accountID string, page ledger.Page) ([]ledger.TransactionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().ListTransactions(ctx, accountID, page)
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().WithTx(ctx, fn)
}

func (m *Memory) view() *memoryView {
	return &memoryView{parent: m}
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

type memorySnapshot struct {
	accounts map[string]ledger.Account
	txs      []ledger.TransactionRequest
	txIndex  map[string]int
}

func (m *Memory) snapshot() memorySnapshot {
	accounts := make(map[string]ledger.Account, len(m.accounts))
	for k, v := range m.accounts {
		accounts[k] = v
	}
	index := make(map[string]int, len(m.txIndex))
	for k, v := range m.txIndex {
		index[k] = v
	}
	return memorySnapshot{
		accounts: accounts,
		txs:      append([]ledger.TransactionRequest(nil), m.txs...),
		txIndex:  index,
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.accounts = s.accounts
	m.txs = s.txs
	m.txIndex = s.txIndex
}

// =============================================================================
// VIEW - Unlocked operations, caller holds parent.mu
// =============================================================================

type memoryView struct {
	parent *Memory
}

func (v *memoryView) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := v.parent.snapshot()
	if err := fn(v); err != nil {
		v.parent.restore(snap)
		return err
	}
	return nil
}

func (v *memoryView) CreateAccount(_ context.Context, account ledger.Account) (ledger.Account, error) {
	if account.Balance < 0 {
		return ledger.Account{}, fmt.Errorf("memory: create account: %w: negative balance", ledger.ErrInvalidAccount)
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if _, exists := v.parent.accounts[account.ID]; exists {
		return ledger.Account{}, fmt.Errorf("memory: create account: duplicate id %s", account.ID)
	}
	now := v.parent.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = now
	}
	v.parent.accounts[account.ID] = account
	return account, nil
}

func (v *memoryView) GetAccount(_ context.Context, id string) (ledger.Account, error) {
	account, ok := v.parent.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return account, nil
}

func (v *memoryView) Decrement(_ context.Context, id string, amount int64) (ledger.Debit, error) {
	account, ok := v.parent.accounts[id]
	if !ok || account.Balance < amount {
		return ledger.Debit{}, nil
	}
	account.Balance -= amount
	account.UpdatedAt = v.parent.Now()
	v.parent.accounts[id] = account
	return ledger.Debit{Account: account, Applied: true}, nil
}

func (v *memoryView) Increment(_ context.Context, id string, amount int64) (ledger.Account, error) {
	account, ok := v.parent.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	if err := ledger.CheckCredit(account.Balance, amount); err != nil {
		return ledger.Account{}, err
	}
	account.Balance += amount
	account.UpdatedAt = v.parent.Now()
	v.parent.accounts[id] = account
	return account, nil
}

func (v *memoryView) TransferPair(ctx context.Context, fromID, toID string, amount int64) (ledger.Pair, error) {
	snap := v.parent.snapshot()

	debit, err := v.Decrement(ctx, fromID, amount)
	if err != nil || !debit.Applied {
		return ledger.Pair{}, err
	}
	credited, err := v.Increment(ctx, toID, amount)
	if err != nil {
		v.parent.restore(snap)
		return ledger.Pair{}, err
	}
	return ledger.Pair{Debited: debit.Account, Credited: credited, Applied: true}, nil
}

func (v *memoryView) CreateTransaction(_ context.Context, record ledger.TransactionRequest) (ledger.TransactionRequest, error) {
	return v.appendLocked(record)
}

func (v *memoryView) CreatePair(_ context.Context, deposit, withdrawal ledger.TransactionRequest) (ledger.TransactionRequest, ledger.TransactionRequest, error) {
	snap := v.parent.snapshot()

	depositRow, err := v.appendLocked(deposit)
	if err != nil {
		return ledger.TransactionRequest{}, ledger.TransactionRequest{}, err
	}
	withdrawalRow, err := v.appendLocked(withdrawal)
	if err != nil {
		v.parent.restore(snap)
		return ledger.TransactionRequest{}, ledger.TransactionRequest{}, err
	}
	return depositRow, withdrawalRow, nil
}

// appendLocked enforces the same constraints as the SQL schemas.
func (v *memoryView) appendLocked(tx ledger.TransactionRequest) (ledger.TransactionRequest, error) {
	if tx.Amount <= 0 {
		return ledger.TransactionRequest{}, fmt.Errorf("memory: append transaction: %w", ledger.ErrInvalidAmount)
	}
	if !tx.RequestType.Valid() {
		return ledger.TransactionRequest{}, fmt.Errorf("memory: append transaction: invalid request type %q", tx.RequestType)
	}
	if tx.Status == "" {
		tx.Status = ledger.StatusPending
	}
	if !tx.Status.Valid() {
		return ledger.TransactionRequest{}, fmt.Errorf("memory: append transaction: invalid status %q", tx.Status)
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if _, exists := v.parent.txIndex[tx.ID]; exists {
		return ledger.TransactionRequest{}, fmt.Errorf("memory: append transaction: duplicate id %s", tx.ID)
	}
	now := v.parent.Now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	if tx.UpdatedAt.IsZero() {
		tx.UpdatedAt = now
	}

	v.parent.txIndex[tx.ID] = len(v.parent.txs)
	v.parent.txs = append(v.parent.txs, tx)
	return tx, nil
}

func (v *memoryView) GetTransaction(_ context.Context, id string) (ledger.TransactionRequest, error) {
	i, ok := v.parent.txIndex[id]
	if !ok {
		return ledger.TransactionRequest{}, ledger.ErrTransactionNotFound
	}
	return v.parent.txs[i], nil
}

func (v *memoryView) GetBySharedID(_ context.Context, excludeID, sharedID string) (ledger.TransactionRequest, error) {
	if sharedID == "" {
		return ledger.TransactionRequest{}, ledger.ErrTransactionNotFound
	}
	for _, tx := range v.parent.txs {
		if tx.ID != excludeID && tx.Metadata.SharedID == sharedID {
			return tx, nil
		}
	}
	return ledger.TransactionRequest{}, ledger.ErrTransactionNotFound
}

func (v *memoryView) ListTransactions(_ context.Context, accountID string, page ledger.Page) ([]ledger.TransactionRequest, error) {
	page = page.Normalize()
	result := []ledger.TransactionRequest{}
	skipped := 0
	for _, tx := range v.parent.txs {
		if tx.VirtualAccountID != accountID {
			continue
		}
		if skipped < page.Offset {
			skipped++
			continue
		}
		result = append(result, tx)
		if len(result) == page.Limit {
			break
		}
	}
	return result, nil
}
