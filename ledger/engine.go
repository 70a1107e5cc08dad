/*
engine.go - Ledger consistency engine

PURPOSE:
  Orchestrates deposit, withdraw, transfer and refund. Every operation
  runs as one Store.WithTx unit: the balance mutation and the log rows it
  implies commit together or not at all.

FLOW (transfer):
  1. Both accounts must exist                 -> ErrAccountNotFound
  2. TransferPair: guarded debit, then credit -> ErrInsufficientBalance
  3. One shared id for both legs
  4. Descriptions name the counterparty
  5. CreatePair, parent id on the withdrawal leg only

REFUNDS:
  A refund never touches the original rows. It looks up the withdrawal
  leg, finds its sibling by shared id, and runs a new transfer in the
  opposite direction whose withdrawal leg points back via parent id.
  Refunding the same transaction twice produces two reversing transfers;
  there is no deduplication.

The engine holds no mutable state between calls.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Transfer is the result of a completed transfer or refund.
type Transfer struct {
	DepositAccount    Account
	WithdrawalAccount Account
	DepositLeg        TransactionRequest
	WithdrawalLeg     TransactionRequest
}

// SharedID returns the correlation id carried by both legs.
func (t Transfer) SharedID() string {
	return t.WithdrawalLeg.Metadata.SharedID
}

// Engine implements the ledger operations on top of a Store.
type Engine struct {
	store  Store
	logger *zap.Logger
}

// NewEngine creates an engine. A nil logger discards output.
func NewEngine(store Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, logger: logger.Named("ledger")}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// OpenAccount validates and persists a new account.
func (e *Engine) OpenAccount(ctx context.Context, account Account) (Account, error) {
	if account.OwnerID == "" {
		return Account{}, fmt.Errorf("%w: owner id is required", ErrInvalidAccount)
	}
	if account.Balance < 0 {
		return Account{}, fmt.Errorf("%w: opening balance must not be negative", ErrInvalidAccount)
	}
	if !account.Metadata.Currency.Valid() {
		return Account{}, fmt.Errorf("%w: unsupported currency %q", ErrInvalidAccount, account.Metadata.Currency)
	}

	created, err := e.store.CreateAccount(ctx, account)
	if err != nil {
		return Account{}, err
	}
	e.logger.Info("account opened",
		zap.String("account_id", created.ID),
		zap.String("owner_id", created.OwnerID))
	return created, nil
}

// GetAccount returns an account by id.
func (e *Engine) GetAccount(ctx context.Context, id string) (Account, error) {
	return e.store.GetAccount(ctx, id)
}

// GetBalance returns the current balance of an account.
func (e *Engine) GetBalance(ctx context.Context, id string) (Balance, error) {
	account, err := e.store.GetAccount(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	return Balance{AccountID: account.ID, Amount: account.Balance, Currency: account.Metadata.Currency}, nil
}

// =============================================================================
// SINGLE-ACCOUNT OPERATIONS
// =============================================================================

// Deposit credits an account and records one successful deposit row.
func (e *Engine) Deposit(ctx context.Context, accountID string, amount int64) (Account, error) {
	if amount <= 0 {
		return Account{}, ErrInvalidAmount
	}

	var updated Account
	err := e.store.WithTx(ctx, func(s Store) error {
		account, err := s.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if err := CheckCredit(account.Balance, amount); err != nil {
			return err
		}
		if updated, err = s.Increment(ctx, account.ID, amount); err != nil {
			return err
		}
		_, err = s.CreateTransaction(ctx, newRequest(account, RequestDeposit, amount, TransactionMetadata{}))
		return err
	})
	if err != nil {
		return Account{}, err
	}

	e.logger.Info("deposit recorded",
		zap.String("account_id", accountID),
		zap.Int64("amount", amount))
	return updated, nil
}

// Withdraw debits an account if its balance covers amount and records one
// successful withdrawal row. No row is written when the guard fails.
func (e *Engine) Withdraw(ctx context.Context, accountID string, amount int64) (Account, error) {
	if amount <= 0 {
		return Account{}, ErrInvalidAmount
	}

	var updated Account
	err := e.store.WithTx(ctx, func(s Store) error {
		account, err := s.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		debit, err := s.Decrement(ctx, account.ID, amount)
		if err != nil {
			return err
		}
		if !debit.Applied {
			return &InsufficientBalanceError{AccountID: account.ID, Requested: amount}
		}
		updated = debit.Account
		_, err = s.CreateTransaction(ctx, newRequest(account, RequestWithdrawal, amount, TransactionMetadata{}))
		return err
	})
	if err != nil {
		e.logRejection("withdrawal rejected", err, zap.String("account_id", accountID), zap.Int64("amount", amount))
		return Account{}, err
	}

	e.logger.Info("withdrawal recorded",
		zap.String("account_id", accountID),
		zap.Int64("amount", amount))
	return updated, nil
}

// GetTransactions returns a page of an account's history. Missing accounts
// simply have no rows.
func (e *Engine) GetTransactions(ctx context.Context, accountID string, page Page) ([]TransactionRequest, error) {
	txs, err := e.store.ListTransactions(ctx, accountID, page.Normalize())
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []TransactionRequest{}
	}
	return txs, nil
}

// GetTransaction returns one transaction request by id.
func (e *Engine) GetTransaction(ctx context.Context, id string) (TransactionRequest, error) {
	return e.store.GetTransaction(ctx, id)
}

// =============================================================================
// TRANSFERS
// =============================================================================

// Transfer moves amount from the withdrawal account to the deposit account
// and records both legs under one shared id. parentID, when set, is stored
// on the withdrawal leg.
func (e *Engine) Transfer(ctx context.Context, depositAccountID, withdrawalAccountID string, amount int64, parentID string) (Transfer, error) {
	if amount <= 0 {
		return Transfer{}, ErrInvalidAmount
	}

	var result Transfer
	err := e.store.WithTx(ctx, func(s Store) error {
		var err error
		result, err = transfer(ctx, s, depositAccountID, withdrawalAccountID, amount, parentID)
		return err
	})
	if err != nil {
		e.logRejection("transfer rejected", err,
			zap.String("deposit_account_id", depositAccountID),
			zap.String("withdrawal_account_id", withdrawalAccountID),
			zap.Int64("amount", amount))
		return Transfer{}, err
	}

	e.logTransfer("transfer recorded", result, amount)
	return result, nil
}

// Refund reverses a transfer identified by its withdrawal leg. Money flows
// from the original deposit account back to the original withdrawal account.
func (e *Engine) Refund(ctx context.Context, withdrawalTransactionID string) (Transfer, error) {
	var result Transfer
	err := e.store.WithTx(ctx, func(s Store) error {
		original, err := s.GetTransaction(ctx, withdrawalTransactionID)
		if err != nil {
			return err
		}
		if original.RequestType != RequestWithdrawal {
			return &TransactionNotFoundError{ID: original.ID, Reason: "not a withdrawal leg"}
		}
		if !original.IsTransferLeg() {
			return &TransactionNotFoundError{ID: original.ID, Reason: "not part of a transfer"}
		}

		sibling, err := s.GetBySharedID(ctx, original.ID, original.Metadata.SharedID)
		if errors.Is(err, ErrTransactionNotFound) {
			return &TransactionNotFoundError{ID: original.ID, Reason: "paired leg missing"}
		}
		if err != nil {
			return err
		}

		result, err = transfer(ctx, s, original.VirtualAccountID, sibling.VirtualAccountID, original.Amount, original.ID)
		return err
	})
	if err != nil {
		e.logRejection("refund rejected", err, zap.String("transaction_id", withdrawalTransactionID))
		return Transfer{}, err
	}

	e.logTransfer("refund recorded", result, result.WithdrawalLeg.Amount)
	return result, nil
}

func transfer(ctx context.Context, s Store, depositAccountID, withdrawalAccountID string, amount int64, parentID string) (Transfer, error) {
	if depositAccountID == withdrawalAccountID {
		return Transfer{}, ErrSameAccount
	}
	if _, err := s.GetAccount(ctx, withdrawalAccountID); err != nil {
		return Transfer{}, err
	}
	credit, err := s.GetAccount(ctx, depositAccountID)
	if err != nil {
		return Transfer{}, err
	}
	if err := CheckCredit(credit.Balance, amount); err != nil {
		return Transfer{}, err
	}

	pair, err := s.TransferPair(ctx, withdrawalAccountID, depositAccountID, amount)
	if err != nil {
		return Transfer{}, err
	}
	if !pair.Applied {
		return Transfer{}, &InsufficientBalanceError{AccountID: withdrawalAccountID, Requested: amount}
	}

	deposit, withdrawal := pair.Credited, pair.Debited
	sharedID := uuid.NewString()

	withdrawalMeta := TransactionMetadata{
		Description: TransferDescription(deposit, withdrawal, RequestWithdrawal),
		SharedID:    sharedID,
		ParentID:    parentID,
	}
	depositMeta := TransactionMetadata{
		Description: TransferDescription(deposit, withdrawal, RequestDeposit),
		SharedID:    sharedID,
	}

	depositLeg, withdrawalLeg, err := s.CreatePair(ctx,
		newRequest(deposit, RequestDeposit, amount, depositMeta),
		newRequest(withdrawal, RequestWithdrawal, amount, withdrawalMeta),
	)
	if err != nil {
		return Transfer{}, err
	}

	return Transfer{
		DepositAccount:    deposit,
		WithdrawalAccount: withdrawal,
		DepositLeg:        depositLeg,
		WithdrawalLeg:     withdrawalLeg,
	}, nil
}

func newRequest(account Account, kind RequestType, amount int64, meta TransactionMetadata) TransactionRequest {
	return TransactionRequest{
		OwnerID:          account.OwnerID,
		VirtualAccountID: account.ID,
		RequestType:      kind,
		Status:           StatusSuccessful,
		Amount:           amount,
		Currency:         account.Metadata.Currency,
		Metadata:         meta,
	}
}

// =============================================================================
// LOGGING
// =============================================================================

// logRejection logs business failures at Warn. Store failures are left to
// the caller, which sees them unmodified.
func (e *Engine) logRejection(msg string, err error, fields ...zap.Field) {
	if !IsNotFound(err) && !IsClientError(err) && !errors.Is(err, ErrInsufficientBalance) {
		return
	}
	e.logger.Warn(msg, append(fields, zap.Error(err))...)
}

func (e *Engine) logTransfer(msg string, t Transfer, amount int64) {
	fields := []zap.Field{
		zap.String("shared_id", t.SharedID()),
		zap.String("deposit_account_id", t.DepositAccount.ID),
		zap.String("withdrawal_account_id", t.WithdrawalAccount.ID),
		zap.Int64("amount", amount),
	}
	if parent := t.WithdrawalLeg.Metadata.ParentID; parent != "" {
		fields = append(fields, zap.String("parent_id", parent))
	}
	e.logger.Info(msg, fields...)
}
