/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Amounts travel as integer minor units. Responses add a *_display field
  ("10.50 USD") for humans; clients must not parse it.

VALIDATION:
  Request types carry validator/v10 tags, checked in handlers before the
  engine is called. The engine re-checks amounts.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/Lawal-create/Virtual-Bank-Accounts-Manager/ledger"
)

// =============================================================================
// REQUESTS
// =============================================================================

// CreateAccountRequest opens a virtual account.
type CreateAccountRequest struct {
	OwnerID       string `json:"owner_id" validate:"required"`
	Balance       int64  `json:"balance" validate:"gte=0"`
	AccountName   string `json:"account_name" validate:"required"`
	AccountNumber string `json:"account_number" validate:"required"`
	BankName      string `json:"bank_name"`
	AccountType   string `json:"account_type"`
	Currency      string `json:"currency" validate:"required,oneof=usd gbp eur"`
	SwiftCode     string `json:"swift_code,omitempty"`
	RoutingNumber string `json:"routing_number,omitempty"`
	BankAddress   string `json:"bank_address,omitempty"`
}

func (r CreateAccountRequest) toAccount() ledger.Account {
	return ledger.Account{
		OwnerID: r.OwnerID,
		Balance: r.Balance,
		Metadata: ledger.AccountMetadata{
			AccountName:   r.AccountName,
			AccountNumber: r.AccountNumber,
			BankName:      r.BankName,
			AccountType:   r.AccountType,
			Currency:      ledger.Currency(r.Currency),
			SwiftCode:     r.SwiftCode,
			RoutingNumber: r.RoutingNumber,
			BankAddress:   r.BankAddress,
		},
	}
}

// AmountRequest is the body of deposit and withdrawal calls.
type AmountRequest struct {
	Amount int64 `json:"amount" validate:"gt=0"`
}

// TransferRequest moves money between two accounts.
type TransferRequest struct {
	DepositAccountID    string `json:"deposit_account_id" validate:"required"`
	WithdrawalAccountID string `json:"withdrawal_account_id" validate:"required"`
	Amount              int64  `json:"amount" validate:"gt=0"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID             string                 `json:"id"`
	OwnerID        string                 `json:"owner_id"`
	Balance        int64                  `json:"balance"`
	BalanceDisplay string                 `json:"balance_display"`
	Metadata       ledger.AccountMetadata `json:"metadata"`
	CreatedAt      string                 `json:"created_at"`
	UpdatedAt      string                 `json:"updated_at"`
}

// BalanceDTO is the response of the balance endpoint.
type BalanceDTO struct {
	AccountID      string `json:"account_id"`
	Balance        int64  `json:"balance"`
	BalanceDisplay string `json:"balance_display"`
	Currency       string `json:"currency"`
}

// TransactionDTO represents one transaction request row.
type TransactionDTO struct {
	ID               string                     `json:"id"`
	OwnerID          string                     `json:"owner_id"`
	VirtualAccountID string                     `json:"virtual_account_id"`
	RequestType      string                     `json:"request_type"`
	Status           string                     `json:"status"`
	Amount           int64                      `json:"amount"`
	AmountDisplay    string                     `json:"amount_display"`
	Currency         string                     `json:"currency"`
	Metadata         ledger.TransactionMetadata `json:"metadata"`
	CreatedAt        string                     `json:"created_at"`
	UpdatedAt        string                     `json:"updated_at"`
}

// TransactionsPageDTO wraps one page of account history.
type TransactionsPageDTO struct {
	Transactions []TransactionDTO `json:"transactions"`
	Limit        int              `json:"limit"`
	Offset       int              `json:"offset"`
}

// TransferDTO is returned by transfer and refund.
type TransferDTO struct {
	SharedID          string         `json:"shared_id"`
	DepositAccount    AccountDTO     `json:"deposit_account"`
	WithdrawalAccount AccountDTO     `json:"withdrawal_account"`
	DepositLeg        TransactionDTO `json:"deposit_transaction"`
	WithdrawalLeg     TransactionDTO `json:"withdrawal_transaction"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthDTO is the liveness response.
type HealthDTO struct {
	Status string `json:"status"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:             a.ID,
		OwnerID:        a.OwnerID,
		Balance:        a.Balance,
		BalanceDisplay: ledger.FormatMinor(a.Balance, a.Metadata.Currency),
		Metadata:       a.Metadata,
		CreatedAt:      a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      a.UpdatedAt.Format(time.RFC3339),
	}
}

func toBalanceDTO(b ledger.Balance) BalanceDTO {
	return BalanceDTO{
		AccountID:      b.AccountID,
		Balance:        b.Amount,
		BalanceDisplay: b.Display(),
		Currency:       string(b.Currency),
	}
}

func toTransactionDTO(tx ledger.TransactionRequest) TransactionDTO {
	return TransactionDTO{
		ID:               tx.ID,
		OwnerID:          tx.OwnerID,
		VirtualAccountID: tx.VirtualAccountID,
		RequestType:      string(tx.RequestType),
		Status:           string(tx.Status),
		Amount:           tx.Amount,
		AmountDisplay:    ledger.FormatMinor(tx.Amount, tx.Currency),
		Currency:         string(tx.Currency),
		Metadata:         tx.Metadata,
		CreatedAt:        tx.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        tx.UpdatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTOs(txs []ledger.TransactionRequest) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toTransferDTO(t ledger.Transfer) TransferDTO {
	return TransferDTO{
		SharedID:          t.SharedID(),
		DepositAccount:    toAccountDTO(t.DepositAccount),
		WithdrawalAccount: toAccountDTO(t.WithdrawalAccount),
		DepositLeg:        toTransactionDTO(t.DepositLeg),
		WithdrawalLeg:     toTransactionDTO(t.WithdrawalLeg),
	}
}
