/*
Package ledger provides the virtual-account ledger consistency engine.

PURPOSE:
  Tracks balances owned by external parties and records every balance
  change as an immutable transaction request. Deposits, withdrawals,
  transfers and refunds each mutate balances and append their log rows
  inside one atomic unit of work.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: A balance record in minor units, never negative
  - TransactionRequest: An append-only log row describing one balance change
  - Leg: One of the two rows produced by a transfer (deposit, withdrawal)
  - SharedID / ParentID: Correlate transfer legs and link refunds back

DESIGN PRINCIPLES:
  1. Append-only: Transaction requests are never updated, refunds are new transfers
  2. Precision: Amounts are int64 minor units (cents), no floating point
  3. Store-owned atomicity: Only the store can check-and-mutate a balance

SEE ALSO:
  - store.go: Persistence contracts and the scoped transaction
  - engine.go: Deposit, withdraw, transfer, refund
  - errors.go: Error taxonomy
*/
package ledger

import "time"

// =============================================================================
// ACCOUNT - Balance record
// =============================================================================

// Account is a virtual account owned by an external party.
// Balance is in minor units of Metadata.Currency and is never negative.
type Account struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Balance   int64           `json:"balance"`
	Metadata  AccountMetadata `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Balance is an account's current balance with the currency it is held in.
type Balance struct {
	AccountID string
	Amount    int64
	Currency  Currency
}

// Display renders the balance in major units, e.g. "10.50 USD".
func (b Balance) Display() string {
	return FormatMinor(b.Amount, b.Currency)
}

// AccountMetadata holds the display and routing details of an account.
type AccountMetadata struct {
	AccountName   string   `json:"account_name"`
	AccountNumber string   `json:"account_number"`
	BankName      string   `json:"bank_name"`
	AccountType   string   `json:"account_type"`
	Currency      Currency `json:"currency"`
	SwiftCode     string   `json:"swift_code,omitempty"`
	RoutingNumber string   `json:"routing_number,omitempty"`
	BankAddress   string   `json:"bank_address,omitempty"`
}

// =============================================================================
// TRANSACTION REQUEST - Append-only log row
// =============================================================================

type RequestType string

const (
	RequestDeposit    RequestType = "deposit"
	RequestWithdrawal RequestType = "withdrawal"
)

func (t RequestType) Valid() bool {
	return t == RequestDeposit || t == RequestWithdrawal
}

type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusSuccessful RequestStatus = "successful"
	StatusFailed     RequestStatus = "failed"
	StatusCanceled   RequestStatus = "canceled"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSuccessful, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// TransactionRequest records one balance change against a virtual account.
// Transfers produce two of these (one per leg) sharing Metadata.SharedID.
type TransactionRequest struct {
	ID               string              `json:"id"`
	OwnerID          string              `json:"owner_id"`
	VirtualAccountID string              `json:"virtual_account_id"`
	RequestType      RequestType         `json:"request_type"`
	Status           RequestStatus       `json:"status"`
	Amount           int64               `json:"amount"`
	Currency         Currency            `json:"currency"`
	Metadata         TransactionMetadata `json:"metadata"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// TransactionMetadata is the optional annotation stored with a row.
type TransactionMetadata struct {
	Description string `json:"description,omitempty"`
	SharedID    string `json:"shared_id,omitempty"` // links the two legs of a transfer
	ParentID    string `json:"parent_id,omitempty"` // transaction reversed by this refund leg
}

// IsTransferLeg reports whether the row belongs to a transfer pair.
func (t TransactionRequest) IsTransferLeg() bool {
	return t.Metadata.SharedID != ""
}

// =============================================================================
// PAGINATION
// =============================================================================

const DefaultPageLimit = 10

// Page selects a window of an account's transaction history.
// A zero Limit means DefaultPageLimit.
type Page struct {
	Limit  int
	Offset int
}

// Normalize applies the defaults and clamps negative values.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
