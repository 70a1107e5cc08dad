/*
errors.go - Error taxonomy for the ledger engine

ERROR CATEGORIES:
  1. Not found   - Account or transaction id has no row
  2. Business    - Guarded decrement found the balance too low
  3. Validation  - Caller supplied an amount or pair the ledger refuses
  4. Store       - Anything else; propagated wrapped, never masked or retried

USAGE:
  if errors.Is(err, ledger.ErrInsufficientBalance) {
      var ib *ledger.InsufficientBalanceError
      errors.As(err, &ib) // ib.AccountID, ib.Requested
  }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAccountNotFound is returned when an account id has no row.
	ErrAccountNotFound = errors.New("this virtual account does not exist")

	// ErrTransactionNotFound is returned when a transaction request, or the
	// sibling leg of a transfer, cannot be found.
	ErrTransactionNotFound = errors.New("this transaction request does not exist")

	// ErrInsufficientBalance is returned when a guarded decrement did not apply.
	ErrInsufficientBalance = errors.New("you do not have sufficient balance for this operation")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrSameAccount is returned when a transfer names one account on both sides.
	ErrSameAccount = errors.New("deposit and withdrawal accounts must differ")

	// ErrInvalidAccount is returned when an account cannot be opened as given.
	ErrInvalidAccount = errors.New("invalid account")

	// ErrBalanceOverflow is returned when a credit would exceed the largest
	// representable balance.
	ErrBalanceOverflow = errors.New("amount would overflow the account balance")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError identifies the account whose guard failed.
type InsufficientBalanceError struct {
	AccountID string
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%s: account %s, requested %d", ErrInsufficientBalance, e.AccountID, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// TransactionNotFoundError says which transaction was missing and why it
// could not be used.
type TransactionNotFoundError struct {
	ID     string
	Reason string
}

func (e *TransactionNotFoundError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s", ErrTransactionNotFound, e.ID)
	}
	return fmt.Sprintf("%s: %s (%s)", ErrTransactionNotFound, e.ID, e.Reason)
}

func (e *TransactionNotFoundError) Unwrap() error {
	return ErrTransactionNotFound
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing account or transaction.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrSameAccount) ||
		errors.Is(err, ErrInvalidAccount) ||
		errors.Is(err, ErrBalanceOverflow)
}
