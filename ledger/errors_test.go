package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStructuredErrorsUnwrap(t *testing.T) {
	balErr := &InsufficientBalanceError{AccountID: "acc", Requested: 10}
	assert.ErrorIs(t, balErr, ErrInsufficientBalance)
	assert.Contains(t, balErr.Error(), "acc")

	nf := &TransactionNotFoundError{ID: "tx", Reason: "paired leg missing"}
	assert.ErrorIs(t, nf, ErrTransactionNotFound)
	assert.Contains(t, nf.Error(), "paired leg missing")
	assert.True(t, IsNotFound(fmt.Errorf("refund: %w", nf)))
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsNotFound(ErrAccountNotFound))
	assert.False(t, IsNotFound(ErrInvalidAmount))

	assert.True(t, IsClientError(ErrSameAccount))
	assert.True(t, IsClientError(ErrBalanceOverflow))
	assert.True(t, IsClientError(fmt.Errorf("%w: owner id is required", ErrInvalidAccount)))
	assert.False(t, IsClientError(ErrInsufficientBalance))
	assert.False(t, IsClientError(errors.New("connection reset")))
}

func TestPageNormalize(t *testing.T) {
	assert.Equal(t, Page{Limit: DefaultPageLimit}, Page{}.Normalize())
	assert.Equal(t, Page{Limit: DefaultPageLimit, Offset: 0}, Page{Limit: -3, Offset: -1}.Normalize())
	assert.Equal(t, Page{Limit: 2, Offset: 1}, Page{Limit: 2, Offset: 1}.Normalize())
}
