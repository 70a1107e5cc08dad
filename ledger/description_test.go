package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransferDescription(t *testing.T) {
	deposit := Account{Metadata: AccountMetadata{AccountName: "Jane Doe", AccountNumber: "0011223344"}}
	withdrawal := Account{Metadata: AccountMetadata{AccountName: "John Roe", AccountNumber: "9988776655"}}

	assert.Equal(t, "Transfer from John Roe - 9988776655", TransferDescription(deposit, withdrawal, RequestDeposit))
	assert.Equal(t, "Transfer to Jane Doe - 0011223344", TransferDescription(deposit, withdrawal, RequestWithdrawal))
}
