package ledger

import "fmt"

// TransferDescription annotates a transfer leg with its counterparty.
// The deposit leg names the withdrawal account and the withdrawal leg names
// the deposit account.
func TransferDescription(deposit, withdrawal Account, leg RequestType) string {
	preposition, counterparty := "to", deposit
	if leg == RequestDeposit {
		preposition, counterparty = "from", withdrawal
	}
	return fmt.Sprintf("Transfer %s %s - %s",
		preposition, counterparty.Metadata.AccountName, counterparty.Metadata.AccountNumber)
}
