package ledger

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is a lower-case ISO code supported by virtual accounts.
type Currency string

const (
	CurrencyUSD Currency = "usd"
	CurrencyGBP Currency = "gbp"
	CurrencyEUR Currency = "eur"
)

// minorExponent is shared by every supported currency (cents, pence).
const minorExponent = -2

func (c Currency) Valid() bool {
	switch c {
	case CurrencyUSD, CurrencyGBP, CurrencyEUR:
		return true
	}
	return false
}

// MajorUnits converts an amount in minor units to major units (1050 -> 10.50).
func MajorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, minorExponent)
}

// FormatMinor renders an amount for display, e.g. "10.50 USD".
func FormatMinor(amount int64, c Currency) string {
	s := MajorUnits(amount).StringFixed(-minorExponent)
	if c == "" {
		return s
	}
	return s + " " + strings.ToUpper(string(c))
}

// CheckCredit reports ErrBalanceOverflow when balance+amount does not fit
// in an int64. amount is assumed positive.
func CheckCredit(balance, amount int64) error {
	if amount > math.MaxInt64-balance {
		return ErrBalanceOverflow
	}
	return nil
}
