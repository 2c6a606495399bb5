package loan

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// LedgerScale is the number of decimal places of the ledger's smallest
// currency unit (wei).
const LedgerScale int32 = 18

// RateScale is the number of decimal places kept for an interest rate.
const RateScale int32 = 4

// Exclusive upper bounds of what a loan record stores exactly.
var (
	MaxAmount = decimal.New(1, 18)
	MaxRate   = decimal.New(1, 5)
)

// HasScale reports whether d needs no more than places decimal places.
func HasScale(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Truncate(places))
}

// RepaymentDue returns amount + amount*rate/100 rounded half-up to the ledger's
// smallest unit.
func RepaymentDue(amount, interestRate decimal.Decimal) decimal.Decimal {
	interest := amount.Mul(interestRate).Shift(-2)
	return amount.Add(interest).Round(LedgerScale)
}

// ToBaseUnits converts a ledger amount to its integer count of smallest units.
func ToBaseUnits(d decimal.Decimal) *big.Int {
	return d.Round(LedgerScale).Shift(LedgerScale).BigInt()
}

// FromBaseUnits converts an integer count of smallest units to a ledger amount.
func FromBaseUnits(b *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(b, -LedgerScale)
}
