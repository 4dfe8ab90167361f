// Package money holds integer paise amounts and the percentage arithmetic used
// for commission, GST and gateway fees.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a signed count of paise (1/100 INR).
type Amount int64

const (
	Paisa Amount = 1
	Rupee Amount = 100
)

var hundred = decimal.NewFromInt(100)

// FromRupees converts whole rupees into an Amount.
func FromRupees(rupees int64) Amount {
	return Amount(rupees) * Rupee
}

// FromDecimal converts a rupee value into paise, rounding half away from zero.
func FromDecimal(rupees decimal.Decimal) Amount {
	return Amount(rupees.Mul(hundred).Round(0).IntPart())
}

// Decimal returns the amount in rupees.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

func (a Amount) Neg() Amount {
	return -a
}

func (a Amount) IsPositive() bool {
	return a > 0
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal().StringFixed(2)), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("invalid amount %s: %w", string(data), err)
	}
	*a = FromDecimal(d)
	return nil
}

// Percent returns amount*rate/100 rounded half away from zero to a multiple of unit.
// A non-positive unit rounds to the nearest paisa.
func Percent(amount Amount, rate decimal.Decimal, unit Amount) Amount {
	raw := decimal.NewFromInt(int64(amount)).Mul(rate).Div(hundred)
	return RoundTo(raw, unit)
}

// RoundTo rounds a paise quantity half away from zero to a multiple of unit.
func RoundTo(paise decimal.Decimal, unit Amount) Amount {
	if unit <= 0 {
		unit = Paisa
	}
	u := decimal.NewFromInt(int64(unit))
	return Amount(paise.Div(u).Round(0).Mul(u).IntPart())
}

// Sum adds the given amounts.
func Sum(amounts ...Amount) Amount {
	var total Amount
	for _, a := range amounts {
		total += a
	}
	return total
}
