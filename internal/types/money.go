// README: Common money value object used across modules.
package types

import "fmt"

// Money is an amount in minor units (cents) with an ISO currency code.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func Cents(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

func (m Money) IsPositive() bool {
	return m.Amount > 0
}

func (m Money) IsZero() bool {
	return m.Amount == 0
}

// Max returns the larger of m and o. Amounts in different currencies are not
// comparable; m wins in that case.
func (m Money) Max(o Money) Money {
	if o.Currency == m.Currency && o.Amount > m.Amount {
		return o
	}
	return m
}

func (m Money) String() string {
	return fmt.Sprintf("%d.%02d %s", m.Amount/100, abs(m.Amount%100), m.Currency)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
