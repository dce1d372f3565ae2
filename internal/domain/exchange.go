package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// ExchangeRate converts one unit of Currency into the main currency.
type ExchangeRate struct {
	Currency  string
	Rate      decimal.Decimal
	Spread    decimal.Decimal
	CompanyID string
}

// Effective applies the spread: rate × (1 + spread/100).
func (r ExchangeRate) Effective() decimal.Decimal {
	return r.Rate.Mul(decimal.NewFromInt(1).Add(r.Spread.Div(hundred)))
}

// Percent returns value% of amount.
func Percent(amount, value decimal.Decimal) decimal.Decimal {
	return amount.Mul(value).Div(hundred)
}

// Round2 rounds money half away from zero to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
