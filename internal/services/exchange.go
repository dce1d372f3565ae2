package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
)

// ErrExchangeRateMissing indicates a currency has no conversion into main currency.
var ErrExchangeRateMissing = errors.New("exchange: rate not found")

// ExchangeRates is a snapshot of conversion rates into the main currency.
type ExchangeRates struct {
	main  string
	rates map[string]domain.ExchangeRate
}

// NewExchangeRates indexes rates by currency. Later entries override earlier ones.
func NewExchangeRates(mainCurrency string, rates ...[]domain.ExchangeRate) ExchangeRates {
	book := ExchangeRates{main: strings.ToUpper(strings.TrimSpace(mainCurrency)), rates: make(map[string]domain.ExchangeRate)}
	for _, set := range rates {
		for _, rate := range set {
			book.rates[strings.ToUpper(rate.Currency)] = rate
		}
	}
	return book
}

// Main returns the main currency code.
func (r ExchangeRates) Main() string { return r.main }

// Effective returns main-currency units per unit of currency. The main currency converts at 1.
func (r ExchangeRates) Effective(currency string) (decimal.Decimal, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == r.main {
		return decimal.NewFromInt(1), nil
	}
	rate, ok := r.rates[currency]
	if !ok || !rate.Effective().IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrExchangeRateMissing, currency)
	}
	return rate.Effective(), nil
}

// ConvertToMain converts amount of currency into main currency.
func (r ExchangeRates) ConvertToMain(currency string, amount decimal.Decimal) (decimal.Decimal, error) {
	eff, err := r.Effective(currency)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(eff), nil
}

// ConvertFromMain converts a main-currency amount into currency.
func (r ExchangeRates) ConvertFromMain(currency string, amount decimal.Decimal) (decimal.Decimal, error) {
	eff, err := r.Effective(currency)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Div(eff), nil
}

// ExchangeRateBookDeps bundles collaborators for the exchange rate book.
type ExchangeRateBookDeps struct {
	Rates    repositories.ExchangeRateRepository
	Settings SettingsProvider
}

type exchangeRateBook struct {
	rates    repositories.ExchangeRateRepository
	settings SettingsProvider
}

var _ ExchangeRateBook = (*exchangeRateBook)(nil)

// NewExchangeRateBook constructs the exchange rate book.
func NewExchangeRateBook(deps ExchangeRateBookDeps) (ExchangeRateBook, error) {
	if deps.Rates == nil {
		return nil, errors.New("exchange rate book: rate repository is required")
	}
	if deps.Settings == nil {
		return nil, errors.New("exchange rate book: settings provider is required")
	}
	return &exchangeRateBook{rates: deps.Rates, settings: deps.Settings}, nil
}

func (b *exchangeRateBook) PlatformRates(ctx context.Context) (ExchangeRates, error) {
	main, err := b.settings.MainCurrency(ctx)
	if err != nil {
		return ExchangeRates{}, err
	}
	rates, err := b.rates.PlatformRates(ctx)
	if err != nil {
		return ExchangeRates{}, fmt.Errorf("exchange: load platform rates: %w", err)
	}
	return NewExchangeRates(main, rates), nil
}

// CompanyRates layers a company's billing rates over the platform table.
func (b *exchangeRateBook) CompanyRates(ctx context.Context, companyID string) (ExchangeRates, error) {
	companyID = strings.TrimSpace(companyID)
	if companyID == "" {
		return b.PlatformRates(ctx)
	}
	main, err := b.settings.MainCurrency(ctx)
	if err != nil {
		return ExchangeRates{}, err
	}
	platform, err := b.rates.PlatformRates(ctx)
	if err != nil {
		return ExchangeRates{}, fmt.Errorf("exchange: load platform rates: %w", err)
	}
	company, err := b.rates.CompanyRates(ctx, companyID)
	if err != nil {
		return ExchangeRates{}, fmt.Errorf("exchange: load company rates: %w", err)
	}
	return NewExchangeRates(main, platform, company), nil
}
