package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is an ISO 4217 currency code.
type Currency string

const (
	CurrencyGBP Currency = "GBP"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

// SupportedCurrencies is the closed set of currencies the platform accepts.
var SupportedCurrencies = []Currency{CurrencyGBP, CurrencyUSD, CurrencyEUR}

// ParseCurrency normalizes a code and checks it against SupportedCurrencies.
func ParseCurrency(code string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(code)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, code)
	}
	return c, nil
}

// Valid reports whether the currency is in the supported set.
func (c Currency) Valid() bool {
	for _, s := range SupportedCurrencies {
		if c == s {
			return true
		}
	}
	return false
}

// Lower returns the lowercase code used by most upstream APIs.
func (c Currency) Lower() string {
	return strings.ToLower(string(c))
}

// Money is an amount in minor units (pence, cents) of a currency.
type Money struct {
	Amount   int64    `json:"amount"`
	Currency Currency `json:"currency"`
}

// NewMoney validates and builds a Money value.
func NewMoney(amount int64, currency Currency) (Money, error) {
	m := Money{Amount: amount, Currency: currency}
	if err := m.Validate(); err != nil {
		return Money{}, err
	}
	return m, nil
}

// Validate checks the non-negative amount and supported currency invariants.
func (m Money) Validate() error {
	if m.Amount < 0 {
		return ErrNegativeAmount
	}
	if !m.Currency.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedCurrency, m.Currency)
	}
	return nil
}

// Decimal returns the amount in major units. All supported currencies use two decimal places.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -2)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(2) + " " + string(m.Currency)
}
