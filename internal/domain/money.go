// Package domain содержит бизнес-сущности и доменные ошибки платёжного движка.
package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency — код валюты ISO 4217, поддерживаемый движком.
type Currency string

const (
	// CurrencyKRW — корейская вона, без дробной части.
	CurrencyKRW Currency = "KRW"

	// CurrencyUSD — доллар США, два знака после запятой.
	CurrencyUSD Currency = "USD"

	// CurrencyJPY — японская иена, без дробной части.
	CurrencyJPY Currency = "JPY"

	// CurrencyEUR — евро, два знака после запятой.
	CurrencyEUR Currency = "EUR"
)

// currencyScales — количество знаков после запятой для каждой валюты.
var currencyScales = map[Currency]int32{
	CurrencyKRW: 0,
	CurrencyUSD: 2,
	CurrencyJPY: 0,
	CurrencyEUR: 2,
}

// Scale возвращает количество знаков после запятой для валюты.
func (c Currency) Scale() int32 {
	return currencyScales[c]
}

// IsValid проверяет, поддерживается ли валюта движком.
func (c Currency) IsValid() bool {
	_, ok := currencyScales[c]
	return ok
}

// =============================================================================
// Money — денежная сумма с валютой
// =============================================================================

// Money — денежная сумма с валютой.
// Сумма хранится как decimal с точностью валюты.
// Конструктор округляет до точности валюты (half-up) и отклоняет отрицательные суммы.
type Money struct {
	Amount   decimal.Decimal
	Currency Currency
}

// NewMoney создаёт Money, округляя сумму до точности валюты.
// Возвращает ошибку для неизвестной валюты и отрицательной суммы.
func NewMoney(amount decimal.Decimal, currency Currency) (Money, error) {
	if !currency.IsValid() {
		return Money{}, fmt.Errorf("%w: %s", ErrInvalidCurrency, currency)
	}

	if amount.IsNegative() {
		return Money{}, ErrNegativeAmount
	}

	// Round округляет half away from zero, для неотрицательных сумм это half-up.
	return Money{
		Amount:   amount.Round(currency.Scale()),
		Currency: currency,
	}, nil
}

// NewMoneyFromInt создаёт Money из целого числа основных единиц валюты.
func NewMoneyFromInt(amount int64, currency Currency) (Money, error) {
	return NewMoney(decimal.NewFromInt(amount), currency)
}

// NewMoneyFromString создаёт Money из строкового представления суммы.
func NewMoneyFromString(amount string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("некорректная сумма %q: %w", amount, err)
	}
	return NewMoney(d, currency)
}

// ZeroMoney возвращает нулевую сумму в указанной валюте.
func ZeroMoney(currency Currency) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// Add складывает две суммы одной валюты.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s и %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Subtract вычитает сумму той же валюты.
// Возвращает ошибку, если результат отрицательный.
func (m Money) Subtract(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s и %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}

	result := m.Amount.Sub(other.Amount)
	if result.IsNegative() {
		return Money{}, ErrNegativeAmount
	}

	return Money{Amount: result, Currency: m.Currency}, nil
}

// MultiplyInt умножает сумму на целое количество.
// Отрицательный множитель отклоняется.
func (m Money) MultiplyInt(quantity int64) (Money, error) {
	if quantity < 0 {
		return Money{}, ErrNegativeAmount
	}
	return Money{
		Amount:   m.Amount.Mul(decimal.NewFromInt(quantity)),
		Currency: m.Currency,
	}, nil
}

// MultiplyDecimal умножает сумму на decimal с округлением до точности валюты.
func (m Money) MultiplyDecimal(factor decimal.Decimal) (Money, error) {
	result := m.Amount.Mul(factor)
	if result.IsNegative() {
		return Money{}, ErrNegativeAmount
	}
	return Money{
		Amount:   result.Round(m.Currency.Scale()),
		Currency: m.Currency,
	}, nil
}

// Cmp сравнивает суммы одной валюты: -1 если меньше, 0 если равны, 1 если больше.
func (m Money) Cmp(other Money) (int, error) {
	if m.Currency != other.Currency {
		return 0, fmt.Errorf("%w: %s и %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return m.Amount.Cmp(other.Amount), nil
}

// GreaterThan возвращает true, если сумма строго больше другой.
func (m Money) GreaterThan(other Money) (bool, error) {
	cmp, err := m.Cmp(other)
	if err != nil {
		return false, err
	}
	return cmp > 0, nil
}

// LessThan возвращает true, если сумма строго меньше другой.
func (m Money) LessThan(other Money) (bool, error) {
	cmp, err := m.Cmp(other)
	if err != nil {
		return false, err
	}
	return cmp < 0, nil
}

// Equal возвращает true, если суммы и валюты совпадают.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// IsZero возвращает true для нулевой суммы.
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// IsPositive возвращает true для строго положительной суммы.
func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

// AmountString возвращает сумму строкой с точностью валюты ("20000", "10.50").
func (m Money) AmountString() string {
	return m.Amount.StringFixed(m.Currency.Scale())
}

// String возвращает человекочитаемое представление ("20000 KRW").
func (m Money) String() string {
	return m.AmountString() + " " + string(m.Currency)
}

// moneyJSON — проводное представление Money.
type moneyJSON struct {
	Amount   string   `json:"amount"`
	Currency Currency `json:"currency"`
}

// MarshalJSON сериализует сумму строкой, чтобы не терять точность.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{
		Amount:   m.AmountString(),
		Currency: m.Currency,
	})
}

// UnmarshalJSON восстанавливает Money через конструктор с валидацией.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	parsed, err := NewMoneyFromString(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}

	*m = parsed
	return nil
}
