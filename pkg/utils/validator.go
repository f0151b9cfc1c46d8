package utils

import (
	"fmt"
	"regexp"
	"strings"
)

// validator.go - валидация входных данных
//
// Каждый валидатор возвращает error с описанием проблемы или nil.

var symbolRe = regexp.MustCompile(`^[A-Z0-9]{2,20}$`)

// ValidateSymbol проверяет формат торгового символа (BTCUSDT)
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol is empty")
	}
	if !symbolRe.MatchString(symbol) {
		return fmt.Errorf("invalid symbol %q: expected uppercase alphanumeric", symbol)
	}
	return nil
}

// ValidateTimeframe проверяет обозначение таймфрейма ("1m", "1h")
func ValidateTimeframe(tf string) error {
	if _, err := ParseTimeframe(tf); err != nil {
		return err
	}
	return nil
}

// ValidateQuantity проверяет объем ордера (> 0)
func ValidateQuantity(qty float64) error {
	if qty <= 0 {
		return fmt.Errorf("quantity must be positive, got %f", qty)
	}
	return nil
}

// ValidatePrice проверяет цену (>= 0, 0 = market)
func ValidatePrice(price float64) error {
	if price < 0 {
		return fmt.Errorf("price must be non-negative, got %f", price)
	}
	return nil
}

// ValidateFraction проверяет долю в диапазоне (0, 1]
func ValidateFraction(name string, v float64) error {
	if v <= 0 || v > 1 {
		return fmt.Errorf("%s must be in (0, 1], got %f", name, v)
	}
	return nil
}

// ValidateInstanceID проверяет идентификатор инстанса:
// непустой, без пробелов и без двоеточий (двоеточие - разделитель
// в idempotency key)
func ValidateInstanceID(id string) error {
	if id == "" {
		return fmt.Errorf("instance id is empty")
	}
	if strings.ContainsAny(id, ": \t\n") {
		return fmt.Errorf("invalid instance id %q: must not contain colons or whitespace", id)
	}
	return nil
}
