// Package validation содержит разбор и проверку полей HTTP-запросов.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/nishidshajib/tradbazar/internal/model"
	"github.com/nishidshajib/tradbazar/internal/pricing"
)

// maxMoney задаёт наибольшую сумму, которую хранит numeric(12,2).
var maxMoney = decimal.RequireFromString("9999999999.99")

const maxIdempotencyKeyLen = 128

// FieldError описывает ошибку конкретного поля запроса. Оборачивает model.ErrInvalidInput.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return model.ErrInvalidInput
}

func fieldError(field, reason string) error {
	return &FieldError{Field: field, Reason: reason}
}

// Field возвращает имя поля из ошибки валидации или пустую строку.
func Field(err error) string {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe.Field
	}
	return ""
}

// Money разбирает сумму из JSON-числа или строки ("70", 70.5, "70.50").
// Сумма должна быть положительной; округление выполняет доменный слой.
func Money(field string, raw json.RawMessage) (decimal.Decimal, error) {
	d, ok, err := parseMoney(field, raw)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, fieldError(field, "is required")
	}
	if !d.IsPositive() {
		return decimal.Zero, fieldError(field, "must be positive")
	}
	return d, nil
}

// OptionalMoney разбирает необязательную неотрицательную сумму; отсутствие или null дают nil.
func OptionalMoney(field string, raw json.RawMessage) (*decimal.Decimal, error) {
	d, ok, err := parseMoney(field, raw)
	if err != nil || !ok {
		return nil, err
	}
	if d.IsNegative() {
		return nil, fieldError(field, "must not be negative")
	}
	return &d, nil
}

func parseMoney(field string, raw json.RawMessage) (decimal.Decimal, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, false, nil
	}

	s := string(raw)
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, false, fieldError(field, "must be a number")
		}
		s = strings.TrimSpace(s)
	}
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return unicode.IsLetter(r) }) {
		return decimal.Zero, false, fieldError(field, "must be a number")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false, fieldError(field, "must be a number")
	}
	if d.Abs().GreaterThan(maxMoney) {
		return decimal.Zero, false, fieldError(field, "is too large")
	}
	if !pricing.Exact(d) {
		return decimal.Zero, false, fieldError(field, "must have at most 2 decimal places")
	}
	return d, true, nil
}

// Quantity проверяет, что количество положительно.
func Quantity(field string, n int) error {
	if n <= 0 {
		return fieldError(field, "must be positive")
	}
	return nil
}

// Stock проверяет, что остаток неотрицателен.
func Stock(field string, n int) error {
	if n < 0 {
		return fieldError(field, "must not be negative")
	}
	return nil
}

// ID разбирает положительный идентификатор из параметра пути.
func ID(field, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fieldError(field, "must be a positive integer")
	}
	return id, nil
}

// Name проверяет непустое имя разумной длины.
func Name(field, s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fieldError(field, "is required")
	}
	if len(s) > 255 {
		return fieldError(field, "is too long")
	}
	return nil
}

// Role разбирает роль при регистрации; пустая строка означает покупателя.
func Role(field, raw string) (model.Role, error) {
	switch model.Role(raw) {
	case "":
		return model.RoleBuyer, nil
	case model.RoleBuyer, model.RoleSeller:
		return model.Role(raw), nil
	}
	return "", fieldError(field, "must be buyer or seller")
}

// OrderStatus разбирает статус заказа.
func OrderStatus(field, raw string) (model.OrderStatus, error) {
	s := model.OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fieldError(field, "is not a known order status")
	}
	return s, nil
}

// IdempotencyKey проверяет ключ идемпотентности: пустой допустим, иначе печатные ASCII без пробелов.
func IdempotencyKey(field, key string) error {
	if key == "" {
		return nil
	}
	if len(key) > maxIdempotencyKeyLen {
		return fieldError(field, "is too long")
	}
	for _, r := range key {
		if r <= ' ' || r > '~' {
			return fieldError(field, "must be printable ASCII without spaces")
		}
	}
	return nil
}
