// Package pricing реализует политику принятия решения по ценовому предложению покупателя.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nishidshajib/tradbazar/internal/model"
)

// MinorUnits задаёт количество знаков после запятой в денежных суммах.
const MinorUnits = 2

var two = decimal.NewFromInt(2)

// Mode задаёт вариант политики торга.
type Mode string

const (
	// ModeImmediate: предложение сразу принимается или отклоняется.
	ModeImmediate Mode = "immediate"
	// ModeCounter: предложение внутри диапазона получает встречную цену посередине между предложением и максимумом.
	ModeCounter Mode = "counter"
)

// ParseMode разбирает режим политики. Пустая строка означает ModeImmediate.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeImmediate:
		return ModeImmediate, nil
	case ModeCounter:
		return ModeCounter, nil
	}
	return "", fmt.Errorf("%w: unknown pricing mode %q", model.ErrInvalidInput, s)
}

// Outcome описывает итог оценки предложения.
type Outcome string

const (
	// OutcomeAccept означает, что предложение принято и торг можно использовать при оформлении.
	OutcomeAccept Outcome = "accept"
	// OutcomeReject означает, что предложение ниже минимальной цены.
	OutcomeReject Outcome = "reject"
	// OutcomeCounter означает, что покупателю предложена встречная цена.
	OutcomeCounter Outcome = "counter"
)

// Reason уточняет, почему было принято решение.
type Reason string

const (
	// ReasonFullPrice: предложение не ниже прайсовой цены.
	ReasonFullPrice Reason = "full_price"
	// ReasonMinimumMet: предложение в диапазоне торга.
	ReasonMinimumMet Reason = "minimum_met"
	// ReasonBelowMinimum: предложение ниже минимальной цены.
	ReasonBelowMinimum Reason = "below_minimum"
	// ReasonCountered: покупатель согласился со встречной ценой.
	ReasonCountered Reason = "countered"
)

// Decision описывает результат оценки предложения.
type Decision struct {
	Outcome Outcome
	Reason  Reason
	// Price задаёт цену покупки при OutcomeAccept (равна предложению).
	Price decimal.Decimal
	// Counter задаёт встречную цену при OutcomeCounter.
	Counter decimal.Decimal
}

// Policy принимает решение по предложению в выбранном режиме.
type Policy struct {
	mode Mode
}

// NewPolicy создаёт политику в указанном режиме. Неизвестный режим трактуется как ModeImmediate.
func NewPolicy(mode Mode) Policy {
	if mode != ModeCounter {
		mode = ModeImmediate
	}
	return Policy{mode: mode}
}

// Mode возвращает режим политики.
func (p Policy) Mode() Mode {
	return p.mode
}

// Evaluate оценивает предложение offer относительно диапазона [minPrice, maxPrice].
func (p Policy) Evaluate(offer, minPrice, maxPrice decimal.Decimal) (Decision, error) {
	if err := validateBand(minPrice, maxPrice); err != nil {
		return Decision{}, err
	}
	if !offer.IsPositive() {
		return Decision{}, fmt.Errorf("%w: offer must be positive", model.ErrInvalidInput)
	}

	switch {
	case offer.GreaterThanOrEqual(maxPrice):
		return Decision{Outcome: OutcomeAccept, Reason: ReasonFullPrice, Price: offer}, nil
	case offer.LessThan(minPrice):
		return Decision{Outcome: OutcomeReject, Reason: ReasonBelowMinimum}, nil
	case p.mode == ModeCounter:
		return Decision{
			Outcome: OutcomeCounter,
			Reason:  ReasonCountered,
			Counter: Round(maxPrice.Add(offer).Div(two)),
		}, nil
	default:
		return Decision{Outcome: OutcomeAccept, Reason: ReasonMinimumMet, Price: offer}, nil
	}
}

func validateBand(minPrice, maxPrice decimal.Decimal) error {
	if !maxPrice.IsPositive() {
		return fmt.Errorf("%w: max price must be positive", model.ErrInvalidInput)
	}
	if minPrice.IsNegative() {
		return fmt.Errorf("%w: min price must be non-negative", model.ErrInvalidInput)
	}
	if minPrice.GreaterThanOrEqual(maxPrice) {
		return fmt.Errorf("%w: min price must be below max price", model.ErrInvalidInput)
	}
	return nil
}

// Exact сообщает, что сумма не содержит долей меньше минимальной денежной единицы.
func Exact(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MinorUnits))
}

// Round округляет сумму до минимальных денежных единиц (half-up).
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnits)
}
