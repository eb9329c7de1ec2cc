// Package bargain реализует жизненный цикл торга: открытие, ответ покупателя на встречную цену
// и однократное использование принятого торга при оформлении заказа.
package bargain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nishidshajib/tradbazar/internal/model"
	"github.com/nishidshajib/tradbazar/internal/pricing"
)

// Action задаёт действие покупателя в ответ на встречную цену.
type Action string

// Допустимые ответы покупателя.
const (
	ActionAccept   Action = "accept"
	ActionNewOffer Action = "new_offer"
)

// Machine применяет политику цены к переходам торга. Не хранит состояния и не обращается к хранилищу.
type Machine struct {
	policy pricing.Policy
	now    func() time.Time
}

// NewMachine создаёт машину состояний торга с указанной политикой.
func NewMachine(policy pricing.Policy) *Machine {
	return &Machine{
		policy: policy,
		now:    time.Now,
	}
}

// Policy возвращает политику, с которой работает машина.
func (m *Machine) Policy() pricing.Policy {
	return m.policy
}

// Open проверяет, может ли покупатель торговаться по товару, и возвращает новый торг в статусе pending.
// Проверка активного торга по паре (товар, покупатель) выполняется хранилищем.
func (m *Machine) Open(product *model.Product, buyer model.Identity, offer decimal.Decimal) (model.Bargain, error) {
	if buyer.Role != model.RoleBuyer {
		return model.Bargain{}, fmt.Errorf("%w: only buyers can bargain", model.ErrUnauthorized)
	}
	if !product.BargainingEnabled() {
		return model.Bargain{}, fmt.Errorf("%w: product %d", model.ErrBargainingDisabled, product.ID)
	}
	if product.SellerID == buyer.UserID {
		return model.Bargain{}, model.ErrSelfBargain
	}
	if !offer.IsPositive() {
		return model.Bargain{}, fmt.Errorf("%w: offered price must be positive", model.ErrInvalidInput)
	}
	if !pricing.Exact(offer) {
		return model.Bargain{}, fmt.Errorf("%w: offered price has fractions of a cent", model.ErrInvalidInput)
	}

	now := m.now().UTC()
	return model.Bargain{
		ProductID:    product.ID,
		BuyerID:      buyer.UserID,
		OfferedPrice: offer,
		Status:       model.BargainStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Evaluate применяет политику к торгу в статусе pending и переводит его в accepted, rejected или countered.
func (m *Machine) Evaluate(b *model.Bargain, product *model.Product) (pricing.Decision, error) {
	if b.Status != model.BargainStatusPending {
		return pricing.Decision{}, fmt.Errorf("%w: bargain %d is %s", model.ErrInvalidState, b.ID, b.Status)
	}
	if !product.BargainingEnabled() {
		return pricing.Decision{}, fmt.Errorf("%w: product %d", model.ErrBargainingDisabled, product.ID)
	}

	dec, err := m.policy.Evaluate(b.OfferedPrice, *product.MinPrice, product.Price)
	if err != nil {
		return pricing.Decision{}, err
	}

	switch dec.Outcome {
	case pricing.OutcomeAccept:
		b.Status = model.BargainStatusAccepted
	case pricing.OutcomeReject:
		b.Status = model.BargainStatusRejected
	case pricing.OutcomeCounter:
		counter := dec.Counter
		b.CounterPrice = &counter
		b.Status = model.BargainStatusCountered
	}
	b.UpdatedAt = m.now().UTC()

	return dec, nil
}

// Respond обрабатывает ответ покупателя на встречную цену. При ActionAccept цена покупки становится
// равной встречной; при ActionNewOffer предложение заменяется и сразу переоценивается.
func (m *Machine) Respond(b *model.Bargain, product *model.Product, buyer model.Identity, action Action, newOffer *decimal.Decimal) (pricing.Decision, error) {
	if b.BuyerID != buyer.UserID {
		return pricing.Decision{}, fmt.Errorf("%w: bargain %d belongs to another buyer", model.ErrUnauthorized, b.ID)
	}
	if b.Status != model.BargainStatusCountered {
		return pricing.Decision{}, fmt.Errorf("%w: bargain %d is %s, want %s", model.ErrInvalidState, b.ID, b.Status, model.BargainStatusCountered)
	}

	switch action {
	case ActionAccept:
		if b.CounterPrice == nil {
			return pricing.Decision{}, fmt.Errorf("%w: bargain %d has no counter price", model.ErrInvalidState, b.ID)
		}
		b.OfferedPrice = *b.CounterPrice
		b.Status = model.BargainStatusAccepted
		b.UpdatedAt = m.now().UTC()
		return pricing.Decision{Outcome: pricing.OutcomeAccept, Reason: pricing.ReasonCountered, Price: b.OfferedPrice}, nil

	case ActionNewOffer:
		if newOffer == nil || !newOffer.IsPositive() {
			return pricing.Decision{}, fmt.Errorf("%w: new offered price must be positive", model.ErrInvalidInput)
		}
		if !pricing.Exact(*newOffer) {
			return pricing.Decision{}, fmt.Errorf("%w: new offered price has fractions of a cent", model.ErrInvalidInput)
		}
		b.OfferedPrice = *newOffer
		b.Status = model.BargainStatusPending
		return m.Evaluate(b, product)
	}

	return pricing.Decision{}, fmt.Errorf("%w: unknown action %q", model.ErrInvalidInput, action)
}

// Consume переводит принятый торг в completed. Повторный вызов возвращает ErrAlreadyCompleted.
func (m *Machine) Consume(b *model.Bargain, buyer model.Identity) error {
	if b.BuyerID != buyer.UserID {
		return fmt.Errorf("%w: bargain %d belongs to another buyer", model.ErrUnauthorized, b.ID)
	}
	switch b.Status {
	case model.BargainStatusAccepted:
	case model.BargainStatusCompleted:
		return fmt.Errorf("%w: bargain %d", model.ErrAlreadyCompleted, b.ID)
	default:
		return fmt.Errorf("%w: bargain %d is %s", model.ErrNotAccepted, b.ID, b.Status)
	}

	b.Status = model.BargainStatusCompleted
	b.UpdatedAt = m.now().UTC()
	return nil
}
