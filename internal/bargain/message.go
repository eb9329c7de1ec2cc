package bargain

import (
	"github.com/shopspring/decimal"

	"github.com/nishidshajib/tradbazar/internal/model"
	"github.com/nishidshajib/tradbazar/internal/pricing"
)

// DecisionMessage возвращает текст для покупателя по итогу оценки предложения.
func DecisionMessage(dec pricing.Decision) string {
	switch dec.Reason {
	case pricing.ReasonFullPrice:
		return "Bargain accepted! You offered the full price or more."
	case pricing.ReasonMinimumMet:
		return "Bargain accepted! Your offer meets the minimum acceptable price."
	case pricing.ReasonBelowMinimum:
		return "Bargain rejected. Your offer is below the minimum acceptable price."
	case pricing.ReasonCountered:
		if dec.Outcome == pricing.OutcomeAccept {
			return "Counter offer accepted! You can now purchase at " + formatMoney(dec.Price)
		}
		return "Counter offer of " + formatMoney(dec.Counter)
	}
	return "Unknown decision"
}

// StatusMessage возвращает текст, описывающий текущее состояние торга.
func StatusMessage(b *model.Bargain) string {
	switch b.Status {
	case model.BargainStatusPending:
		return "Your bargain is being evaluated"
	case model.BargainStatusAccepted:
		return "Congratulations! Your bargain was accepted. You can now purchase at " + formatMoney(b.OfferedPrice)
	case model.BargainStatusRejected:
		return "Your bargain was rejected. You can try with a higher offer."
	case model.BargainStatusCountered:
		if b.CounterPrice != nil {
			return "Counter offer of " + formatMoney(*b.CounterPrice)
		}
		return "Counter offer pending"
	case model.BargainStatusCompleted:
		return "This bargain has been used for a purchase."
	}
	return "Unknown status"
}

func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(pricing.MinorUnits)
}

// ProductInfo описывает возможности торга и покупки товара для конкретного покупателя.
type ProductInfo struct {
	Product           *model.Product
	BargainingEnabled bool
	Latest            *model.Bargain
	CanBargain        bool
	CanPurchase       bool
	PurchasePrice     decimal.Decimal
	Message           string
}

// Info строит ProductInfo по товару и последнему торгу покупателя (может быть nil).
func Info(product *model.Product, latest *model.Bargain) ProductInfo {
	info := ProductInfo{
		Product:           product,
		BargainingEnabled: product.BargainingEnabled(),
		Latest:            latest,
		PurchasePrice:     product.Price,
	}

	info.CanBargain = info.BargainingEnabled && (latest == nil || !latest.Status.Active())

	if latest != nil {
		info.Message = StatusMessage(latest)
		if latest.Status == model.BargainStatusAccepted {
			info.CanPurchase = true
			info.PurchasePrice = latest.OfferedPrice
		}
	}

	return info
}
