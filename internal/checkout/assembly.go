// Package checkout собирает заказ из принятого торга или корзины покупателя.
package checkout

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nishidshajib/tradbazar/internal/model"
	"github.com/nishidshajib/tradbazar/internal/pricing"
)

// Reserver атомарно проверяет и уменьшает остаток товара, возвращая состояние товара после списания.
type Reserver interface {
	ReserveStock(ctx context.Context, productID int64, quantity int) (*model.Product, error)
}

type line struct {
	productID int64
	quantity  int
	// price задана для торга; для корзины берётся из товара в момент резервирования.
	price *decimal.Decimal
}

// FromBargain собирает заказ из одной позиции по цене принятого торга.
// Торг может быть уже переведён в completed в той же транзакции оформления.
func FromBargain(ctx context.Context, r Reserver, b *model.Bargain, now time.Time) (model.Order, error) {
	if b.Status != model.BargainStatusAccepted && b.Status != model.BargainStatusCompleted {
		return model.Order{}, fmt.Errorf("%w: bargain %d is %s", model.ErrNotAccepted, b.ID, b.Status)
	}

	price := b.OfferedPrice
	order, err := assemble(ctx, r, b.BuyerID, []line{{productID: b.ProductID, quantity: 1, price: &price}}, now)
	if err != nil {
		return model.Order{}, err
	}

	id := b.ID
	order.BargainID = &id
	return order, nil
}

// FromCart собирает заказ по строкам корзины; цена позиции равна текущей цене товара.
func FromCart(ctx context.Context, r Reserver, buyerID int64, items []model.CartItem, now time.Time) (model.Order, error) {
	if len(items) == 0 {
		return model.Order{}, model.ErrEmptyCart
	}

	lines := make([]line, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return model.Order{}, fmt.Errorf("%w: cart quantity for product %d must be positive", model.ErrInvalidInput, it.ProductID)
		}
		lines = append(lines, line{productID: it.ProductID, quantity: it.Quantity})
	}

	return assemble(ctx, r, buyerID, lines, now)
}

func assemble(ctx context.Context, r Reserver, buyerID int64, lines []line, now time.Time) (model.Order, error) {
	// Резервируем в порядке возрастания ID товара, чтобы параллельные заказы брали блокировки одинаково.
	order := make([]int, len(lines))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return lines[order[a]].productID < lines[order[b]].productID
	})

	items := make([]model.OrderItem, len(lines))
	for _, idx := range order {
		ln := lines[idx]
		product, err := r.ReserveStock(ctx, ln.productID, ln.quantity)
		if err != nil {
			return model.Order{}, err
		}

		price := product.Price
		if ln.price != nil {
			price = *ln.price
		}

		items[idx] = model.OrderItem{
			ProductID: ln.productID,
			Quantity:  ln.quantity,
			Price:     pricing.Round(price),
		}
	}

	now = now.UTC()
	return model.Order{
		BuyerID:   buyerID,
		Total:     Total(items),
		Status:    model.OrderStatusPending,
		Items:     items,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Total считает сумму price × quantity по позициям с округлением до минимальных единиц.
func Total(items []model.OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return pricing.Round(total)
}
