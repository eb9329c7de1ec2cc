package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nishidshajib/tradbazar/internal/model"
	"github.com/nishidshajib/tradbazar/internal/repository"
)

// tx изменяет рабочую копию состояния внутри Store.WithinTx.
type tx struct {
	st *state
}

var _ repository.Tx = (*tx)(nil)

func (t *tx) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", model.ErrProductNotFound, id)
	}
	return &p, nil
}

func (t *tx) CreateProduct(ctx context.Context, p *model.Product) error {
	p.ID = t.st.nextID()
	t.st.products[p.ID] = *p
	return nil
}

func (t *tx) UpdateProduct(ctx context.Context, p *model.Product) error {
	if _, ok := t.st.products[p.ID]; !ok {
		return fmt.Errorf("%w: %d", model.ErrProductNotFound, p.ID)
	}
	t.st.products[p.ID] = *p
	return nil
}

func (t *tx) ReserveStock(ctx context.Context, productID int64, quantity int) (*model.Product, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", model.ErrInvalidInput)
	}

	p, ok := t.st.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", model.ErrProductNotFound, productID)
	}
	if p.Quantity < quantity {
		return nil, fmt.Errorf("%w: product %d (requested %d, available %d)", model.ErrInsufficientStock, productID, quantity, p.Quantity)
	}

	p.Quantity -= quantity
	p.UpdatedAt = time.Now().UTC()
	t.st.products[productID] = p
	return &p, nil
}

func (t *tx) CreateBargain(ctx context.Context, b *model.Bargain) error {
	if b.Status.Active() {
		for _, other := range t.st.bargains {
			if other.ProductID == b.ProductID && other.BuyerID == b.BuyerID && other.Status.Active() {
				return fmt.Errorf("%w: product %d", model.ErrActiveBargainExists, b.ProductID)
			}
		}
	}

	b.ID = t.st.nextID()
	t.st.bargains[b.ID] = *b
	return nil
}

func (t *tx) GetBargainForUpdate(ctx context.Context, id int64) (*model.Bargain, error) {
	b, ok := t.st.bargains[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", model.ErrBargainNotFound, id)
	}
	return &b, nil
}

func (t *tx) UpdateBargain(ctx context.Context, b *model.Bargain) error {
	if _, ok := t.st.bargains[b.ID]; !ok {
		return fmt.Errorf("%w: %d", model.ErrBargainNotFound, b.ID)
	}
	if b.Status.Active() {
		for _, other := range t.st.bargains {
			if other.ID != b.ID && other.ProductID == b.ProductID && other.BuyerID == b.BuyerID && other.Status.Active() {
				return fmt.Errorf("%w: product %d", model.ErrActiveBargainExists, b.ProductID)
			}
		}
	}
	t.st.bargains[b.ID] = *b
	return nil
}

func (t *tx) CompleteBargain(ctx context.Context, id int64, at time.Time) error {
	b, ok := t.st.bargains[id]
	if !ok {
		return fmt.Errorf("%w: %d", model.ErrBargainNotFound, id)
	}
	switch b.Status {
	case model.BargainStatusAccepted:
	case model.BargainStatusCompleted:
		return fmt.Errorf("%w: bargain %d", model.ErrAlreadyCompleted, id)
	default:
		return fmt.Errorf("%w: bargain %d is %s", model.ErrNotAccepted, id, b.Status)
	}

	b.Status = model.BargainStatusCompleted
	b.UpdatedAt = at
	t.st.bargains[id] = b
	return nil
}

func (t *tx) ListCart(ctx context.Context, buyerID int64) ([]model.CartItem, error) {
	var res []model.CartItem
	for k, it := range t.st.cart {
		if k.buyerID == buyerID {
			res = append(res, it)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ProductID < res[j].ProductID
	})
	return res, nil
}

func (t *tx) AddCartItem(ctx context.Context, item model.CartItem) (model.CartItem, error) {
	key := cartKey{buyerID: item.BuyerID, productID: item.ProductID}
	if existing, ok := t.st.cart[key]; ok {
		existing.Quantity += item.Quantity
		t.st.cart[key] = existing
		return existing, nil
	}
	t.st.cart[key] = item
	return item, nil
}

func (t *tx) RemoveCartItem(ctx context.Context, buyerID, productID int64) error {
	delete(t.st.cart, cartKey{buyerID: buyerID, productID: productID})
	return nil
}

func (t *tx) ClearCart(ctx context.Context, buyerID int64) error {
	for k := range t.st.cart {
		if k.buyerID == buyerID {
			delete(t.st.cart, k)
		}
	}
	return nil
}

func (t *tx) CreateOrder(ctx context.Context, o *model.Order) error {
	if o.BargainID != nil {
		for _, other := range t.st.orders {
			if other.BargainID != nil && *other.BargainID == *o.BargainID {
				return fmt.Errorf("%w: bargain %d", model.ErrAlreadyCompleted, *o.BargainID)
			}
		}
	}

	o.ID = t.st.nextID()
	for i := range o.Items {
		o.Items[i].ID = t.st.nextID()
		o.Items[i].OrderID = o.ID
	}
	t.st.orders[o.ID] = copyOrder(*o)
	return nil
}

func (t *tx) GetOrderForUpdate(ctx context.Context, id int64) (*model.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", model.ErrOrderNotFound, id)
	}
	o = copyOrder(o)
	return &o, nil
}

func (t *tx) UpdateOrderStatus(ctx context.Context, orderID int64, status model.OrderStatus, at time.Time) error {
	o, ok := t.st.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %d", model.ErrOrderNotFound, orderID)
	}
	o.Status = status
	o.UpdatedAt = at
	t.st.orders[orderID] = o
	return nil
}

func (t *tx) AppendStatusChange(ctx context.Context, c *model.StatusChange) error {
	c.ID = t.st.nextID()
	t.st.history[c.OrderID] = append(t.st.history[c.OrderID], *c)
	return nil
}
