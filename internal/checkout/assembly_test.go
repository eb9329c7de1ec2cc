package checkout

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nishidshajib/tradbazar/internal/model"
)

type stubReserver struct {
	products map[int64]*model.Product
	calls    []int64
}

func (s *stubReserver) ReserveStock(ctx context.Context, productID int64, quantity int) (*model.Product, error) {
	s.calls = append(s.calls, productID)
	p, ok := s.products[productID]
	if !ok {
		return nil, model.ErrProductNotFound
	}
	if p.Quantity < quantity {
		return nil, fmt.Errorf("%w: product %d", model.ErrInsufficientStock, productID)
	}
	p.Quantity -= quantity
	cp := *p
	return &cp, nil
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var now = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

func TestFromCart_TotalsAndItems(t *testing.T) {
	r := &stubReserver{products: map[int64]*model.Product{
		2: {ID: 2, Price: money("15"), Quantity: 3},
		1: {ID: 1, Price: money("20"), Quantity: 5},
	}}

	order, err := FromCart(context.Background(), r, 42, []model.CartItem{
		{BuyerID: 42, ProductID: 2, Quantity: 1},
		{BuyerID: 42, ProductID: 1, Quantity: 2},
	}, now)
	require.NoError(t, err)

	assert.Equal(t, int64(42), order.BuyerID)
	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.True(t, order.Total.Equal(money("55")), "total = %s", order.Total)
	require.Len(t, order.Items, 2)
	assert.Equal(t, int64(2), order.Items[0].ProductID, "items keep cart order")
	assert.True(t, order.Items[1].Price.Equal(money("20")))
	assert.Equal(t, []int64{1, 2}, r.calls, "reservations go in product id order")
	assert.Equal(t, 3, r.products[1].Quantity)
	assert.Equal(t, 2, r.products[2].Quantity)
}

func TestFromCart_Empty(t *testing.T) {
	_, err := FromCart(context.Background(), &stubReserver{}, 1, nil, now)
	require.ErrorIs(t, err, model.ErrEmptyCart)
}

func TestFromCart_InsufficientStockStops(t *testing.T) {
	r := &stubReserver{products: map[int64]*model.Product{
		1: {ID: 1, Price: money("20"), Quantity: 0},
		2: {ID: 2, Price: money("15"), Quantity: 3},
	}}

	_, err := FromCart(context.Background(), r, 42, []model.CartItem{
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, Quantity: 1},
	}, now)
	require.ErrorIs(t, err, model.ErrInsufficientStock)
	assert.Equal(t, []int64{1}, r.calls)
}

func TestFromBargain(t *testing.T) {
	r := &stubReserver{products: map[int64]*model.Product{
		10: {ID: 10, Price: money("100"), Quantity: 4},
	}}

	b := &model.Bargain{ID: 3, ProductID: 10, BuyerID: 42, OfferedPrice: money("70"), Status: model.BargainStatusAccepted}

	order, err := FromBargain(context.Background(), r, b, now)
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 1, order.Items[0].Quantity)
	assert.True(t, order.Items[0].Price.Equal(money("70")))
	assert.True(t, order.Total.Equal(money("70")))
	require.NotNil(t, order.BargainID)
	assert.Equal(t, int64(3), *order.BargainID)
	assert.Equal(t, 3, r.products[10].Quantity)

	rejected := &model.Bargain{ID: 4, ProductID: 10, BuyerID: 42, Status: model.BargainStatusRejected}
	_, err = FromBargain(context.Background(), r, rejected, now)
	require.ErrorIs(t, err, model.ErrNotAccepted)
}

func TestTotal_RoundsHalfUp(t *testing.T) {
	total := Total([]model.OrderItem{
		{Quantity: 3, Price: money("0.335")},
		{Quantity: 1, Price: money("1.10")},
	})
	assert.Equal(t, "2.11", total.StringFixed(2))
}
