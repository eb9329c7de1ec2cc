package repository

import (
	"context"
	"time"

	"github.com/nishidshajib/tradbazar/internal/model"
)

// Tx описывает операции хранилища, выполняемые внутри одной транзакции.
// Реализации гарантируют, что либо все изменения фиксируются вместе, либо ни одно.
type Tx interface {
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	CreateProduct(ctx context.Context, p *model.Product) error
	UpdateProduct(ctx context.Context, p *model.Product) error
	// ReserveStock атомарно уменьшает остаток, если его достаточно, иначе возвращает ErrInsufficientStock.
	ReserveStock(ctx context.Context, productID int64, quantity int) (*model.Product, error)

	// CreateBargain сохраняет торг; возвращает ErrActiveBargainExists, если у пары уже есть активный торг.
	CreateBargain(ctx context.Context, b *model.Bargain) error
	// GetBargainForUpdate читает торг и блокирует его до конца транзакции.
	GetBargainForUpdate(ctx context.Context, id int64) (*model.Bargain, error)
	UpdateBargain(ctx context.Context, b *model.Bargain) error
	// CompleteBargain переводит торг из accepted в completed условным обновлением.
	CompleteBargain(ctx context.Context, id int64, at time.Time) error

	ListCart(ctx context.Context, buyerID int64) ([]model.CartItem, error)
	AddCartItem(ctx context.Context, item model.CartItem) (model.CartItem, error)
	RemoveCartItem(ctx context.Context, buyerID, productID int64) error
	ClearCart(ctx context.Context, buyerID int64) error

	// CreateOrder сохраняет заказ вместе с позициями и проставляет идентификаторы.
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrderForUpdate(ctx context.Context, id int64) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status model.OrderStatus, at time.Time) error
	AppendStatusChange(ctx context.Context, c *model.StatusChange) error
}
