// Package model содержит доменные сущности маркетплейса.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role описывает роль пользователя маркетплейса.
type Role string

// Роли пользователей.
const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// Valid сообщает, является ли роль одной из известных.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

// Identity описывает аутентифицированного пользователя, от имени которого выполняется операция.
type Identity struct {
	UserID int64
	Role   Role
}

// User представляет зарегистрированного пользователя.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Role         Role
	CreatedAt    time.Time
}

// Product описывает товар продавца. Price задаёт максимальную (прайсовую) цену,
// MinPrice задаёт нижнюю границу торга; nil означает, что торг отключён.
type Product struct {
	ID        int64
	SellerID  int64
	Name      string
	Price     decimal.Decimal
	MinPrice  *decimal.Decimal
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BargainingEnabled сообщает, разрешён ли торг: min_price задан и строго меньше price.
func (p *Product) BargainingEnabled() bool {
	return p.MinPrice != nil && p.MinPrice.LessThan(p.Price)
}

// BargainStatus описывает состояние торга.
type BargainStatus string

// Статусы торга. Из pending, countered и accepted торг может перейти дальше, rejected и completed конечные.
const (
	BargainStatusPending   BargainStatus = "pending"
	BargainStatusCountered BargainStatus = "countered"
	BargainStatusAccepted  BargainStatus = "accepted"
	BargainStatusRejected  BargainStatus = "rejected"
	BargainStatusCompleted BargainStatus = "completed"
)

// Active сообщает, блокирует ли торг в этом статусе открытие нового торга по той же паре (товар, покупатель).
func (s BargainStatus) Active() bool {
	return s == BargainStatusPending || s == BargainStatusAccepted
}

// Bargain описывает торг покупателя по одному товару.
type Bargain struct {
	ID           int64
	ProductID    int64
	BuyerID      int64
	OfferedPrice decimal.Decimal
	CounterPrice *decimal.Decimal
	Status       BargainStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OrderStatus описывает статус исполнения заказа.
type OrderStatus string

// Статусы заказа.
const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid сообщает, является ли статус заказа одним из известных.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Terminal сообщает, что из статуса больше нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Order описывает оформленный заказ. Total фиксируется при оформлении и больше не пересчитывается.
type Order struct {
	ID        int64
	BuyerID   int64
	BargainID *int64
	Total     decimal.Decimal
	Status    OrderStatus
	Items     []OrderItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderItem описывает позицию заказа. Price хранит цену за единицу на момент покупки.
type OrderItem struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Quantity  int
	Price     decimal.Decimal
}

// StatusChange описывает запись истории статусов заказа.
type StatusChange struct {
	ID        int64
	OrderID   int64
	Status    OrderStatus
	Comment   string
	UpdatedBy int64
	CreatedAt time.Time
}

// CartItem описывает строку корзины покупателя.
type CartItem struct {
	BuyerID   int64
	ProductID int64
	Quantity  int
	CreatedAt time.Time
}
