package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nishidshajib/tradbazar/internal/model"
	"github.com/nishidshajib/tradbazar/internal/repository"
)

// Tracking содержит заказ с историей смены статусов.
type Tracking struct {
	Order   model.Order
	History []model.StatusChange
}

// GetOrder возвращает заказ покупателя.
func (s *Service) GetOrder(ctx context.Context, buyer model.Identity, orderID int64) (*model.Order, error) {
	o, err := s.repo.LoadOrderWithItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if buyer.Role != model.RoleAdmin && o.BuyerID != buyer.UserID {
		return nil, fmt.Errorf("%w: order %d belongs to another buyer", model.ErrUnauthorized, orderID)
	}
	return o, nil
}

// ListOrders возвращает заказы покупателя, новые первыми.
func (s *Service) ListOrders(ctx context.Context, buyer model.Identity) ([]model.Order, error) {
	if buyer.Role != model.RoleBuyer {
		return nil, fmt.Errorf("%w: only buyers have orders", model.ErrUnauthorized)
	}
	return s.repo.ListOrdersByBuyer(ctx, buyer.UserID)
}

// ListSellerOrders возвращает заказы с товарами продавца, новые первыми.
// Каждый заказ содержит только позиции этого продавца.
func (s *Service) ListSellerOrders(ctx context.Context, seller model.Identity) ([]model.Order, error) {
	if seller.Role != model.RoleSeller {
		return nil, fmt.Errorf("%w: only sellers receive orders", model.ErrUnauthorized)
	}
	return s.repo.ListOrdersBySeller(ctx, seller.UserID)
}

// OrderTracking возвращает заказ и его историю статусов.
func (s *Service) OrderTracking(ctx context.Context, buyer model.Identity, orderID int64) (*Tracking, error) {
	o, err := s.GetOrder(ctx, buyer, orderID)
	if err != nil {
		return nil, err
	}
	history, err := s.repo.ListStatusHistory(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &Tracking{Order: *o, History: history}, nil
}

// UpdateOrderStatus меняет статус заказа. Доступно продавцу, чей товар есть в заказе, и администратору.
// Установка того же статуса ничего не меняет; статусы delivered и cancelled конечные.
func (s *Service) UpdateOrderStatus(ctx context.Context, who model.Identity, orderID int64, status model.OrderStatus, comment string) (*model.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown order status %q", model.ErrInvalidInput, status)
	}
	if who.Role != model.RoleSeller && who.Role != model.RoleAdmin {
		return nil, fmt.Errorf("%w: only sellers and admins can update order status", model.ErrUnauthorized)
	}

	var (
		order  *model.Order
		change *model.StatusChange
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		change = nil

		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if who.Role == model.RoleSeller {
			owns, err := sellerOwnsItem(ctx, tx, o, who.UserID)
			if err != nil {
				return err
			}
			if !owns {
				return fmt.Errorf("%w: order %d has no products of seller %d", model.ErrUnauthorized, orderID, who.UserID)
			}
		}

		order = o
		if o.Status == status {
			return nil
		}
		if o.Status.Terminal() {
			return fmt.Errorf("%w: order %d is already %s", model.ErrInvalidState, orderID, o.Status)
		}

		now := s.now()
		if err := tx.UpdateOrderStatus(ctx, orderID, status, now); err != nil {
			return err
		}
		c := &model.StatusChange{
			OrderID:   orderID,
			Status:    status,
			Comment:   strings.TrimSpace(comment),
			UpdatedBy: who.UserID,
			CreatedAt: now,
		}
		if err := tx.AppendStatusChange(ctx, c); err != nil {
			return err
		}
		o.Status = status
		o.UpdatedAt = now
		change = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	if change != nil {
		s.metrics.RecordOrderStatusChange(string(status))
		s.logger.Info("order status changed",
			zap.Int64("order_id", orderID),
			zap.String("status", string(status)),
			zap.Int64("updated_by", who.UserID),
		)
		if s.events != nil {
			if err := s.events.OrderStatusChanged(ctx, change); err != nil {
				s.logger.Warn("failed to publish order status event", zap.Int64("order_id", orderID), zap.Error(err))
			}
		}
	}
	return order, nil
}

func sellerOwnsItem(ctx context.Context, tx repository.Tx, o *model.Order, sellerID int64) (bool, error) {
	for _, it := range o.Items {
		p, err := tx.GetProduct(ctx, it.ProductID)
		if err != nil {
			return false, err
		}
		if p.SellerID == sellerID {
			return true, nil
		}
	}
	return false, nil
}
