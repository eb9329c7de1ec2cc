package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nishidshajib/tradbazar/internal/checkout"
	"github.com/nishidshajib/tradbazar/internal/model"
	"github.com/nishidshajib/tradbazar/internal/repository"
)

const (
	checkoutModeBargain = "bargain"
	checkoutModeCart    = "cart"

	idempotencyFinishTimeout = 3 * time.Second
)

// AddToCart добавляет товар в корзину; повторное добавление суммирует количество.
func (s *Service) AddToCart(ctx context.Context, buyer model.Identity, productID int64, quantity int) (*model.CartItem, error) {
	if buyer.Role != model.RoleBuyer {
		return nil, fmt.Errorf("%w: only buyers have a cart", model.ErrUnauthorized)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", model.ErrInvalidInput)
	}

	var item model.CartItem
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.GetProduct(ctx, productID); err != nil {
			return err
		}
		var err error
		item, err = tx.AddCartItem(ctx, model.CartItem{
			BuyerID:   buyer.UserID,
			ProductID: productID,
			Quantity:  quantity,
			CreatedAt: s.now(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListCart возвращает корзину покупателя.
func (s *Service) ListCart(ctx context.Context, buyer model.Identity) ([]model.CartItem, error) {
	if buyer.Role != model.RoleBuyer {
		return nil, fmt.Errorf("%w: only buyers have a cart", model.ErrUnauthorized)
	}
	return s.repo.ListCart(ctx, buyer.UserID)
}

// RemoveFromCart удаляет товар из корзины.
func (s *Service) RemoveFromCart(ctx context.Context, buyer model.Identity, productID int64) error {
	if buyer.Role != model.RoleBuyer {
		return fmt.Errorf("%w: only buyers have a cart", model.ErrUnauthorized)
	}
	return s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.RemoveCartItem(ctx, buyer.UserID, productID)
	})
}

// ClearCart очищает корзину.
func (s *Service) ClearCart(ctx context.Context, buyer model.Identity) error {
	if buyer.Role != model.RoleBuyer {
		return fmt.Errorf("%w: only buyers have a cart", model.ErrUnauthorized)
	}
	return s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.ClearCart(ctx, buyer.UserID)
	})
}

// CheckoutRequest описывает оформление: по торгу, если BargainID задан, иначе по корзине.
type CheckoutRequest struct {
	BargainID      *int64
	IdempotencyKey string
}

// CheckoutResult содержит созданный (или повторно возвращённый по ключу идемпотентности) заказ.
type CheckoutResult struct {
	Order       model.Order
	UsedBargain bool
	Replayed    bool
}

// Checkout оформляет заказ в одной транзакции: использует торг или корзину,
// резервирует остатки, фиксирует цены позиций и создаёт заказ. При любой ошибке
// ни остатки, ни торг, ни корзина не меняются.
func (s *Service) Checkout(ctx context.Context, buyer model.Identity, req CheckoutRequest) (res *CheckoutResult, err error) {
	if buyer.Role != model.RoleBuyer {
		return nil, fmt.Errorf("%w: only buyers can check out", model.ErrUnauthorized)
	}

	mode := checkoutModeCart
	if req.BargainID != nil {
		mode = checkoutModeBargain
	}
	start := s.now()
	defer func() {
		s.metrics.RecordCheckout(mode, model.ErrorCode(err), s.now().Sub(start))
		if errors.Is(err, model.ErrInsufficientStock) {
			s.metrics.RecordStockRejection()
		}
	}()

	if req.IdempotencyKey != "" && s.idem != nil {
		orderID, started, err := s.idem.Begin(ctx, buyer.UserID, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if !started {
			return s.replayCheckout(ctx, buyer, orderID)
		}
		defer func() {
			s.finishIdempotency(ctx, buyer.UserID, req.IdempotencyKey, res, err)
		}()
	}

	var order model.Order
	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		order, err = s.placeOrder(ctx, tx, buyer, req.BargainID)
		return err
	})
	if err != nil {
		s.logger.Info("checkout rejected",
			zap.Int64("buyer_id", buyer.UserID),
			zap.String("mode", mode),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("order placed",
		zap.Int64("order_id", order.ID),
		zap.Int64("buyer_id", buyer.UserID),
		zap.String("mode", mode),
		zap.String("total", order.Total.StringFixed(2)),
	)
	if s.events != nil {
		if err := s.events.OrderPlaced(ctx, &order); err != nil {
			s.logger.Warn("failed to publish order event", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}

	return &CheckoutResult{Order: order, UsedBargain: order.BargainID != nil}, nil
}

func (s *Service) placeOrder(ctx context.Context, tx repository.Tx, buyer model.Identity, bargainID *int64) (model.Order, error) {
	now := s.now()

	if bargainID != nil {
		b, err := tx.GetBargainForUpdate(ctx, *bargainID)
		if err != nil {
			return model.Order{}, err
		}
		if err := s.machine.Consume(b, buyer); err != nil {
			return model.Order{}, err
		}
		// условное обновление защищает от повторного использования при гонке
		if err := tx.CompleteBargain(ctx, b.ID, now); err != nil {
			return model.Order{}, err
		}

		order, err := checkout.FromBargain(ctx, tx, b, now)
		if err != nil {
			return model.Order{}, err
		}
		if err := tx.CreateOrder(ctx, &order); err != nil {
			return model.Order{}, err
		}
		return order, nil
	}

	items, err := tx.ListCart(ctx, buyer.UserID)
	if err != nil {
		return model.Order{}, err
	}
	order, err := checkout.FromCart(ctx, tx, buyer.UserID, items, now)
	if err != nil {
		return model.Order{}, err
	}
	if err := tx.CreateOrder(ctx, &order); err != nil {
		return model.Order{}, err
	}
	if err := tx.ClearCart(ctx, buyer.UserID); err != nil {
		return model.Order{}, err
	}
	return order, nil
}

func (s *Service) replayCheckout(ctx context.Context, buyer model.Identity, orderID int64) (*CheckoutResult, error) {
	order, err := s.repo.LoadOrderWithItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != buyer.UserID {
		return nil, fmt.Errorf("%w: order %d belongs to another buyer", model.ErrUnauthorized, orderID)
	}
	return &CheckoutResult{Order: *order, UsedBargain: order.BargainID != nil, Replayed: true}, nil
}

// finishIdempotency фиксирует исход оформления в хранилище ключей. Контекст запроса
// к этому моменту может быть отменён клиентом, поэтому запись идёт в отдельном контексте.
func (s *Service) finishIdempotency(ctx context.Context, buyerID int64, key string, res *CheckoutResult, err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), idempotencyFinishTimeout)
	defer cancel()

	if err != nil || res == nil {
		if abortErr := s.idem.Abort(ctx, buyerID, key); abortErr != nil {
			s.logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(abortErr))
		}
		return
	}
	if completeErr := s.idem.Complete(ctx, buyerID, key, res.Order.ID); completeErr != nil {
		s.logger.Warn("failed to store idempotency key", zap.String("key", key), zap.Error(completeErr))
	}
}
