package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nishidshajib/tradbazar/internal/bargain"
	"github.com/nishidshajib/tradbazar/internal/model"
	"github.com/nishidshajib/tradbazar/internal/pricing"
	"github.com/nishidshajib/tradbazar/internal/repository"
)

// BargainResult содержит торг после решения, само решение и сообщение для покупателя.
type BargainResult struct {
	Bargain  model.Bargain
	Decision pricing.Decision
	Message  string
}

// ProductBargainInfo возвращает сведения о торге по товару для пользователя.
// Для непокупателей последний торг не ищется.
func (s *Service) ProductBargainInfo(ctx context.Context, who model.Identity, productID int64) (bargain.ProductInfo, error) {
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return bargain.ProductInfo{}, err
	}

	var latest *model.Bargain
	if who.Role == model.RoleBuyer {
		latest, err = s.repo.LatestBargain(ctx, productID, who.UserID)
		if err != nil {
			return bargain.ProductInfo{}, err
		}
	}

	info := bargain.Info(product, latest)
	if who.Role != model.RoleBuyer || product.SellerID == who.UserID {
		info.CanBargain = false
	}
	return info, nil
}

// CreateBargain открывает торг и сразу выносит решение по предложению.
func (s *Service) CreateBargain(ctx context.Context, buyer model.Identity, productID int64, offer decimal.Decimal) (*BargainResult, error) {
	var res BargainResult
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}

		b, err := s.machine.Open(product, buyer, offer)
		if err != nil {
			return err
		}
		// pending-запись занимает слот активного торга до вынесения решения
		if err := tx.CreateBargain(ctx, &b); err != nil {
			return err
		}

		dec, err := s.machine.Evaluate(&b, product)
		if err != nil {
			return err
		}
		if err := tx.UpdateBargain(ctx, &b); err != nil {
			return err
		}

		res = BargainResult{Bargain: b, Decision: dec, Message: bargain.DecisionMessage(dec)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterBargainDecision(ctx, &res)
	return &res, nil
}

// RespondBargain обрабатывает ответ покупателя на встречную цену.
func (s *Service) RespondBargain(ctx context.Context, buyer model.Identity, bargainID int64, action bargain.Action, newOffer *decimal.Decimal) (*BargainResult, error) {
	var res BargainResult
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		b, err := tx.GetBargainForUpdate(ctx, bargainID)
		if err != nil {
			return err
		}
		product, err := tx.GetProduct(ctx, b.ProductID)
		if err != nil {
			return err
		}

		dec, err := s.machine.Respond(b, product, buyer, action, newOffer)
		if err != nil {
			return err
		}
		if err := tx.UpdateBargain(ctx, b); err != nil {
			return err
		}

		res = BargainResult{Bargain: *b, Decision: dec, Message: bargain.DecisionMessage(dec)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterBargainDecision(ctx, &res)
	return &res, nil
}

func (s *Service) afterBargainDecision(ctx context.Context, res *BargainResult) {
	s.metrics.RecordBargainDecision(string(res.Decision.Outcome))
	s.logger.Info("bargain decided",
		zap.Int64("bargain_id", res.Bargain.ID),
		zap.Int64("product_id", res.Bargain.ProductID),
		zap.String("status", string(res.Bargain.Status)),
		zap.String("reason", string(res.Decision.Reason)),
	)
	if s.events == nil {
		return
	}
	if err := s.events.BargainDecided(ctx, &res.Bargain); err != nil {
		s.logger.Warn("failed to publish bargain event", zap.Int64("bargain_id", res.Bargain.ID), zap.Error(err))
	}
}

// ListBargains возвращает торги, видимые пользователю: свои для покупателя,
// по своим товарам для продавца, все для администратора.
func (s *Service) ListBargains(ctx context.Context, who model.Identity) ([]model.Bargain, error) {
	switch who.Role {
	case model.RoleBuyer:
		return s.repo.ListBargainsByBuyer(ctx, who.UserID)
	case model.RoleSeller:
		return s.repo.ListBargainsBySeller(ctx, who.UserID)
	case model.RoleAdmin:
		return s.repo.ListAllBargains(ctx)
	default:
		return nil, fmt.Errorf("%w: unknown role %q", model.ErrUnauthorized, who.Role)
	}
}
