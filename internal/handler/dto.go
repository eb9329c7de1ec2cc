package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/nishidshajib/tradbazar/internal/bargain"
	"github.com/nishidshajib/tradbazar/internal/model"
	"github.com/nishidshajib/tradbazar/internal/pricing"
	"github.com/nishidshajib/tradbazar/internal/service"
)

func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(pricing.MinorUnits)
}

func formatOptionalMoney(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := formatMoney(*d)
	return &s
}

type productResponse struct {
	ID                int64   `json:"id"`
	SellerID          int64   `json:"seller_id"`
	Name              string  `json:"name"`
	Price             string  `json:"price"`
	MinPrice          *string `json:"min_price,omitempty"`
	Quantity          int     `json:"quantity"`
	BargainingEnabled bool    `json:"bargaining_enabled"`
	UpdatedAt         string  `json:"updated_at"`
}

func newProductResponse(p *model.Product) productResponse {
	return productResponse{
		ID:                p.ID,
		SellerID:          p.SellerID,
		Name:              p.Name,
		Price:             formatMoney(p.Price),
		MinPrice:          formatOptionalMoney(p.MinPrice),
		Quantity:          p.Quantity,
		BargainingEnabled: p.BargainingEnabled(),
		UpdatedAt:         p.UpdatedAt.Format(time.RFC3339),
	}
}

type bargainResponse struct {
	ID           int64   `json:"id"`
	ProductID    int64   `json:"product_id"`
	BuyerID      int64   `json:"buyer_id"`
	OfferedPrice string  `json:"offered_price"`
	CounterPrice *string `json:"counter_price,omitempty"`
	Status       string  `json:"status"`
	Message      string  `json:"message"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

func newBargainResponse(b *model.Bargain) bargainResponse {
	return bargainResponse{
		ID:           b.ID,
		ProductID:    b.ProductID,
		BuyerID:      b.BuyerID,
		OfferedPrice: formatMoney(b.OfferedPrice),
		CounterPrice: formatOptionalMoney(b.CounterPrice),
		Status:       string(b.Status),
		Message:      bargain.StatusMessage(b),
		CreatedAt:    b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    b.UpdatedAt.Format(time.RFC3339),
	}
}

type decisionResponse struct {
	Outcome      string  `json:"outcome"`
	Reason       string  `json:"reason"`
	Price        *string `json:"price,omitempty"`
	CounterPrice *string `json:"counter_price,omitempty"`
}

type negotiationResponse struct {
	Bargain  bargainResponse  `json:"bargain"`
	Decision decisionResponse `json:"decision"`
	Message  string           `json:"message"`
}

func newNegotiationResponse(res *service.BargainResult) negotiationResponse {
	dec := decisionResponse{
		Outcome: string(res.Decision.Outcome),
		Reason:  string(res.Decision.Reason),
	}
	switch res.Decision.Outcome {
	case pricing.OutcomeAccept:
		dec.Price = formatOptionalMoney(&res.Decision.Price)
	case pricing.OutcomeCounter:
		dec.CounterPrice = formatOptionalMoney(&res.Decision.Counter)
	}

	return negotiationResponse{
		Bargain:  newBargainResponse(&res.Bargain),
		Decision: dec,
		Message:  res.Message,
	}
}

type bargainInfoResponse struct {
	ProductID         int64            `json:"product_id"`
	DisplayPrice      string           `json:"display_price"`
	MinPrice          *string          `json:"min_price,omitempty"`
	MaxPrice          string           `json:"max_price"`
	BargainingEnabled bool             `json:"bargaining_enabled"`
	LatestBargain     *bargainResponse `json:"latest_bargain,omitempty"`
	CanBargain        bool             `json:"can_bargain"`
	CanPurchase       bool             `json:"can_purchase"`
	PurchasePrice     string           `json:"purchase_price"`
	Message           string           `json:"message,omitempty"`
}

func newBargainInfoResponse(info bargain.ProductInfo) bargainInfoResponse {
	resp := bargainInfoResponse{
		ProductID:         info.Product.ID,
		DisplayPrice:      formatMoney(info.Product.Price),
		MinPrice:          formatOptionalMoney(info.Product.MinPrice),
		MaxPrice:          formatMoney(info.Product.Price),
		BargainingEnabled: info.BargainingEnabled,
		CanBargain:        info.CanBargain,
		CanPurchase:       info.CanPurchase,
		PurchasePrice:     formatMoney(info.PurchasePrice),
		Message:           info.Message,
	}
	if info.Latest != nil {
		b := newBargainResponse(info.Latest)
		resp.LatestBargain = &b
	}
	return resp
}

type cartItemResponse struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	AddedAt   string `json:"added_at"`
}

func newCartItemResponse(it *model.CartItem) cartItemResponse {
	return cartItemResponse{
		ProductID: it.ProductID,
		Quantity:  it.Quantity,
		AddedAt:   it.CreatedAt.Format(time.RFC3339),
	}
}

type orderItemResponse struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
	Subtotal  string `json:"subtotal"`
}

type orderResponse struct {
	ID        int64               `json:"id"`
	BuyerID   int64               `json:"buyer_id"`
	BargainID *int64              `json:"bargain_id,omitempty"`
	Total     string              `json:"total"`
	Status    string              `json:"status"`
	Items     []orderItemResponse `json:"items"`
	CreatedAt string              `json:"created_at"`
	UpdatedAt string              `json:"updated_at"`
}

func newOrderResponse(o *model.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResponse{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     formatMoney(it.Price),
			Subtotal:  formatMoney(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))),
		})
	}
	return orderResponse{
		ID:        o.ID,
		BuyerID:   o.BuyerID,
		BargainID: o.BargainID,
		Total:     formatMoney(o.Total),
		Status:    string(o.Status),
		Items:     items,
		CreatedAt: o.CreatedAt.Format(time.RFC3339),
		UpdatedAt: o.UpdatedAt.Format(time.RFC3339),
	}
}

type checkoutResponse struct {
	Order       orderResponse `json:"order"`
	UsedBargain bool          `json:"used_bargain"`
}

type statusChangeResponse struct {
	Status    string `json:"status"`
	Comment   string `json:"comment,omitempty"`
	UpdatedBy int64  `json:"updated_by"`
	CreatedAt string `json:"created_at"`
}

type trackingResponse struct {
	OrderID int64                  `json:"order_id"`
	Status  string                 `json:"status"`
	Total   string                 `json:"total"`
	History []statusChangeResponse `json:"history"`
}

func newTrackingResponse(t *service.Tracking) trackingResponse {
	history := make([]statusChangeResponse, 0, len(t.History))
	for _, c := range t.History {
		history = append(history, statusChangeResponse{
			Status:    string(c.Status),
			Comment:   c.Comment,
			UpdatedBy: c.UpdatedBy,
			CreatedAt: c.CreatedAt.Format(time.RFC3339),
		})
	}
	return trackingResponse{
		OrderID: t.Order.ID,
		Status:  string(t.Order.Status),
		Total:   formatMoney(t.Order.Total),
		History: history,
	}
}
