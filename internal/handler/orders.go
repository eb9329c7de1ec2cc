package handler

import (
	"net/http"

	"github.com/nishidshajib/tradbazar/internal/service"
	"github.com/nishidshajib/tradbazar/internal/validation"
)

const idempotencyHeader = "Idempotency-Key"

type cartRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// AddToCart добавляет товар в корзину текущего покупателя.
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req cartRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, "add to cart", err)
		return
	}
	if req.ProductID <= 0 {
		h.writeError(w, r, "add to cart", &validation.FieldError{Field: "product_id", Reason: "must be a positive integer"})
		return
	}
	if err := validation.Quantity("quantity", req.Quantity); err != nil {
		h.writeError(w, r, "add to cart", err)
		return
	}

	item, err := h.service.AddToCart(r.Context(), who, req.ProductID, req.Quantity)
	if err != nil {
		h.writeError(w, r, "add to cart", err)
		return
	}
	writeJSON(w, http.StatusCreated, newCartItemResponse(item))
}

// GetCart возвращает корзину текущего покупателя.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}

	items, err := h.service.ListCart(r.Context(), who)
	if err != nil {
		h.writeError(w, r, "get cart", err)
		return
	}
	if len(items) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]cartItemResponse, 0, len(items))
	for i := range items {
		resp = append(resp, newCartItemResponse(&items[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// RemoveFromCart удаляет товар из корзины.
func (h *Handler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}
	productID, err := pathID(r, "product_id")
	if err != nil {
		h.writeError(w, r, "remove from cart", err)
		return
	}

	if err := h.service.RemoveFromCart(r.Context(), who, productID); err != nil {
		h.writeError(w, r, "remove from cart", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearCart очищает корзину.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}

	if err := h.service.ClearCart(r.Context(), who); err != nil {
		h.writeError(w, r, "clear cart", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkoutRequest struct {
	BargainID *int64 `json:"bargain_id"`
}

// Checkout оформляет заказ по принятому торгу или по корзине.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.writeError(w, r, "checkout", err)
		return
	}
	if req.BargainID != nil && *req.BargainID <= 0 {
		h.writeError(w, r, "checkout", &validation.FieldError{Field: "bargain_id", Reason: "must be a positive integer"})
		return
	}
	key := r.Header.Get(idempotencyHeader)
	if err := validation.IdempotencyKey(idempotencyHeader, key); err != nil {
		h.writeError(w, r, "checkout", err)
		return
	}

	res, err := h.service.Checkout(r.Context(), who, service.CheckoutRequest{
		BargainID:      req.BargainID,
		IdempotencyKey: key,
	})
	if err != nil {
		h.writeError(w, r, "checkout", err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, checkoutResponse{Order: newOrderResponse(&res.Order), UsedBargain: res.UsedBargain})
}

// ListOrders возвращает историю заказов текущего покупателя.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}

	orders, err := h.service.ListOrders(r.Context(), who)
	if err != nil {
		h.writeError(w, r, "list orders", err)
		return
	}
	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, newOrderResponse(&orders[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListSellerOrders возвращает заказы с товарами текущего продавца.
func (h *Handler) ListSellerOrders(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}

	orders, err := h.service.ListSellerOrders(r.Context(), who)
	if err != nil {
		h.writeError(w, r, "list seller orders", err)
		return
	}
	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, newOrderResponse(&orders[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetOrder возвращает заказ с позициями.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}
	orderID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, "get order", err)
		return
	}

	o, err := h.service.GetOrder(r.Context(), who, orderID)
	if err != nil {
		h.writeError(w, r, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

// OrderTracking возвращает текущий статус заказа и историю его изменений.
func (h *Handler) OrderTracking(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}
	orderID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, "order tracking", err)
		return
	}

	t, err := h.service.OrderTracking(r.Context(), who, orderID)
	if err != nil {
		h.writeError(w, r, "order tracking", err)
		return
	}
	writeJSON(w, http.StatusOK, newTrackingResponse(t))
}

type statusRequest struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
}

// UpdateOrderStatus меняет статус заказа от имени продавца или администратора.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}
	orderID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, "update order status", err)
		return
	}

	var req statusRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, "update order status", err)
		return
	}
	status, err := validation.OrderStatus("status", req.Status)
	if err != nil {
		h.writeError(w, r, "update order status", err)
		return
	}

	o, err := h.service.UpdateOrderStatus(r.Context(), who, orderID, status, req.Comment)
	if err != nil {
		h.writeError(w, r, "update order status", err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}
