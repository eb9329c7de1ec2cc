package handler

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/nishidshajib/tradbazar/internal/bargain"
	"github.com/nishidshajib/tradbazar/internal/service"
	"github.com/nishidshajib/tradbazar/internal/validation"
)

type productRequest struct {
	Name     string          `json:"name"`
	Price    json.RawMessage `json:"price"`
	MinPrice json.RawMessage `json:"min_price"`
	Quantity int             `json:"quantity"`
}

func (req productRequest) input() (service.ProductInput, error) {
	if err := validation.Name("name", req.Name); err != nil {
		return service.ProductInput{}, err
	}
	price, err := validation.Money("price", req.Price)
	if err != nil {
		return service.ProductInput{}, err
	}
	minPrice, err := validation.OptionalMoney("min_price", req.MinPrice)
	if err != nil {
		return service.ProductInput{}, err
	}
	if err := validation.Stock("quantity", req.Quantity); err != nil {
		return service.ProductInput{}, err
	}
	return service.ProductInput{Name: req.Name, Price: price, MinPrice: minPrice, Quantity: req.Quantity}, nil
}

// CreateProduct создаёт товар текущего продавца.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req productRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, "create product", err)
		return
	}
	in, err := req.input()
	if err != nil {
		h.writeError(w, r, "create product", err)
		return
	}

	p, err := h.service.CreateProduct(r.Context(), who, in)
	if err != nil {
		h.writeError(w, r, "create product", err)
		return
	}
	writeJSON(w, http.StatusCreated, newProductResponse(p))
}

// ListProducts возвращает товары текущего продавца.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}

	products, err := h.service.ListProducts(r.Context(), who)
	if err != nil {
		h.writeError(w, r, "list products", err)
		return
	}
	if len(products) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]productResponse, 0, len(products))
	for i := range products {
		resp = append(resp, newProductResponse(&products[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateProduct изменяет цену, нижнюю границу торга и остаток товара.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}
	productID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, "update product", err)
		return
	}

	var req productRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, "update product", err)
		return
	}
	in, err := req.input()
	if err != nil {
		h.writeError(w, r, "update product", err)
		return
	}

	p, err := h.service.UpdateProduct(r.Context(), who, productID, in)
	if err != nil {
		h.writeError(w, r, "update product", err)
		return
	}
	writeJSON(w, http.StatusOK, newProductResponse(p))
}

// BargainInfo возвращает сведения о возможности торга и покупки товара.
func (h *Handler) BargainInfo(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}
	productID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, "bargain info", err)
		return
	}

	info, err := h.service.ProductBargainInfo(r.Context(), who, productID)
	if err != nil {
		h.writeError(w, r, "bargain info", err)
		return
	}
	writeJSON(w, http.StatusOK, newBargainInfoResponse(info))
}

type negotiateRequest struct {
	ProductID    int64           `json:"product_id"`
	OfferedPrice json.RawMessage `json:"offered_price"`
}

// Negotiate открывает торг по товару и возвращает решение.
func (h *Handler) Negotiate(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req negotiateRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, "negotiate", err)
		return
	}
	if req.ProductID <= 0 {
		h.writeError(w, r, "negotiate", &validation.FieldError{Field: "product_id", Reason: "must be a positive integer"})
		return
	}
	offer, err := validation.Money("offered_price", req.OfferedPrice)
	if err != nil {
		h.writeError(w, r, "negotiate", err)
		return
	}

	res, err := h.service.CreateBargain(r.Context(), who, req.ProductID, offer)
	if err != nil {
		h.writeError(w, r, "create bargain", err)
		return
	}
	writeJSON(w, http.StatusCreated, newNegotiationResponse(res))
}

type respondRequest struct {
	Action          string          `json:"action"`
	NewOfferedPrice json.RawMessage `json:"new_offered_price"`
}

// Respond обрабатывает ответ покупателя на встречную цену.
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}
	bargainID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, "respond", err)
		return
	}

	var req respondRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, "respond", err)
		return
	}

	action := bargain.Action(req.Action)
	var newOffer *decimal.Decimal
	switch action {
	case bargain.ActionAccept:
	case bargain.ActionNewOffer:
		offer, err := validation.Money("new_offered_price", req.NewOfferedPrice)
		if err != nil {
			h.writeError(w, r, "respond", err)
			return
		}
		newOffer = &offer
	default:
		h.writeError(w, r, "respond", &validation.FieldError{Field: "action", Reason: "must be accept or new_offer"})
		return
	}

	res, err := h.service.RespondBargain(r.Context(), who, bargainID, action, newOffer)
	if err != nil {
		h.writeError(w, r, "respond bargain", err)
		return
	}
	writeJSON(w, http.StatusOK, newNegotiationResponse(res))
}

// ListBargains возвращает торги, видимые текущему пользователю.
func (h *Handler) ListBargains(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}

	list, err := h.service.ListBargains(r.Context(), who)
	if err != nil {
		h.writeError(w, r, "list bargains", err)
		return
	}
	if len(list) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]bargainResponse, 0, len(list))
	for i := range list {
		resp = append(resp, newBargainResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}
