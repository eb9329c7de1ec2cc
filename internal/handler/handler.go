// Package handler содержит HTTP-обработчики API маркетплейса.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nishidshajib/tradbazar/internal/bargain"
	"github.com/nishidshajib/tradbazar/internal/middleware"
	"github.com/nishidshajib/tradbazar/internal/model"
	"github.com/nishidshajib/tradbazar/internal/service"
	"github.com/nishidshajib/tradbazar/internal/validation"
)

const maxBodySize = 1 << 20

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string, role model.Role) (model.Identity, error)
	AuthenticateUser(ctx context.Context, login, password string) (model.Identity, error)

	CreateProduct(ctx context.Context, seller model.Identity, in service.ProductInput) (*model.Product, error)
	UpdateProduct(ctx context.Context, seller model.Identity, productID int64, in service.ProductInput) (*model.Product, error)
	ListProducts(ctx context.Context, seller model.Identity) ([]model.Product, error)
	ProductBargainInfo(ctx context.Context, who model.Identity, productID int64) (bargain.ProductInfo, error)

	CreateBargain(ctx context.Context, buyer model.Identity, productID int64, offer decimal.Decimal) (*service.BargainResult, error)
	RespondBargain(ctx context.Context, buyer model.Identity, bargainID int64, action bargain.Action, newOffer *decimal.Decimal) (*service.BargainResult, error)
	ListBargains(ctx context.Context, who model.Identity) ([]model.Bargain, error)

	AddToCart(ctx context.Context, buyer model.Identity, productID int64, quantity int) (*model.CartItem, error)
	ListCart(ctx context.Context, buyer model.Identity) ([]model.CartItem, error)
	RemoveFromCart(ctx context.Context, buyer model.Identity, productID int64) error
	ClearCart(ctx context.Context, buyer model.Identity) error

	Checkout(ctx context.Context, buyer model.Identity, req service.CheckoutRequest) (*service.CheckoutResult, error)
	GetOrder(ctx context.Context, buyer model.Identity, orderID int64) (*model.Order, error)
	ListOrders(ctx context.Context, buyer model.Identity) ([]model.Order, error)
	ListSellerOrders(ctx context.Context, seller model.Identity) ([]model.Order, error)
	OrderTracking(ctx context.Context, buyer model.Identity, orderID int64) (*service.Tracking, error)
	UpdateOrderStatus(ctx context.Context, who model.Identity, orderID int64, status model.OrderStatus, comment string) (*model.Order, error)
}

// Handler реализует HTTP-обработчики API маркетплейса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

var errMalformedBody = &validation.FieldError{Field: "body", Reason: "malformed JSON"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor сопоставляет доменную ошибку HTTP-статусу.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, model.ErrProductNotFound),
		errors.Is(err, model.ErrBargainNotFound),
		errors.Is(err, model.ErrOrderNotFound),
		errors.Is(err, model.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrActiveBargainExists),
		errors.Is(err, model.ErrAlreadyCompleted),
		errors.Is(err, model.ErrInsufficientStock),
		errors.Is(err, model.ErrCheckoutInProgress),
		errors.Is(err, model.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, model.ErrBargainingDisabled),
		errors.Is(err, model.ErrSelfBargain),
		errors.Is(err, model.ErrNotAccepted),
		errors.Is(err, model.ErrEmptyCart),
		errors.Is(err, model.ErrInvalidState):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeError отвечает ошибкой. Инфраструктурные ошибки логируются и скрываются от клиента.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err), zap.String("path", r.URL.Path))
		writeJSON(w, status, errorResponse{Error: http.StatusText(status)})
		return
	}

	writeJSON(w, status, errorResponse{
		Error: err.Error(),
		Code:  model.ErrorCode(err),
		Field: validation.Field(err),
	})
}

// decodeJSON читает тело запроса. Пустое тело допустимо, если allowEmpty.
func decodeJSON(r *http.Request, v any, allowEmpty bool) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: read body", errMalformedBody)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if allowEmpty {
			return nil
		}
		return errMalformedBody
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errMalformedBody
	}
	return nil
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	who, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return who, ok
}

func pathID(r *http.Request, name string) (int64, error) {
	return validation.ID(name, chi.URLParam(r, name))
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type authResponse struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	Token  string `json:"token"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, "register", err)
		return
	}
	if err := validation.Name("login", req.Login); err != nil {
		h.writeError(w, r, "register", err)
		return
	}
	if req.Password == "" {
		h.writeError(w, r, "register", &validation.FieldError{Field: "password", Reason: "is required"})
		return
	}
	role, err := validation.Role("role", req.Role)
	if err != nil {
		h.writeError(w, r, "register", err)
		return
	}

	who, err := h.service.RegisterUser(r.Context(), req.Login, req.Password, role)
	if err != nil {
		h.writeError(w, r, "register user", err)
		return
	}

	token := h.authMiddleware.SetAuthCookie(w, who)
	writeJSON(w, http.StatusOK, authResponse{UserID: who.UserID, Role: string(who.Role), Token: token})
}

// Login выполняет аутентификацию пользователя и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, "login", err)
		return
	}
	if req.Login == "" || req.Password == "" {
		h.writeError(w, r, "login", &validation.FieldError{Field: "login", Reason: "login and password are required"})
		return
	}

	who, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, r, "login user", err)
		return
	}

	token := h.authMiddleware.SetAuthCookie(w, who)
	writeJSON(w, http.StatusOK, authResponse{UserID: who.UserID, Role: string(who.Role), Token: token})
}
