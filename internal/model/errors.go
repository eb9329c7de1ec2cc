package model

import "errors"

var (
	// ErrInvalidInput возвращается при некорректных входных данных (цены, количества, действия).
	ErrInvalidInput = errors.New("invalid input")
	// ErrBargainingDisabled возвращается, если у товара не задан допустимый диапазон торга.
	ErrBargainingDisabled = errors.New("bargaining is not enabled for this product")
	// ErrSelfBargain возвращается при попытке торговаться по собственному товару.
	ErrSelfBargain = errors.New("cannot bargain on own product")
	// ErrActiveBargainExists возвращается, если по паре (товар, покупатель) уже есть активный торг.
	ErrActiveBargainExists = errors.New("active bargain already exists")
	// ErrNotAccepted возвращается при попытке использовать непринятый торг.
	ErrNotAccepted = errors.New("bargain is not accepted")
	// ErrAlreadyCompleted возвращается при повторном использовании торга.
	ErrAlreadyCompleted = errors.New("bargain already completed")
	// ErrInsufficientStock возвращается, если остатка товара недостаточно.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrEmptyCart возвращается при оформлении пустой корзины.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrUnauthorized возвращается, если у пользователя нет прав на операцию.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidState возвращается, если операция недопустима в текущем состоянии сущности.
	ErrInvalidState = errors.New("invalid state")
	// ErrCheckoutInProgress возвращается, если оформление с тем же ключом идемпотентности ещё выполняется.
	ErrCheckoutInProgress = errors.New("checkout with this idempotency key is in progress")
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrProductNotFound = errors.New("product not found")
	ErrBargainNotFound = errors.New("bargain not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("user already exists")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidInput, "invalid_input"},
	{ErrBargainingDisabled, "bargaining_disabled"},
	{ErrSelfBargain, "self_bargain"},
	{ErrActiveBargainExists, "active_bargain_exists"},
	{ErrNotAccepted, "not_accepted"},
	{ErrAlreadyCompleted, "already_completed"},
	{ErrInsufficientStock, "insufficient_stock"},
	{ErrEmptyCart, "empty_cart"},
	{ErrUnauthorized, "unauthorized"},
	{ErrInvalidState, "invalid_state"},
	{ErrCheckoutInProgress, "checkout_in_progress"},
	{ErrInvalidCredentials, "invalid_credentials"},
	{ErrProductNotFound, "product_not_found"},
	{ErrBargainNotFound, "bargain_not_found"},
	{ErrOrderNotFound, "order_not_found"},
	{ErrUserNotFound, "user_not_found"},
	{ErrUserExists, "user_exists"},
}

// ErrorCode возвращает машинный код доменной ошибки или "internal" для остальных.
func ErrorCode(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
