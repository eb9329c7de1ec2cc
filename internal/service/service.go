// Package service реализует бизнес-логику маркетплейса: торг, корзину, оформление и сопровождение заказов.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nishidshajib/tradbazar/internal/bargain"
	"github.com/nishidshajib/tradbazar/internal/metrics"
	"github.com/nishidshajib/tradbazar/internal/model"
	"github.com/nishidshajib/tradbazar/internal/pricing"
	"github.com/nishidshajib/tradbazar/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
// Все изменения выполняются через WithinTx; остальные методы только читают.
type Repository interface {
	Close() error
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error

	CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)

	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	LatestBargain(ctx context.Context, productID, buyerID int64) (*model.Bargain, error)
	ListBargainsByBuyer(ctx context.Context, buyerID int64) ([]model.Bargain, error)
	ListBargainsBySeller(ctx context.Context, sellerID int64) ([]model.Bargain, error)
	ListAllBargains(ctx context.Context) ([]model.Bargain, error)

	LoadOrderWithItems(ctx context.Context, id int64) (*model.Order, error)
	ListOrdersByBuyer(ctx context.Context, buyerID int64) ([]model.Order, error)
	ListOrdersBySeller(ctx context.Context, sellerID int64) ([]model.Order, error)
	ListProductsBySeller(ctx context.Context, sellerID int64) ([]model.Product, error)
	ListStatusHistory(ctx context.Context, orderID int64) ([]model.StatusChange, error)
	ListCart(ctx context.Context, buyerID int64) ([]model.CartItem, error)
}

// EventPublisher публикует доменные события после фиксации транзакции.
type EventPublisher interface {
	OrderPlaced(ctx context.Context, o *model.Order) error
	OrderStatusChanged(ctx context.Context, c *model.StatusChange) error
	BargainDecided(ctx context.Context, b *model.Bargain) error
}

// IdempotencyStore связывает клиентский ключ оформления с созданным заказом.
type IdempotencyStore interface {
	Begin(ctx context.Context, buyerID int64, key string) (orderID int64, started bool, err error)
	Complete(ctx context.Context, buyerID int64, key string, orderID int64) error
	Abort(ctx context.Context, buyerID int64, key string) error
}

// Service содержит бизнес-логику маркетплейса.
type Service struct {
	repo    Repository
	machine *bargain.Machine
	logger  *zap.Logger
	metrics *metrics.Metrics
	events  EventPublisher
	idem    IdempotencyStore
	now     func() time.Time
}

// Option настраивает необязательные зависимости сервиса.
type Option func(*Service)

// WithMetrics подключает Prometheus-метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithEvents подключает публикацию событий.
func WithEvents(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithIdempotency подключает хранилище ключей идемпотентности.
func WithIdempotency(store IdempotencyStore) Option {
	return func(s *Service) { s.idem = store }
}

// NewService создаёт сервис с указанным репозиторием и политикой цены.
func NewService(repo Repository, policy pricing.Policy, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:    repo,
		machine: bargain.NewMachine(policy),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// PricingMode возвращает режим политики цены.
func (s *Service) PricingMode() pricing.Mode {
	return s.machine.Policy().Mode()
}

// RegisterUser регистрирует нового покупателя или продавца.
func (s *Service) RegisterUser(ctx context.Context, login, password string, role model.Role) (model.Identity, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return model.Identity{}, fmt.Errorf("%w: login and password are required", model.ErrInvalidInput)
	}
	if role == "" {
		role = model.RoleBuyer
	}
	if role != model.RoleBuyer && role != model.RoleSeller {
		return model.Identity{}, fmt.Errorf("%w: role %q cannot be registered", model.ErrInvalidInput, role)
	}

	id, err := s.repo.CreateUser(ctx, login, hashPassword(login, password), role)
	if err != nil {
		return model.Identity{}, err
	}
	return model.Identity{UserID: id, Role: role}, nil
}

// BootstrapAdmin создаёт учётную запись администратора, если её ещё нет.
func (s *Service) BootstrapAdmin(ctx context.Context, login, password string) error {
	if login == "" || password == "" {
		return fmt.Errorf("%w: admin login and password are required", model.ErrInvalidInput)
	}
	_, err := s.repo.CreateUser(ctx, login, hashPassword(login, password), model.RoleAdmin)
	if errors.Is(err, model.ErrUserExists) {
		return nil
	}
	return err
}

// AuthenticateUser проверяет логин и пароль и возвращает идентичность пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (model.Identity, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return model.Identity{}, model.ErrInvalidCredentials
		}
		return model.Identity{}, err
	}

	if subtle.ConstantTimeCompare(hashPassword(login, password), u.PasswordHash) != 1 {
		return model.Identity{}, model.ErrInvalidCredentials
	}

	return model.Identity{UserID: u.ID, Role: u.Role}, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// ProductInput содержит данные товара от продавца.
type ProductInput struct {
	Name     string
	Price    decimal.Decimal
	MinPrice *decimal.Decimal
	Quantity int
}

func (in ProductInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", model.ErrInvalidInput)
	}
	if !in.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", model.ErrInvalidInput)
	}
	if in.MinPrice != nil && in.MinPrice.IsNegative() {
		return fmt.Errorf("%w: min_price must not be negative", model.ErrInvalidInput)
	}
	if !pricing.Exact(in.Price) || (in.MinPrice != nil && !pricing.Exact(*in.MinPrice)) {
		return fmt.Errorf("%w: prices must not have fractions of a cent", model.ErrInvalidInput)
	}
	if in.Quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", model.ErrInvalidInput)
	}
	return nil
}

func (in ProductInput) apply(p *model.Product) {
	p.Name = strings.TrimSpace(in.Name)
	p.Price = pricing.Round(in.Price)
	p.MinPrice = nil
	if in.MinPrice != nil {
		m := pricing.Round(*in.MinPrice)
		p.MinPrice = &m
	}
	p.Quantity = in.Quantity
}

// CreateProduct создаёт товар продавца.
func (s *Service) CreateProduct(ctx context.Context, seller model.Identity, in ProductInput) (*model.Product, error) {
	if seller.Role != model.RoleSeller {
		return nil, fmt.Errorf("%w: only sellers can create products", model.ErrUnauthorized)
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.now()
	p := &model.Product{SellerID: seller.UserID, CreatedAt: now, UpdatedAt: now}
	in.apply(p)

	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateProduct(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListProducts возвращает товары продавца.
func (s *Service) ListProducts(ctx context.Context, seller model.Identity) ([]model.Product, error) {
	if seller.Role != model.RoleSeller {
		return nil, fmt.Errorf("%w: only sellers have a catalog", model.ErrUnauthorized)
	}
	return s.repo.ListProductsBySeller(ctx, seller.UserID)
}

// UpdateProduct изменяет товар. Уже созданные заказы хранят свои цены и не меняются.
func (s *Service) UpdateProduct(ctx context.Context, seller model.Identity, productID int64, in ProductInput) (*model.Product, error) {
	if seller.Role != model.RoleSeller {
		return nil, fmt.Errorf("%w: only sellers can update products", model.ErrUnauthorized)
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	var updated *model.Product
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		if p.SellerID != seller.UserID {
			return fmt.Errorf("%w: product %d belongs to another seller", model.ErrUnauthorized, productID)
		}
		in.apply(p)
		p.UpdatedAt = s.now()
		if err := tx.UpdateProduct(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
