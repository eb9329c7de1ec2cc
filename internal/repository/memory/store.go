// Package memory содержит in-memory реализацию хранилища маркетплейса для локального запуска и тестов.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nishidshajib/tradbazar/internal/model"
	"github.com/nishidshajib/tradbazar/internal/repository"
)

type cartKey struct {
	buyerID   int64
	productID int64
}

// state хранит полное состояние хранилища. Транзакция работает с копией и подменяет оригинал при успехе.
type state struct {
	seq      int64
	users    map[int64]model.User
	products map[int64]model.Product
	bargains map[int64]model.Bargain
	cart     map[cartKey]model.CartItem
	orders   map[int64]model.Order
	history  map[int64][]model.StatusChange
}

func newState() *state {
	return &state{
		users:    make(map[int64]model.User),
		products: make(map[int64]model.Product),
		bargains: make(map[int64]model.Bargain),
		cart:     make(map[cartKey]model.CartItem),
		orders:   make(map[int64]model.Order),
		history:  make(map[int64][]model.StatusChange),
	}
}

func (s *state) clone() *state {
	c := &state{
		seq:      s.seq,
		users:    make(map[int64]model.User, len(s.users)),
		products: make(map[int64]model.Product, len(s.products)),
		bargains: make(map[int64]model.Bargain, len(s.bargains)),
		cart:     make(map[cartKey]model.CartItem, len(s.cart)),
		orders:   make(map[int64]model.Order, len(s.orders)),
		history:  make(map[int64][]model.StatusChange, len(s.history)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.bargains {
		c.bargains[k] = v
	}
	for k, v := range s.cart {
		c.cart[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = copyOrder(v)
	}
	for k, v := range s.history {
		c.history[k] = append([]model.StatusChange(nil), v...)
	}
	return c
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

func copyOrder(o model.Order) model.Order {
	o.Items = append([]model.OrderItem(nil), o.Items...)
	return o
}

// Store реализует хранилище в памяти. Транзакции выполняются строго по одной, поэтому сериализуемы.
type Store struct {
	mu sync.RWMutex
	st *state
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{st: newState()}
}

// Close ничего не делает и нужен для совместимости с PostgresRepository.
func (s *Store) Close() error {
	return nil
}

// WithinTx выполняет fn над копией состояния; при ошибке копия отбрасывается.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// CreateUser создаёт нового пользователя.
func (s *Store) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.st.users {
		if u.Login == login {
			return 0, fmt.Errorf("%w: %s", model.ErrUserExists, login)
		}
	}

	id := s.st.nextID()
	s.st.users[id] = model.User{
		ID:           id,
		Login:        login,
		PasswordHash: append([]byte(nil), passwordHash...),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (s *Store) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.st.users {
		if u.Login == login {
			return &u, nil
		}
	}
	return nil, model.ErrUserNotFound
}

// GetProduct возвращает товар.
func (s *Store) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return (&tx{st: s.st}).GetProduct(ctx, id)
}

// LatestBargain возвращает последний торг покупателя по товару или nil.
func (s *Store) LatestBargain(ctx context.Context, productID, buyerID int64) (*model.Bargain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.filterBargains(func(b model.Bargain) bool {
		return b.ProductID == productID && b.BuyerID == buyerID
	})
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// ListBargainsByBuyer возвращает торги покупателя, новые первыми.
func (s *Store) ListBargainsByBuyer(ctx context.Context, buyerID int64) ([]model.Bargain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterBargains(func(b model.Bargain) bool { return b.BuyerID == buyerID }), nil
}

// ListBargainsBySeller возвращает торги по товарам продавца, новые первыми.
func (s *Store) ListBargainsBySeller(ctx context.Context, sellerID int64) ([]model.Bargain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterBargains(func(b model.Bargain) bool {
		p, ok := s.st.products[b.ProductID]
		return ok && p.SellerID == sellerID
	}), nil
}

// ListAllBargains возвращает все торги, новые первыми.
func (s *Store) ListAllBargains(ctx context.Context) ([]model.Bargain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterBargains(func(model.Bargain) bool { return true }), nil
}

func (s *Store) filterBargains(keep func(model.Bargain) bool) []model.Bargain {
	var res []model.Bargain
	for _, b := range s.st.bargains {
		if keep(b) {
			res = append(res, b)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID > res[j].ID
	})
	return res
}

// LoadOrderWithItems возвращает заказ вместе с позициями.
func (s *Store) LoadOrderWithItems(ctx context.Context, id int64) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.st.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", model.ErrOrderNotFound, id)
	}
	o = copyOrder(o)
	return &o, nil
}

// ListOrdersByBuyer возвращает заказы покупателя, новые первыми.
func (s *Store) ListOrdersByBuyer(ctx context.Context, buyerID int64) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []model.Order
	for _, o := range s.st.orders {
		if o.BuyerID == buyerID {
			res = append(res, copyOrder(o))
		}
	}
	sortOrders(res)
	return res, nil
}

// ListOrdersBySeller возвращает заказы с товарами продавца, новые первыми.
// В Items остаются только позиции этого продавца.
func (s *Store) ListOrdersBySeller(ctx context.Context, sellerID int64) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []model.Order
	for _, o := range s.st.orders {
		var items []model.OrderItem
		for _, it := range o.Items {
			if p, ok := s.st.products[it.ProductID]; ok && p.SellerID == sellerID {
				items = append(items, it)
			}
		}
		if len(items) == 0 {
			continue
		}
		o.Items = items
		res = append(res, o)
	}
	sortOrders(res)
	return res, nil
}

func sortOrders(res []model.Order) {
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID > res[j].ID
	})
}

// ListProductsBySeller возвращает товары продавца в порядке создания.
func (s *Store) ListProductsBySeller(ctx context.Context, sellerID int64) ([]model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []model.Product
	for _, p := range s.st.products {
		if p.SellerID == sellerID {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// ListStatusHistory возвращает историю статусов заказа в хронологическом порядке.
func (s *Store) ListStatusHistory(ctx context.Context, orderID int64) ([]model.StatusChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.StatusChange(nil), s.st.history[orderID]...), nil
}

// ListCart возвращает корзину покупателя.
func (s *Store) ListCart(ctx context.Context, buyerID int64) ([]model.CartItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return (&tx{st: s.st}).ListCart(ctx, buyerID)
}
