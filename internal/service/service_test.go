package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nishidshajib/tradbazar/internal/bargain"
	"github.com/nishidshajib/tradbazar/internal/model"
	"github.com/nishidshajib/tradbazar/internal/pricing"
	"github.com/nishidshajib/tradbazar/internal/repository/memory"
)

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

type recordingEvents struct {
	mu       sync.Mutex
	placed   []model.Order
	changes  []model.StatusChange
	bargains []model.Bargain
	onPlaced func()
}

func (r *recordingEvents) OrderPlaced(ctx context.Context, o *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.placed = append(r.placed, *o)
	if r.onPlaced != nil {
		r.onPlaced()
	}
	return nil
}

func (r *recordingEvents) OrderStatusChanged(ctx context.Context, c *model.StatusChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, *c)
	return nil
}

func (r *recordingEvents) BargainDecided(ctx context.Context, b *model.Bargain) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bargains = append(r.bargains, *b)
	return errors.New("broker unavailable")
}

type fixture struct {
	svc    *Service
	store  *memory.Store
	events *recordingEvents
	seller model.Identity
	buyer  model.Identity
}

func newFixture(t *testing.T, mode pricing.Mode, opts ...Option) *fixture {
	t.Helper()

	store := memory.NewStore()
	events := &recordingEvents{}
	opts = append([]Option{WithEvents(events)}, opts...)
	svc := NewService(store, pricing.NewPolicy(mode), zap.NewNop(), opts...)

	ctx := context.Background()
	seller, err := svc.RegisterUser(ctx, "seller", "secret", model.RoleSeller)
	require.NoError(t, err)
	buyer, err := svc.RegisterUser(ctx, "buyer", "secret", model.RoleBuyer)
	require.NoError(t, err)

	return &fixture{svc: svc, store: store, events: events, seller: seller, buyer: buyer}
}

func (f *fixture) product(t *testing.T, price string, minPrice *decimal.Decimal, qty int) *model.Product {
	t.Helper()

	p, err := f.svc.CreateProduct(context.Background(), f.seller, ProductInput{
		Name:     "tea",
		Price:    money(price),
		MinPrice: minPrice,
		Quantity: qty,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) newBuyer(t *testing.T, login string) model.Identity {
	t.Helper()

	id, err := f.svc.RegisterUser(context.Background(), login, "secret", model.RoleBuyer)
	require.NoError(t, err)
	return id
}

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user", "pass")
	b := hashPassword("user", "pass")
	c := hashPassword("user", "other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	f := newFixture(t, pricing.ModeImmediate)
	ctx := context.Background()

	who, err := f.svc.AuthenticateUser(ctx, "seller", "secret")
	require.NoError(t, err)
	assert.Equal(t, f.seller, who)

	_, err = f.svc.AuthenticateUser(ctx, "seller", "wrong")
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)
	_, err = f.svc.AuthenticateUser(ctx, "nobody", "secret")
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)

	_, err = f.svc.RegisterUser(ctx, "buyer", "other", model.RoleBuyer)
	assert.ErrorIs(t, err, model.ErrUserExists)
	_, err = f.svc.RegisterUser(ctx, "root", "secret", model.RoleAdmin)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	require.NoError(t, f.svc.BootstrapAdmin(ctx, "root", "secret"))
	require.NoError(t, f.svc.BootstrapAdmin(ctx, "root", "secret"))
	admin, err := f.svc.AuthenticateUser(ctx, "root", "secret")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, admin.Role)
}

func TestBargainAcceptedThenCheckout(t *testing.T) {
	f := newFixture(t, pricing.ModeImmediate)
	ctx := context.Background()
	p := f.product(t, "100", ptr(money("60")), 5)

	res, err := f.svc.CreateBargain(ctx, f.buyer, p.ID, money("70"))
	require.NoError(t, err)
	assert.Equal(t, model.BargainStatusAccepted, res.Bargain.Status)
	assert.Equal(t, pricing.OutcomeAccept, res.Decision.Outcome)
	assert.NotEmpty(t, res.Message)

	bargainID := res.Bargain.ID
	out, err := f.svc.Checkout(ctx, f.buyer, CheckoutRequest{BargainID: &bargainID})
	require.NoError(t, err)
	assert.True(t, out.UsedBargain)
	assert.True(t, money("70").Equal(out.Order.Total))
	require.Len(t, out.Order.Items, 1)
	assert.Equal(t, 1, out.Order.Items[0].Quantity)
	assert.Equal(t, model.OrderStatusPending, out.Order.Status)

	stored, err := f.store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.Quantity)

	_, err = f.svc.Checkout(ctx, f.buyer, CheckoutRequest{BargainID: &bargainID})
	assert.ErrorIs(t, err, model.ErrAlreadyCompleted)

	stored, err = f.store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.Quantity)
	assert.Len(t, f.events.placed, 1)
}

func TestBargainRejectedCannotCheckout(t *testing.T) {
	f := newFixture(t, pricing.ModeImmediate)
	ctx := context.Background()
	p := f.product(t, "100", ptr(money("60")), 5)

	res, err := f.svc.CreateBargain(ctx, f.buyer, p.ID, money("50"))
	require.NoError(t, err)
	assert.Equal(t, model.BargainStatusRejected, res.Bargain.Status)

	bargainID := res.Bargain.ID
	_, err = f.svc.Checkout(ctx, f.buyer, CheckoutRequest{BargainID: &bargainID})
	assert.ErrorIs(t, err, model.ErrNotAccepted)

	stored, err := f.store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Quantity)

	// отклонённый торг не блокирует новый
	_, err = f.svc.CreateBargain(ctx, f.buyer, p.ID, money("65"))
	assert.NoError(t, err)
}

func TestCreateBargainRejectsSubCentOffer(t *testing.T) {
	f := newFixture(t, pricing.ModeImmediate)
	ctx := context.Background()
	p := f.product(t, "100", ptr(money("60")), 5)

	_, err := f.svc.CreateBargain(ctx, f.buyer, p.ID, money("59.995"))
	require.ErrorIs(t, err, model.ErrInvalidInput)

	info, err := f.svc.ProductBargainInfo(ctx, f.buyer, p.ID)
	require.NoError(t, err)
	assert.Nil(t, info.Latest)
}

func TestCreateBargainErrors(t *testing.T) {
	f := newFixture(t, pricing.ModeImmediate)
	ctx := context.Background()
	p := f.product(t, "100", ptr(money("60")), 5)
	fixed := f.product(t, "100", nil, 5)

	_, err := f.svc.CreateBargain(ctx, f.buyer, p.ID, money("70"))
	require.NoError(t, err)

	_, err = f.svc.CreateBargain(ctx, f.buyer, p.ID, money("80"))
	assert.ErrorIs(t, err, model.ErrActiveBargainExists)

	_, err = f.svc.CreateBargain(ctx, f.buyer, fixed.ID, money("80"))
	assert.ErrorIs(t, err, model.ErrBargainingDisabled)

	_, err = f.svc.CreateBargain(ctx, f.seller, p.ID, money("80"))
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	_, err = f.svc.CreateBargain(ctx, f.buyer, 9999, money("80"))
	assert.ErrorIs(t, err, model.ErrProductNotFound)

	other := f.newBuyer(t, "other")
	_, err = f.svc.CreateBargain(ctx, other, p.ID, money("0"))
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestCounterModeRespond(t *testing.T) {
	f := newFixture(t, pricing.ModeCounter)
	ctx := context.Background()
	p := f.product(t, "100", ptr(money("60")), 5)

	res, err := f.svc.CreateBargain(ctx, f.buyer, p.ID, money("70"))
	require.NoError(t, err)
	require.Equal(t, model.BargainStatusCountered, res.Bargain.Status)
	require.NotNil(t, res.Bargain.CounterPrice)
	assert.True(t, money("85").Equal(*res.Bargain.CounterPrice))

	// countered не занимает слот активного торга, но ответ по нему возможен
	other := f.newBuyer(t, "other")
	_, err = f.svc.RespondBargain(ctx, other, res.Bargain.ID, bargain.ActionAccept, nil)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	accepted, err := f.svc.RespondBargain(ctx, f.buyer, res.Bargain.ID, bargain.ActionAccept, nil)
	require.NoError(t, err)
	assert.Equal(t, model.BargainStatusAccepted, accepted.Bargain.Status)

	bargainID := accepted.Bargain.ID
	out, err := f.svc.Checkout(ctx, f.buyer, CheckoutRequest{BargainID: &bargainID})
	require.NoError(t, err)
	assert.True(t, money("85").Equal(out.Order.Total))

	// ошибка публикации не влияет на результат
	assert.Len(t, f.events.bargains, 2)
}

func TestRespondInImmediateModeIsInvalidState(t *testing.T) {
	f := newFixture(t, pricing.ModeImmediate)
	ctx := context.Background()
	p := f.product(t, "100", ptr(money("60")), 5)

	res, err := f.svc.CreateBargain(ctx, f.buyer, p.ID, money("70"))
	require.NoError(t, err)

	_, err = f.svc.RespondBargain(ctx, f.buyer, res.Bargain.ID, bargain.ActionNewOffer, ptr(money("75")))
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestCartCheckout(t *testing.T) {
	f := newFixture(t, pricing.ModeImmediate)
	ctx := context.Background()
	a := f.product(t, "20", nil, 10)
	b := f.product(t, "15", nil, 10)

	_, err := f.svc.AddToCart(ctx, f.buyer, a.ID, 1)
	require.NoError(t, err)
	_, err = f.svc.AddToCart(ctx, f.buyer, a.ID, 1)
	require.NoError(t, err)
	_, err = f.svc.AddToCart(ctx, f.buyer, b.ID, 1)
	require.NoError(t, err)

	out, err := f.svc.Checkout(ctx, f.buyer, CheckoutRequest{})
	require.NoError(t, err)
	assert.False(t, out.UsedBargain)
	assert.Nil(t, out.Order.BargainID)
	assert.True(t, money("55").Equal(out.Order.Total), "total %s", out.Order.Total)
	assert.Len(t, out.Order.Items, 2)

	cart, err := f.svc.ListCart(ctx, f.buyer)
	require.NoError(t, err)
	assert.Empty(t, cart)

	_, err = f.svc.Checkout(ctx, f.buyer, CheckoutRequest{})
	assert.ErrorIs(t, err, model.ErrEmptyCart)
}

func TestCartCheckoutInsufficientStockKeepsCart(t *testing.T) {
	f := newFixture(t, pricing.ModeImmediate)
	ctx := context.Background()
	a := f.product(t, "20", nil, 10)
	b := f.product(t, "15", nil, 1)

	_, err := f.svc.AddToCart(ctx, f.buyer, a.ID, 2)
	require.NoError(t, err)
	_, err = f.svc.AddToCart(ctx, f.buyer, b.ID, 2)
	require.NoError(t, err)

	_, err = f.svc.Checkout(ctx, f.buyer, CheckoutRequest{})
	require.ErrorIs(t, err, model.ErrInsufficientStock)

	stored, err := f.store.GetProduct(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, stored.Quantity)

	cart, err := f.svc.ListCart(ctx, f.buyer)
	require.NoError(t, err)
	assert.Len(t, cart, 2)
}

func TestCartOperations(t *testing.T) {
	f := newFixture(t, pricing.ModeImmediate)
	ctx := context.Background()
	a := f.product(t, "20", nil, 10)

	_, err := f.svc.AddToCart(ctx, f.buyer, a.ID, 0)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = f.svc.AddToCart(ctx, f.buyer, 9999, 1)
	assert.ErrorIs(t, err, model.ErrProductNotFound)
	_, err = f.svc.AddToCart(ctx, f.seller, a.ID, 1)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	_, err = f.svc.AddToCart(ctx, f.buyer, a.ID, 2)
	require.NoError(t, err)
	require.NoError(t, f.svc.RemoveFromCart(ctx, f.buyer, a.ID))
	cart, err := f.svc.ListCart(ctx, f.buyer)
	require.NoError(t, err)
	assert.Empty(t, cart)

	_, err = f.svc.AddToCart(ctx, f.buyer, a.ID, 2)
	require.NoError(t, err)
	require.NoError(t, f.svc.ClearCart(ctx, f.buyer))
	cart, err = f.svc.ListCart(ctx, f.buyer)
	require.NoError(t, err)
	assert.Empty(t, cart)
}

func TestConcurrentCheckoutLastUnit(t *testing.T) {
	f := newFixture(t, pricing.ModeImmediate)
	ctx := context.Background()
	p := f.product(t, "10", nil, 1)

	const buyers = 6
	ids := make([]model.Identity, buyers)
	for i := range ids {
		ids[i] = f.newBuyer(t, "buyer-"+string(rune('a'+i)))
		_, err := f.svc.AddToCart(ctx, ids[i], p.ID, 1)
		require.NoError(t, err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		shortages int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id model.Identity) {
			defer wg.Done()
			_, err := f.svc.Checkout(ctx, id, CheckoutRequest{})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, model.ErrInsufficientStock):
				shortages++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, buyers-1, shortages)

	stored, err := f.store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Quantity)
}

func TestConcurrentBargainCheckout(t *testing.T) {
	f := newFixture(t, pricing.ModeImmediate)
	ctx := context.Background()
	p := f.product(t, "100", ptr(money("60")), 5)

	res, err := f.svc.CreateBargain(ctx, f.buyer, p.ID, money("70"))
	require.NoError(t, err)
	require.Equal(t, model.BargainStatusAccepted, res.Bargain.Status)
	bargainID := res.Bargain.ID

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		completed int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Checkout(ctx, f.buyer, CheckoutRequest{BargainID: &bargainID})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, model.ErrAlreadyCompleted):
				completed++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, completed)

	stored, err := f.store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.Quantity)

	orders, err := f.svc.ListOrders(ctx, f.buyer)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestOrderPriceSnapshot(t *testing.T) {
	f := newFixture(t, pricing.ModeImmediate)
	ctx := context.Background()
	p := f.product(t, "20", nil, 10)

	_, err := f.svc.AddToCart(ctx, f.buyer, p.ID, 1)
	require.NoError(t, err)
	out, err := f.svc.Checkout(ctx, f.buyer, CheckoutRequest{})
	require.NoError(t, err)

	_, err = f.svc.UpdateProduct(ctx, f.seller, p.ID, ProductInput{Name: "tea", Price: money("35"), Quantity: 9})
	require.NoError(t, err)

	order, err := f.svc.GetOrder(ctx, f.buyer, out.Order.ID)
	require.NoError(t, err)
	assert.True(t, money("20").Equal(order.Total))
	assert.True(t, money("20").Equal(order.Items[0].Price))
}

func TestProductBargainInfo(t *testing.T) {
	f := newFixture(t, pricing.ModeImmediate)
	ctx := context.Background()
	p := f.product(t, "100", ptr(money("60")), 5)

	info, err := f.svc.ProductBargainInfo(ctx, f.buyer, p.ID)
	require.NoError(t, err)
	assert.True(t, info.BargainingEnabled)
	assert.True(t, info.CanBargain)
	assert.False(t, info.CanPurchase)

	_, err = f.svc.CreateBargain(ctx, f.buyer, p.ID, money("70"))
	require.NoError(t, err)

	info, err = f.svc.ProductBargainInfo(ctx, f.buyer, p.ID)
	require.NoError(t, err)
	assert.False(t, info.CanBargain)
	assert.True(t, info.CanPurchase)
	assert.True(t, money("70").Equal(info.PurchasePrice))

	info, err = f.svc.ProductBargainInfo(ctx, f.seller, p.ID)
	require.NoError(t, err)
	assert.False(t, info.CanBargain)
	assert.Nil(t, info.Latest)
}

func TestListBargainsByRole(t *testing.T) {
	f := newFixture(t, pricing.ModeImmediate)
	ctx := context.Background()
	p := f.product(t, "100", ptr(money("60")), 5)
	other := f.newBuyer(t, "other")

	_, err := f.svc.CreateBargain(ctx, f.buyer, p.ID, money("70"))
	require.NoError(t, err)
	_, err = f.svc.CreateBargain(ctx, other, p.ID, money("50"))
	require.NoError(t, err)

	mine, err := f.svc.ListBargains(ctx, f.buyer)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	sellers, err := f.svc.ListBargains(ctx, f.seller)
	require.NoError(t, err)
	assert.Len(t, sellers, 2)

	all, err := f.svc.ListBargains(ctx, model.Identity{UserID: 999, Role: model.RoleAdmin})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpdateOrderStatus(t *testing.T) {
	f := newFixture(t, pricing.ModeImmediate)
	ctx := context.Background()
	p := f.product(t, "20", nil, 10)

	_, err := f.svc.AddToCart(ctx, f.buyer, p.ID, 1)
	require.NoError(t, err)
	out, err := f.svc.Checkout(ctx, f.buyer, CheckoutRequest{})
	require.NoError(t, err)
	orderID := out.Order.ID

	stranger, err := f.svc.RegisterUser(ctx, "stranger", "secret", model.RoleSeller)
	require.NoError(t, err)
	_, err = f.svc.UpdateOrderStatus(ctx, stranger, orderID, model.OrderStatusShipped, "")
	assert.ErrorIs(t, err, model.ErrUnauthorized)
	_, err = f.svc.UpdateOrderStatus(ctx, f.buyer, orderID, model.OrderStatusShipped, "")
	assert.ErrorIs(t, err, model.ErrUnauthorized)
	_, err = f.svc.UpdateOrderStatus(ctx, f.seller, orderID, "lost", "")
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	o, err := f.svc.UpdateOrderStatus(ctx, f.seller, orderID, model.OrderStatusShipped, " on the way ")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusShipped, o.Status)

	// повтор того же статуса не пишет историю
	_, err = f.svc.UpdateOrderStatus(ctx, f.seller, orderID, model.OrderStatusShipped, "")
	require.NoError(t, err)

	admin := model.Identity{UserID: 999, Role: model.RoleAdmin}
	_, err = f.svc.UpdateOrderStatus(ctx, admin, orderID, model.OrderStatusDelivered, "")
	require.NoError(t, err)

	_, err = f.svc.UpdateOrderStatus(ctx, f.seller, orderID, model.OrderStatusCancelled, "")
	assert.ErrorIs(t, err, model.ErrInvalidState)

	tr, err := f.svc.OrderTracking(ctx, f.buyer, orderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusDelivered, tr.Order.Status)
	require.Len(t, tr.History, 2)
	assert.Equal(t, model.OrderStatusShipped, tr.History[0].Status)
	assert.Equal(t, "on the way", tr.History[0].Comment)
	assert.Equal(t, f.seller.UserID, tr.History[0].UpdatedBy)
	assert.Equal(t, model.OrderStatusDelivered, tr.History[1].Status)
	assert.Len(t, f.events.changes, 2)

	other := f.newBuyer(t, "other")
	_, err = f.svc.OrderTracking(ctx, other, orderID)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestUpdateProductOwnership(t *testing.T) {
	f := newFixture(t, pricing.ModeImmediate)
	ctx := context.Background()
	p := f.product(t, "20", nil, 10)

	stranger, err := f.svc.RegisterUser(ctx, "stranger", "secret", model.RoleSeller)
	require.NoError(t, err)
	_, err = f.svc.UpdateProduct(ctx, stranger, p.ID, ProductInput{Name: "x", Price: money("1")})
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	_, err = f.svc.CreateProduct(ctx, f.seller, ProductInput{Name: "x", Price: money("0")})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = f.svc.CreateProduct(ctx, f.seller, ProductInput{Name: "x", Price: money("10.005")})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = f.svc.CreateProduct(ctx, f.seller, ProductInput{Name: "x", Price: money("10"), MinPrice: ptr(money("5.001"))})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = f.svc.CreateProduct(ctx, f.buyer, ProductInput{Name: "x", Price: money("1")})
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}

type stubIdempotency struct {
	mu        sync.Mutex
	orders    map[string]int64
	inFlight  map[string]bool
	completed int
	aborted   int
}

func newStubIdempotency() *stubIdempotency {
	return &stubIdempotency{orders: make(map[string]int64), inFlight: make(map[string]bool)}
}

func (s *stubIdempotency) Begin(ctx context.Context, buyerID int64, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.orders[key]; ok {
		return id, false, nil
	}
	if s.inFlight[key] {
		return 0, false, model.ErrCheckoutInProgress
	}
	s.inFlight[key] = true
	return 0, true, nil
}

// Complete и Abort, как и go-redis, не выполняются на отменённом контексте.
func (s *stubIdempotency) Complete(ctx context.Context, buyerID int64, key string, orderID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
	s.orders[key] = orderID
	s.completed++
	return nil
}

func (s *stubIdempotency) Abort(ctx context.Context, buyerID int64, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
	s.aborted++
	return nil
}

func TestCheckoutIdempotencyReplay(t *testing.T) {
	idem := newStubIdempotency()
	f := newFixture(t, pricing.ModeImmediate, WithIdempotency(idem))
	ctx := context.Background()
	p := f.product(t, "20", nil, 10)

	_, err := f.svc.Checkout(ctx, f.buyer, CheckoutRequest{IdempotencyKey: "k1"})
	require.ErrorIs(t, err, model.ErrEmptyCart)
	assert.Equal(t, 1, idem.aborted)

	_, err = f.svc.AddToCart(ctx, f.buyer, p.ID, 1)
	require.NoError(t, err)

	first, err := f.svc.Checkout(ctx, f.buyer, CheckoutRequest{IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.svc.Checkout(ctx, f.buyer, CheckoutRequest{IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)

	stored, err := f.store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, stored.Quantity)
	assert.Equal(t, 1, idem.completed)
}

func TestCheckoutIdempotencyAfterClientDisconnect(t *testing.T) {
	idem := newStubIdempotency()
	f := newFixture(t, pricing.ModeImmediate, WithIdempotency(idem))
	p := f.product(t, "20", nil, 10)

	_, err := f.svc.AddToCart(context.Background(), f.buyer, p.ID, 1)
	require.NoError(t, err)

	// клиент отключается сразу после фиксации заказа
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.events.onPlaced = cancel

	first, err := f.svc.Checkout(ctx, f.buyer, CheckoutRequest{IdempotencyKey: "k"})
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	assert.Equal(t, 1, idem.completed)

	f.events.onPlaced = nil
	retry, err := f.svc.Checkout(context.Background(), f.buyer, CheckoutRequest{IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.True(t, retry.Replayed)
	assert.Equal(t, first.Order.ID, retry.Order.ID)

	stored, err := f.store.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, stored.Quantity)
}

func TestCheckoutIdempotencyAbortAfterCancel(t *testing.T) {
	idem := newStubIdempotency()
	f := newFixture(t, pricing.ModeImmediate, WithIdempotency(idem))

	ctx, cancel := context.WithCancel(context.Background())
	_, started, err := idem.Begin(ctx, f.buyer.UserID, "k")
	require.NoError(t, err)
	require.True(t, started)
	cancel()

	f.svc.finishIdempotency(ctx, f.buyer.UserID, "k", nil, model.ErrEmptyCart)
	assert.Equal(t, 1, idem.aborted)

	_, started, err = idem.Begin(context.Background(), f.buyer.UserID, "k")
	require.NoError(t, err)
	assert.True(t, started)
}

func TestListSellerOrdersAndProducts(t *testing.T) {
	f := newFixture(t, pricing.ModeImmediate)
	ctx := context.Background()
	own := f.product(t, "20", nil, 10)

	other, err := f.svc.RegisterUser(ctx, "other-seller", "secret", model.RoleSeller)
	require.NoError(t, err)
	foreign, err := f.svc.CreateProduct(ctx, other, ProductInput{Name: "rice", Price: money("15"), Quantity: 10})
	require.NoError(t, err)

	orders, err := f.svc.ListSellerOrders(ctx, f.seller)
	require.NoError(t, err)
	assert.Empty(t, orders)

	_, err = f.svc.AddToCart(ctx, f.buyer, own.ID, 2)
	require.NoError(t, err)
	_, err = f.svc.AddToCart(ctx, f.buyer, foreign.ID, 1)
	require.NoError(t, err)
	mixed, err := f.svc.Checkout(ctx, f.buyer, CheckoutRequest{})
	require.NoError(t, err)

	_, err = f.svc.AddToCart(ctx, f.buyer, foreign.ID, 3)
	require.NoError(t, err)
	_, err = f.svc.Checkout(ctx, f.buyer, CheckoutRequest{})
	require.NoError(t, err)

	orders, err = f.svc.ListSellerOrders(ctx, f.seller)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, mixed.Order.ID, orders[0].ID)
	require.Len(t, orders[0].Items, 1)
	assert.Equal(t, own.ID, orders[0].Items[0].ProductID)
	assert.True(t, money("55").Equal(orders[0].Total))

	orders, err = f.svc.ListSellerOrders(ctx, other)
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	_, err = f.svc.ListSellerOrders(ctx, f.buyer)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	products, err := f.svc.ListProducts(ctx, f.seller)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, own.ID, products[0].ID)
	assert.Equal(t, 8, products[0].Quantity)

	_, err = f.svc.ListProducts(ctx, f.buyer)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}
