package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/nishidshajib/tradbazar/internal/model"
)

const (
	productColumns = `id, seller_id, name, price::text, min_price::text, quantity, created_at, updated_at`
	bargainColumns = `id, product_id, buyer_id, offered_price::text, counter_price::text, status, created_at, updated_at`
	orderColumns   = `id, buyer_id, bargain_id, total::text, status, created_at, updated_at`
)

// pgTx реализует Tx поверх pgx.Tx.
type pgTx struct {
	q querier
}

var _ Tx = (*pgTx)(nil)

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

func parseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse money %q: %w", s, err)
	}
	return d, nil
}

func parseNullMoney(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := parseMoney(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullMoney(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func scanProduct(row pgx.Row) (*model.Product, error) {
	var (
		p        model.Product
		price    string
		minPrice *string
	)
	if err := row.Scan(&p.ID, &p.SellerID, &p.Name, &price, &minPrice, &p.Quantity, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if p.Price, err = parseMoney(price); err != nil {
		return nil, err
	}
	if p.MinPrice, err = parseNullMoney(minPrice); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanBargain(row pgx.Row) (*model.Bargain, error) {
	var (
		b       model.Bargain
		offered string
		counter *string
		status  string
	)
	if err := row.Scan(&b.ID, &b.ProductID, &b.BuyerID, &offered, &counter, &status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if b.OfferedPrice, err = parseMoney(offered); err != nil {
		return nil, err
	}
	if b.CounterPrice, err = parseNullMoney(counter); err != nil {
		return nil, err
	}
	b.Status = model.BargainStatus(status)
	return &b, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o      model.Order
		total  string
		status string
	)
	if err := row.Scan(&o.ID, &o.BuyerID, &o.BargainID, &total, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if o.Total, err = parseMoney(total); err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	return &o, nil
}

func getProduct(ctx context.Context, q querier, id int64, forUpdate bool) (*model.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	p, err := scanProduct(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", model.ErrProductNotFound, id)
		}
		return nil, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

func listBargains(ctx context.Context, q querier, query string, args ...any) ([]model.Bargain, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select bargains: %w", err)
	}
	defer rows.Close()

	var res []model.Bargain
	for rows.Next() {
		b, err := scanBargain(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bargain: %w", err)
		}
		res = append(res, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func getOrder(ctx context.Context, q querier, id int64, forUpdate bool) (*model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	o, err := scanOrder(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", model.ErrOrderNotFound, id)
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	items, err := listOrderItems(ctx, q, []int64{id})
	if err != nil {
		return nil, err
	}
	o.Items = items[id]

	return o, nil
}

func listOrderItems(ctx context.Context, q querier, orderIDs []int64) (map[int64][]model.OrderItem, error) {
	return queryOrderItems(ctx, q,
		`SELECT id, order_id, product_id, quantity, price::text
		 FROM order_items
		 WHERE order_id = ANY($1)
		 ORDER BY order_id, id`,
		orderIDs,
	)
}

// listSellerOrderItems возвращает только позиции заказов с товарами продавца.
func listSellerOrderItems(ctx context.Context, q querier, orderIDs []int64, sellerID int64) (map[int64][]model.OrderItem, error) {
	return queryOrderItems(ctx, q,
		`SELECT i.id, i.order_id, i.product_id, i.quantity, i.price::text
		 FROM order_items i
		 JOIN products p ON p.id = i.product_id
		 WHERE i.order_id = ANY($1) AND p.seller_id = $2
		 ORDER BY i.order_id, i.id`,
		orderIDs, sellerID,
	)
}

func queryOrderItems(ctx context.Context, q querier, query string, args ...any) (map[int64][]model.OrderItem, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	res := make(map[int64][]model.OrderItem)
	for rows.Next() {
		var (
			it    model.OrderItem
			price string
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &price); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if it.Price, err = parseMoney(price); err != nil {
			return nil, err
		}
		res[it.OrderID] = append(res[it.OrderID], it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func listCart(ctx context.Context, q querier, buyerID int64) ([]model.CartItem, error) {
	rows, err := q.Query(ctx,
		`SELECT buyer_id, product_id, quantity, created_at
		 FROM cart_items
		 WHERE buyer_id = $1
		 ORDER BY created_at, product_id`,
		buyerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select cart: %w", err)
	}
	defer rows.Close()

	var res []model.CartItem
	for rows.Next() {
		var it model.CartItem
		if err := rows.Scan(&it.BuyerID, &it.ProductID, &it.Quantity, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		res = append(res, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func (t *pgTx) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	return getProduct(ctx, t.q, id, false)
}

func (t *pgTx) CreateProduct(ctx context.Context, p *model.Product) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO products (seller_id, name, price, min_price, quantity, created_at, updated_at)
		 VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7)
		 RETURNING id`,
		p.SellerID, p.Name, p.Price.String(), nullMoney(p.MinPrice), p.Quantity, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateProduct(ctx context.Context, p *model.Product) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE products
		 SET name = $2, price = $3::numeric, min_price = $4::numeric, quantity = $5, updated_at = $6
		 WHERE id = $1`,
		p.ID, p.Name, p.Price.String(), nullMoney(p.MinPrice), p.Quantity, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", model.ErrProductNotFound, p.ID)
	}
	return nil
}

// ReserveStock списывает остаток одним условным UPDATE: строка товара блокируется на время транзакции,
// поэтому два параллельных запроса на последнюю единицу не могут оба пройти.
func (t *pgTx) ReserveStock(ctx context.Context, productID int64, quantity int) (*model.Product, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", model.ErrInvalidInput)
	}

	p, err := scanProduct(t.q.QueryRow(ctx,
		`UPDATE products
		 SET quantity = quantity - $2, updated_at = now()
		 WHERE id = $1 AND quantity >= $2
		 RETURNING `+productColumns,
		productID, quantity,
	))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reserve stock: %w", err)
	}

	var available int
	err = t.q.QueryRow(ctx, `SELECT quantity FROM products WHERE id = $1`, productID).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", model.ErrProductNotFound, productID)
		}
		return nil, fmt.Errorf("select stock: %w", err)
	}

	return nil, fmt.Errorf("%w: product %d (requested %d, available %d)", model.ErrInsufficientStock, productID, quantity, available)
}

func (t *pgTx) CreateBargain(ctx context.Context, b *model.Bargain) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO bargains (product_id, buyer_id, offered_price, counter_price, status, created_at, updated_at)
		 VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7)
		 RETURNING id`,
		b.ProductID, b.BuyerID, b.OfferedPrice.String(), nullMoney(b.CounterPrice), string(b.Status), b.CreatedAt, b.UpdatedAt,
	).Scan(&b.ID)
	if err != nil {
		if isUniqueViolation(err, "bargains_active_uidx") {
			return fmt.Errorf("%w: product %d", model.ErrActiveBargainExists, b.ProductID)
		}
		return fmt.Errorf("insert bargain: %w", err)
	}
	return nil
}

func (t *pgTx) GetBargainForUpdate(ctx context.Context, id int64) (*model.Bargain, error) {
	b, err := scanBargain(t.q.QueryRow(ctx,
		`SELECT `+bargainColumns+` FROM bargains WHERE id = $1 FOR UPDATE`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", model.ErrBargainNotFound, id)
		}
		return nil, fmt.Errorf("select bargain: %w", err)
	}
	return b, nil
}

func (t *pgTx) UpdateBargain(ctx context.Context, b *model.Bargain) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE bargains
		 SET offered_price = $2::numeric, counter_price = $3::numeric, status = $4, updated_at = $5
		 WHERE id = $1`,
		b.ID, b.OfferedPrice.String(), nullMoney(b.CounterPrice), string(b.Status), b.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "bargains_active_uidx") {
			return fmt.Errorf("%w: product %d", model.ErrActiveBargainExists, b.ProductID)
		}
		return fmt.Errorf("update bargain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", model.ErrBargainNotFound, b.ID)
	}
	return nil
}

func (t *pgTx) CompleteBargain(ctx context.Context, id int64, at time.Time) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE bargains SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`,
		id, string(model.BargainStatusCompleted), at, string(model.BargainStatusAccepted),
	)
	if err != nil {
		return fmt.Errorf("complete bargain: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var status string
	err = t.q.QueryRow(ctx, `SELECT status FROM bargains WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %d", model.ErrBargainNotFound, id)
		}
		return fmt.Errorf("select bargain status: %w", err)
	}
	if model.BargainStatus(status) == model.BargainStatusCompleted {
		return fmt.Errorf("%w: bargain %d", model.ErrAlreadyCompleted, id)
	}
	return fmt.Errorf("%w: bargain %d is %s", model.ErrNotAccepted, id, status)
}

func (t *pgTx) ListCart(ctx context.Context, buyerID int64) ([]model.CartItem, error) {
	return listCart(ctx, t.q, buyerID)
}

func (t *pgTx) AddCartItem(ctx context.Context, item model.CartItem) (model.CartItem, error) {
	var res model.CartItem
	err := t.q.QueryRow(ctx,
		`INSERT INTO cart_items (buyer_id, product_id, quantity, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (buyer_id, product_id) DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
		 RETURNING buyer_id, product_id, quantity, created_at`,
		item.BuyerID, item.ProductID, item.Quantity, item.CreatedAt,
	).Scan(&res.BuyerID, &res.ProductID, &res.Quantity, &res.CreatedAt)
	if err != nil {
		return model.CartItem{}, fmt.Errorf("upsert cart item: %w", err)
	}
	return res, nil
}

func (t *pgTx) RemoveCartItem(ctx context.Context, buyerID, productID int64) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM cart_items WHERE buyer_id = $1 AND product_id = $2`, buyerID, productID); err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	return nil
}

func (t *pgTx) ClearCart(ctx context.Context, buyerID int64) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM cart_items WHERE buyer_id = $1`, buyerID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (t *pgTx) CreateOrder(ctx context.Context, o *model.Order) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO orders (buyer_id, bargain_id, total, status, created_at, updated_at)
		 VALUES ($1, $2, $3::numeric, $4, $5, $6)
		 RETURNING id`,
		o.BuyerID, o.BargainID, o.Total.String(), string(o.Status), o.CreatedAt, o.UpdatedAt,
	).Scan(&o.ID)
	if err != nil {
		if isUniqueViolation(err, "orders_bargain_id_key") {
			return fmt.Errorf("%w: bargain %d", model.ErrAlreadyCompleted, *o.BargainID)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		err := t.q.QueryRow(ctx,
			`INSERT INTO order_items (order_id, product_id, quantity, price)
			 VALUES ($1, $2, $3, $4::numeric)
			 RETURNING id`,
			it.OrderID, it.ProductID, it.Quantity, it.Price.String(),
		).Scan(&it.ID)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return nil
}

func (t *pgTx) GetOrderForUpdate(ctx context.Context, id int64) (*model.Order, error) {
	return getOrder(ctx, t.q, id, true)
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, orderID int64, status model.OrderStatus, at time.Time) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`,
		orderID, string(status), at,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", model.ErrOrderNotFound, orderID)
	}
	return nil
}

func (t *pgTx) AppendStatusChange(ctx context.Context, c *model.StatusChange) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO order_status_history (order_id, status, comment, updated_by, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		c.OrderID, string(c.Status), c.Comment, c.UpdatedBy, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert status change: %w", err)
	}
	return nil
}
