// Package repository содержит реализацию доступа к данным маркетплейса в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/nishidshajib/tradbazar/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// retryDelays задаёт паузы между повторами транзакции при конфликте сериализации или сетевой ошибке.
var retryDelays = []time.Duration{50 * time.Millisecond, 200 * time.Millisecond, 500 * time.Millisecond}

// querier объединяет общее подмножество методов pgxpool.Pool и pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// WithinTx выполняет fn в одной транзакции. При конфликте сериализации, взаимоблокировке
// или обрыве соединения транзакция повторяется целиком, поэтому fn не должна иметь внешних побочных эффектов.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(ctx, &pgTx{q: tx}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// При ошибке контекста выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(retryDelays) {
			break
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, role) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, string(role),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err, "") {
			return 0, fmt.Errorf("%w: %s", model.ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, created_at FROM users WHERE login = $1`,
		login,
	)

	var (
		u    model.User
		role string
	)
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)

	return &u, nil
}

// GetProduct возвращает товар вне транзакции.
func (r *PostgresRepository) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	return getProduct(ctx, r.pool, id, false)
}

// LatestBargain возвращает последний торг покупателя по товару или nil, если торгов не было.
func (r *PostgresRepository) LatestBargain(ctx context.Context, productID, buyerID int64) (*model.Bargain, error) {
	b, err := scanBargain(r.pool.QueryRow(ctx,
		`SELECT `+bargainColumns+` FROM bargains
		 WHERE product_id = $1 AND buyer_id = $2
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		productID, buyerID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select latest bargain: %w", err)
	}
	return b, nil
}

// ListBargainsByBuyer возвращает торги покупателя, новые первыми.
func (r *PostgresRepository) ListBargainsByBuyer(ctx context.Context, buyerID int64) ([]model.Bargain, error) {
	return listBargains(ctx, r.pool,
		`SELECT `+bargainColumns+` FROM bargains WHERE buyer_id = $1 ORDER BY created_at DESC, id DESC`,
		buyerID,
	)
}

// ListBargainsBySeller возвращает торги по товарам продавца, новые первыми.
func (r *PostgresRepository) ListBargainsBySeller(ctx context.Context, sellerID int64) ([]model.Bargain, error) {
	return listBargains(ctx, r.pool,
		`SELECT `+prefixed("b", bargainColumns)+` FROM bargains b
		 JOIN products p ON p.id = b.product_id
		 WHERE p.seller_id = $1
		 ORDER BY b.created_at DESC, b.id DESC`,
		sellerID,
	)
}

// ListAllBargains возвращает все торги, новые первыми.
func (r *PostgresRepository) ListAllBargains(ctx context.Context) ([]model.Bargain, error) {
	return listBargains(ctx, r.pool,
		`SELECT `+bargainColumns+` FROM bargains ORDER BY created_at DESC, id DESC`,
	)
}

// LoadOrderWithItems возвращает заказ вместе с позициями.
func (r *PostgresRepository) LoadOrderWithItems(ctx context.Context, id int64) (*model.Order, error) {
	return getOrder(ctx, r.pool, id, false)
}

// ListOrdersByBuyer возвращает историю заказов покупателя с позициями, новые первыми.
func (r *PostgresRepository) ListOrdersByBuyer(ctx context.Context, buyerID int64) ([]model.Order, error) {
	orders, ids, err := r.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC, id DESC`,
		buyerID,
	)
	if err != nil || len(ids) == 0 {
		return orders, err
	}

	items, err := listOrderItems(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}

	return orders, nil
}

// ListOrdersBySeller возвращает заказы, в которых есть товары продавца, новые первыми.
// В Items попадают только позиции этого продавца.
func (r *PostgresRepository) ListOrdersBySeller(ctx context.Context, sellerID int64) ([]model.Order, error) {
	orders, ids, err := r.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders o
		 WHERE EXISTS (
		     SELECT 1 FROM order_items i
		     JOIN products p ON p.id = i.product_id
		     WHERE i.order_id = o.id AND p.seller_id = $1
		 )
		 ORDER BY created_at DESC, id DESC`,
		sellerID,
	)
	if err != nil || len(ids) == 0 {
		return orders, err
	}

	items, err := listSellerOrderItems(ctx, r.pool, ids, sellerID)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}

	return orders, nil
}

func (r *PostgresRepository) listOrders(ctx context.Context, query string, args ...any) ([]model.Order, []int64, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var (
		orders []model.Order
		ids    []int64
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, ids, nil
}

// ListProductsBySeller возвращает товары продавца в порядке создания.
func (r *PostgresRepository) ListProductsBySeller(ctx context.Context, sellerID int64) ([]model.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE seller_id = $1 ORDER BY id`,
		sellerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var res []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		res = append(res, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListStatusHistory возвращает историю статусов заказа в хронологическом порядке.
func (r *PostgresRepository) ListStatusHistory(ctx context.Context, orderID int64) ([]model.StatusChange, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, status, comment, updated_by, created_at
		 FROM order_status_history
		 WHERE order_id = $1
		 ORDER BY created_at, id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select status history: %w", err)
	}
	defer rows.Close()

	var res []model.StatusChange
	for rows.Next() {
		var (
			c      model.StatusChange
			status string
		)
		if err := rows.Scan(&c.ID, &c.OrderID, &status, &c.Comment, &c.UpdatedBy, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status change: %w", err)
		}
		c.Status = model.OrderStatus(status)
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListCart возвращает корзину покупателя вне транзакции.
func (r *PostgresRepository) ListCart(ctx context.Context, buyerID int64) ([]model.CartItem, error) {
	return listCart(ctx, r.pool, buyerID)
}
