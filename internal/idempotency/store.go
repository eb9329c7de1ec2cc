// Package idempotency хранит ключи идемпотентности оформления заказов в Redis.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nishidshajib/tradbazar/internal/model"
)

const (
	keyCheckout = "idem:checkout:%d:%s"
	pending     = "pending"
)

// TTL задаёт срок хранения ключа, связанного с заказом.
var TTL = 24 * time.Hour

// PendingTTL задаёт срок жизни отметки о незавершённом оформлении.
// Если процесс упал до Complete или Abort, ключ освобождается по истечении этого срока.
var PendingTTL = 30 * time.Second

type client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Store связывает ключ идемпотентности покупателя с созданным заказом.
type Store struct {
	rdb        client
	ttl        time.Duration
	pendingTTL time.Duration
}

// NewRedisClient создаёт клиента Redis по адресу host:port.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// NewStore создаёт хранилище поверх клиента Redis.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, ttl: TTL, pendingTTL: PendingTTL}
}

// Key возвращает ключ Redis для покупателя и клиентского ключа.
func Key(buyerID int64, idemKey string) string {
	return fmt.Sprintf(keyCheckout, buyerID, idemKey)
}

// Begin резервирует ключ. Если ключ уже связан с заказом, возвращает его id и started=false.
// Если оформление с этим ключом ещё идёт, возвращает model.ErrCheckoutInProgress.
func (s *Store) Begin(ctx context.Context, buyerID int64, idemKey string) (orderID int64, started bool, err error) {
	key := Key(buyerID, idemKey)

	ok, err := s.rdb.SetNX(ctx, key, pending, s.pendingTTL).Result()
	if err != nil {
		return 0, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return 0, true, nil
	}

	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// ключ истёк между SetNX и Get
		return s.Begin(ctx, buyerID, idemKey)
	}
	if err != nil {
		return 0, false, fmt.Errorf("read idempotency key: %w", err)
	}
	if val == pending {
		return 0, false, model.ErrCheckoutInProgress
	}

	orderID, err = strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt idempotency key %s: %w", key, err)
	}
	return orderID, false, nil
}

// Complete связывает ключ с созданным заказом.
func (s *Store) Complete(ctx context.Context, buyerID int64, idemKey string, orderID int64) error {
	if err := s.rdb.Set(ctx, Key(buyerID, idemKey), strconv.FormatInt(orderID, 10), s.ttl).Err(); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

// Abort освобождает ключ после неудачного оформления.
func (s *Store) Abort(ctx context.Context, buyerID int64, idemKey string) error {
	if err := s.rdb.Del(ctx, Key(buyerID, idemKey)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
