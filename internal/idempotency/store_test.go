package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nishidshajib/tradbazar/internal/model"
)

// fakeRedis хранит значения в map и отвечает готовыми командами go-redis.
type fakeRedis struct {
	data   map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.data[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "idem:checkout:7:abc", Key(7, "abc"))
}

func TestBeginCompleteReplay(t *testing.T) {
	ctx := context.Background()
	s := &Store{rdb: newFakeRedis(), ttl: time.Minute, pendingTTL: time.Second}

	_, started, err := s.Begin(ctx, 1, "k1")
	require.NoError(t, err)
	assert.True(t, started)

	_, _, err = s.Begin(ctx, 1, "k1")
	require.ErrorIs(t, err, model.ErrCheckoutInProgress)

	require.NoError(t, s.Complete(ctx, 1, "k1", 42))

	orderID, started, err := s.Begin(ctx, 1, "k1")
	require.NoError(t, err)
	assert.False(t, started)
	assert.Equal(t, int64(42), orderID)

	// ключ другого покупателя независим
	_, started, err = s.Begin(ctx, 2, "k1")
	require.NoError(t, err)
	assert.True(t, started)
}

func TestAbortReleasesKey(t *testing.T) {
	ctx := context.Background()
	s := &Store{rdb: newFakeRedis(), ttl: time.Minute, pendingTTL: time.Second}

	_, started, err := s.Begin(ctx, 1, "k1")
	require.NoError(t, err)
	require.True(t, started)

	require.NoError(t, s.Abort(ctx, 1, "k1"))

	_, started, err = s.Begin(ctx, 1, "k1")
	require.NoError(t, err)
	assert.True(t, started)
}

func TestBeginReadError(t *testing.T) {
	ctx := context.Background()
	f := newFakeRedis()
	f.data[Key(1, "k1")] = "pending"
	f.getErr = errors.New("connection reset")
	s := &Store{rdb: f, ttl: time.Minute, pendingTTL: time.Second}

	_, _, err := s.Begin(ctx, 1, "k1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPendingMarkerExpiresSooner(t *testing.T) {
	ctx := context.Background()
	f := newFakeRedis()
	s := &Store{rdb: f, ttl: time.Hour, pendingTTL: 30 * time.Second}
	key := Key(1, "k1")

	_, started, err := s.Begin(ctx, 1, "k1")
	require.NoError(t, err)
	require.True(t, started)
	assert.Equal(t, pending, f.data[key])
	assert.Equal(t, 30*time.Second, f.ttls[key])

	require.NoError(t, s.Complete(ctx, 1, "k1", 42))
	assert.Equal(t, "42", f.data[key])
	assert.Equal(t, time.Hour, f.ttls[key])
}

func TestNewStoreTTLs(t *testing.T) {
	s := NewStore(NewRedisClient("localhost:0"))
	defer s.rdb.(*redis.Client).Close()

	assert.Equal(t, TTL, s.ttl)
	assert.Equal(t, PendingTTL, s.pendingTTL)
	assert.Less(t, s.pendingTTL, s.ttl)
}
