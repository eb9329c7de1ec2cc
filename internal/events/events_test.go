package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nishidshajib/tradbazar/internal/model"
)

type stubWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *stubWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *stubWriter) Close() error {
	w.closed = true
	return nil
}

func decode(t *testing.T, msg kafka.Message) (Envelope, map[string]any) {
	t.Helper()

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	return env, payload
}

func TestOrderPlaced(t *testing.T) {
	w := &stubWriter{}
	p := newPublisher(w, zap.NewNop())
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	bargainID := int64(7)
	order := &model.Order{
		ID:        42,
		BuyerID:   3,
		BargainID: &bargainID,
		Total:     decimal.RequireFromString("70"),
		Items: []model.OrderItem{
			{ProductID: 5, Quantity: 1, Price: decimal.RequireFromString("70")},
		},
	}

	require.NoError(t, p.OrderPlaced(context.Background(), order))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, TopicOrderPlaced, msg.Topic)
	assert.Equal(t, "42", string(msg.Key))

	env, payload := decode(t, msg)
	assert.Equal(t, EventOrderPlaced, env.EventType)
	assert.Equal(t, 1, env.EventVersion)
	assert.Equal(t, "42", env.CorrelationID)
	assert.True(t, at.Equal(env.OccurredAt))
	_, err := uuid.Parse(env.EventID)
	assert.NoError(t, err)

	assert.Equal(t, "70.00", payload["total"])
	assert.EqualValues(t, 7, payload["bargain_id"])
}

func TestBargainDecidedCounterPrice(t *testing.T) {
	w := &stubWriter{}
	p := newPublisher(w, zap.NewNop())

	counter := decimal.RequireFromString("75.5")
	b := &model.Bargain{
		ID:           9,
		ProductID:    5,
		BuyerID:      3,
		OfferedPrice: decimal.RequireFromString("51"),
		CounterPrice: &counter,
		Status:       model.BargainStatusCountered,
	}

	require.NoError(t, p.BargainDecided(context.Background(), b))
	require.Len(t, w.msgs, 1)

	_, payload := decode(t, w.msgs[0])
	assert.Equal(t, "countered", payload["status"])
	assert.Equal(t, "75.50", payload["counter_price"])
	assert.Equal(t, "51.00", payload["offered_price"])
}

func TestPublishWriterError(t *testing.T) {
	w := &stubWriter{err: errors.New("broker down")}
	p := newPublisher(w, zap.NewNop())

	err := p.OrderStatusChanged(context.Background(), &model.StatusChange{OrderID: 1, Status: model.OrderStatusShipped})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
