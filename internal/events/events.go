// Package events публикует доменные события маркетплейса в Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/nishidshajib/tradbazar/internal/model"
)

// Типы событий, записываемые в Envelope.EventType и заголовок event_type.
const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventBargainDecided     = "BargainDecided"
)

// Топики Kafka, по одному на тип события.
const (
	TopicOrderPlaced        = "marketplace.order.placed"
	TopicOrderStatusChanged = "marketplace.order.status_changed"
	TopicBargainDecided     = "marketplace.bargain.decided"
)

const (
	eventVersion = 1
	producerName = "tradbazar"
)

// Envelope описывает общую обёртку всех событий.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// OrderItemPayload описывает позицию заказа в событии. Цена передаётся строкой с двумя знаками.
type OrderItemPayload struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
}

// OrderPlacedPayload публикуется после фиксации нового заказа.
type OrderPlacedPayload struct {
	OrderID   int64              `json:"order_id"`
	BuyerID   int64              `json:"buyer_id"`
	BargainID *int64             `json:"bargain_id,omitempty"`
	Total     string             `json:"total"`
	Items     []OrderItemPayload `json:"items"`
}

// OrderStatusChangedPayload публикуется после смены статуса заказа.
type OrderStatusChangedPayload struct {
	OrderID   int64  `json:"order_id"`
	Status    string `json:"status"`
	Comment   string `json:"comment,omitempty"`
	UpdatedBy int64  `json:"updated_by"`
}

// BargainDecidedPayload публикуется после решения по предложению покупателя.
type BargainDecidedPayload struct {
	BargainID    int64   `json:"bargain_id"`
	ProductID    int64   `json:"product_id"`
	BuyerID      int64   `json:"buyer_id"`
	Status       string  `json:"status"`
	OfferedPrice string  `json:"offered_price"`
	CounterPrice *string `json:"counter_price,omitempty"`
}

// NewEnvelope упаковывает payload в конверт с новым идентификатором события.
func NewEnvelope(eventType, correlationID string, payload any, at time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  eventVersion,
		OccurredAt:    at.UTC(),
		Producer:      producerName,
		CorrelationID: correlationID,
		Payload:       raw,
	}, nil
}

// writer описывает часть kafka.Writer, нужную публикатору.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher отправляет события в Kafka. Ключом партиции служит идентификатор заказа или торга.
type Publisher struct {
	w      writer
	logger *zap.Logger
	now    func() time.Time
}

// NewKafkaPublisher создаёт асинхронного публикатора для указанных брокеров.
func NewKafkaPublisher(brokers []string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("failed to deliver events", zap.Int("count", len(messages)), zap.Error(err))
			}
		},
	}
	return newPublisher(w, logger)
}

func newPublisher(w writer, logger *zap.Logger) *Publisher {
	return &Publisher{w: w, logger: logger, now: time.Now}
}

// Close сбрасывает буфер и закрывает соединения.
func (p *Publisher) Close() error {
	return p.w.Close()
}

// OrderPlaced публикует событие о созданном заказе.
func (p *Publisher) OrderPlaced(ctx context.Context, o *model.Order) error {
	items := make([]OrderItemPayload, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemPayload{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price.StringFixed(2),
		})
	}
	payload := OrderPlacedPayload{
		OrderID:   o.ID,
		BuyerID:   o.BuyerID,
		BargainID: o.BargainID,
		Total:     o.Total.StringFixed(2),
		Items:     items,
	}
	return p.publish(ctx, TopicOrderPlaced, EventOrderPlaced, o.ID, payload)
}

// OrderStatusChanged публикует событие о смене статуса заказа.
func (p *Publisher) OrderStatusChanged(ctx context.Context, c *model.StatusChange) error {
	payload := OrderStatusChangedPayload{
		OrderID:   c.OrderID,
		Status:    string(c.Status),
		Comment:   c.Comment,
		UpdatedBy: c.UpdatedBy,
	}
	return p.publish(ctx, TopicOrderStatusChanged, EventOrderStatusChanged, c.OrderID, payload)
}

// BargainDecided публикует событие о решении по торгу.
func (p *Publisher) BargainDecided(ctx context.Context, b *model.Bargain) error {
	payload := BargainDecidedPayload{
		BargainID:    b.ID,
		ProductID:    b.ProductID,
		BuyerID:      b.BuyerID,
		Status:       string(b.Status),
		OfferedPrice: b.OfferedPrice.StringFixed(2),
	}
	if b.CounterPrice != nil {
		s := b.CounterPrice.StringFixed(2)
		payload.CounterPrice = &s
	}
	return p.publish(ctx, TopicBargainDecided, EventBargainDecided, b.ID, payload)
}

func (p *Publisher) publish(ctx context.Context, topic, eventType string, id int64, payload any) error {
	key := strconv.FormatInt(id, 10)
	env, err := NewEnvelope(eventType, key, payload, p.now())
	if err != nil {
		return err
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}
