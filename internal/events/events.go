package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"shopchat/internal/models"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// OrderCreated is published once an order has been committed.
type OrderCreated struct {
	EventID    string       `json:"event_id"`
	OrderID    int64        `json:"order_id"`
	Email      string       `json:"email"`
	Item       string       `json:"item"`
	Quantity   int64        `json:"quantity"`
	TotalCost  models.Cents `json:"total_cost"`
	NewBalance models.Cents `json:"new_balance"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Publisher delivers order events.
type Publisher interface {
	PublishOrderCreated(ctx context.Context, evt OrderCreated) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) PublishOrderCreated(context.Context, OrderCreated) error { return nil }

func (Nop) Close() error { return nil }

// RabbitPublisher publishes events as persistent JSON messages to a durable queue.
type RabbitPublisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewRabbitPublisher(url, queue string) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbit dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbit channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	return &RabbitPublisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *RabbitPublisher) PublishOrderCreated(ctx context.Context, evt OrderCreated) error {
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    evt.EventID,
			Type:         "order.created",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

func (p *RabbitPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
