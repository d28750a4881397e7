package notify

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"fleet-monitor/telematics/internal/domain"
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPNotifier publishes to a fanout exchange; each consumer binds its own queue.
type AMQPNotifier struct {
	ch       amqpChannel
	exchange string
}

var _ Notifier = (*AMQPNotifier)(nil)

func DialAMQP(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect: %w", err)
	}
	return conn, nil
}

func NewAMQPNotifier(conn *amqp.Connection, exchange string) (*AMQPNotifier, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &AMQPNotifier{ch: ch, exchange: exchange}, nil
}

func (p *AMQPNotifier) Name() string { return "amqp" }

func (p *AMQPNotifier) Notify(ctx context.Context, n domain.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	return p.ch.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    n.ID,
		Type:         n.Type,
		Timestamp:    n.Timestamp,
		Body:         body,
	})
}

func (p *AMQPNotifier) Close() error {
	return p.ch.Close()
}
