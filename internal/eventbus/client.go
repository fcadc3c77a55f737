package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

type ExchangeType string

const (
	DirectExchangeType ExchangeType = "direct"
	FanoutExchangeType ExchangeType = "fanout"
	TopicExchangeType  ExchangeType = "topic"
)

// EventBus is the publishing side of a message broker.
type EventBus interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close()
}

// RabbitMQEventBus is a concrete implementation of EventBus that uses RabbitMQ.
// A single channel is shared, so Publish calls are serialised by the client.
type RabbitMQEventBus struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewRabbitMQEventBus connects to the RabbitMQ server and declares a durable
// exchange of the given type.
func NewRabbitMQEventBus(amqpURI, exchange string, exchangeType ExchangeType) (*RabbitMQEventBus, error) {
	conn, err := amqp.Dial(amqpURI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,             // name
		string(exchangeType), // type
		true,                 // durable
		false,                // auto-deleted
		false,                // internal
		false,                // no-wait
		nil,                  // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &RabbitMQEventBus{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
	}, nil
}

// Publish serializes the event and sends it to the RabbitMQ exchange.
func (eb *RabbitMQEventBus) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	}

	return eb.channel.PublishWithContext(
		ctx,
		eb.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		publishing,
	)
}

// Close closes the RabbitMQ channel and connection.
func (eb *RabbitMQEventBus) Close() {
	if eb.channel != nil {
		eb.channel.Close()
	}
	if eb.conn != nil {
		eb.conn.Close()
	}
}
