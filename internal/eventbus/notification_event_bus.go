// Documentation for the push notification eventbus
//
// OVERVIEW:
// The PushNotificationBus hands topic notifications to a push gateway over
// RabbitMQ instead of calling Firebase directly. It is selected with
// TRANSPORT_DRIVER=rabbitmq and satisfies the same transport contract as the
// FCM client: one Send per notification, returning an identifier.
//
// EXCHANGE TYPE: Direct
// Events are published to a durable direct exchange with a fixed routing key,
// so the gateway binds a single queue and receives every request. The target
// topic travels in the payload, not in the routing key.
//
// EVENT TYPES:
// - notification.topic.requested: a notification should be delivered to all
//   devices subscribed to the given topic.
//
// The request ID doubles as the delivery identifier returned to the caller,
// which allows correlating the notifier's logs with the gateway's.

package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opencrafts-io/anam-notifier/internal/config"
)

const (
	sourceServiceID        = "io.opencrafts.anam-notifier"
	topicNotificationEvent = "notification.topic.requested"
)

type PushNotificationBus struct {
	bus        EventBus
	routingKey string
	logger     *slog.Logger
	now        func() time.Time
}

// NewPushNotificationBus connects to RabbitMQ using the configured credentials.
func NewPushNotificationBus(cfg *config.Config, logger *slog.Logger) (*PushNotificationBus, error) {
	rabbitMQConnString := fmt.Sprintf("amqp://%s:%s@%s:%d/",
		cfg.RabbitMQConfig.RabbitMQUser,
		cfg.RabbitMQConfig.RabbitMQPass,
		cfg.RabbitMQConfig.RabbitMQAddress,
		cfg.RabbitMQConfig.RabbitMQPort,
	)

	rabbitMQBus, err := NewRabbitMQEventBus(
		rabbitMQConnString,
		cfg.RabbitMQConfig.Exchange,
		DirectExchangeType,
	)
	if err != nil {
		logger.Error("Failed to initialize RabbitMQ event bus", "error", err)
		return nil, fmt.Errorf("failed to initialize RabbitMQ event bus: %w", err)
	}

	return NewPushNotificationBusWith(rabbitMQBus, cfg.RabbitMQConfig.RoutingKey, logger), nil
}

// NewPushNotificationBusWith wraps an existing EventBus.
func NewPushNotificationBusWith(bus EventBus, routingKey string, logger *slog.Logger) *PushNotificationBus {
	return &PushNotificationBus{
		bus:        bus,
		routingKey: routingKey,
		logger:     logger,
		now:        time.Now,
	}
}

// Send publishes a topic notification request and returns its request ID.
func (b *PushNotificationBus) Send(ctx context.Context, topic, title, body string) (string, error) {
	requestID := GenerateRequestID()
	event := PushNotificationEvent{
		Notification: TopicNotification{
			Topic: topic,
			Title: title,
			Body:  body,
		},
		Meta: NotificationEventMetadata{
			EventType:       topicNotificationEvent,
			SourceServiceID: sourceServiceID,
			RequestID:       requestID,
			Timestamp:       b.now(),
		},
	}

	b.logger.Debug("Publishing topic notification requested event",
		slog.String("routing_key", b.routingKey),
		slog.String("topic", topic),
		slog.String("request_id", requestID),
	)

	if err := b.bus.Publish(ctx, b.routingKey, event); err != nil {
		return "", fmt.Errorf("publish notification for topic %s: %w", topic, err)
	}
	return requestID, nil
}

func (b *PushNotificationBus) Close() {
	b.bus.Close()
}

// GenerateRequestID generates a unique request ID for event tracking
func GenerateRequestID() string {
	return uuid.New().String()
}
