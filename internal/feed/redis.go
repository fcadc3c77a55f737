package feed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/opencrafts-io/anam-notifier/internal/notification"
)

// RedisFeed receives change batches published on one pub/sub channel per
// collection, named prefix + collection.
type RedisFeed struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

func NewRedisFeed(client *redis.Client, prefix string, logger *slog.Logger) *RedisFeed {
	return &RedisFeed{client: client, prefix: prefix, logger: logger}
}

func (f *RedisFeed) Channel(collection notification.Collection) string {
	return f.prefix + string(collection)
}

func (f *RedisFeed) Subscribe(ctx context.Context, collection notification.Collection) (notification.Subscription, error) {
	channel := f.Channel(collection)
	ps := f.client.Subscribe(ctx, channel)

	// Wait for the subscription confirmation so errors surface here.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	return &redisSubscription{ps: ps, logger: f.logger.With(slog.String("channel", channel))}, nil
}

// Publish sends a batch to the collection's channel.
func (f *RedisFeed) Publish(ctx context.Context, collection notification.Collection, batch notification.Batch) error {
	payload, err := EncodeBatch(batch)
	if err != nil {
		return err
	}
	if err := f.client.Publish(ctx, f.Channel(collection), payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", f.Channel(collection), err)
	}
	return nil
}

// Ping checks the Redis connection health.
func (f *RedisFeed) Ping(ctx context.Context) error {
	if err := f.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (f *RedisFeed) Close() error {
	return f.client.Close()
}

type redisSubscription struct {
	ps     *redis.PubSub
	logger *slog.Logger
}

func (s *redisSubscription) Next(ctx context.Context) (notification.Batch, error) {
	for {
		msg, err := s.ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return notification.Batch{}, ctx.Err()
			}
			return notification.Batch{}, fmt.Errorf("receive message: %w", err)
		}

		batch, err := DecodeBatch([]byte(msg.Payload))
		if err != nil {
			s.logger.ErrorContext(ctx, "Dropping malformed change batch", slog.Any("error", err))
			continue
		}
		return batch, nil
	}
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}
