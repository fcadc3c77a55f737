package feed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/opencrafts-io/anam-notifier/internal/notification"
)

// MemoryFeed is an in-process feed backed by a Watermill Go channel. Batches
// published before a watcher subscribes are kept and replayed to it.
type MemoryFeed struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
}

func NewMemoryFeed(logger *slog.Logger) *MemoryFeed {
	return &MemoryFeed{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 64,
				Persistent:          true,
			},
			watermill.NewSlogLogger(logger),
		),
		logger: logger,
	}
}

// Publish queues batch for the watcher of collection.
func (f *MemoryFeed) Publish(collection notification.Collection, batch notification.Batch) error {
	payload, err := EncodeBatch(batch)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := f.pubsub.Publish(string(collection), msg); err != nil {
		return fmt.Errorf("publish to %s: %w", collection, err)
	}
	return nil
}

func (f *MemoryFeed) Subscribe(ctx context.Context, collection notification.Collection) (notification.Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	ch, err := f.pubsub.Subscribe(subCtx, string(collection))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to %s: %w", collection, err)
	}
	return &memorySubscription{messages: ch, cancel: cancel, logger: f.logger}, nil
}

func (f *MemoryFeed) Close() error {
	return f.pubsub.Close()
}

type memorySubscription struct {
	messages <-chan *message.Message
	cancel   context.CancelFunc
	logger   *slog.Logger
}

func (s *memorySubscription) Next(ctx context.Context) (notification.Batch, error) {
	for {
		select {
		case <-ctx.Done():
			return notification.Batch{}, ctx.Err()
		case msg, ok := <-s.messages:
			if !ok {
				return notification.Batch{}, notification.ErrSubscriptionClosed
			}
			// Delivery is at-most-once, so the message is acked before handling.
			msg.Ack()

			batch, err := DecodeBatch(msg.Payload)
			if err != nil {
				s.logger.ErrorContext(ctx, "Dropping malformed change batch",
					slog.String("message_uuid", msg.UUID),
					slog.Any("error", err),
				)
				continue
			}
			return batch, nil
		}
	}
}

func (s *memorySubscription) Close() error {
	s.cancel()
	return nil
}
