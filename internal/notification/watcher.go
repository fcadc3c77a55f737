package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrSubscriptionClosed is returned by Subscription.Next once the
// subscription can no longer deliver batches.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Feed is a source of change batches for named collections.
type Feed interface {
	Subscribe(ctx context.Context, collection Collection) (Subscription, error)
}

// Subscription is a live stream of change batches for one collection.
type Subscription interface {
	// Next blocks until a batch is available, ctx is done or the
	// subscription fails.
	Next(ctx context.Context) (Batch, error)
	Close() error
}

// Notifier accepts resolved messages for delivery. Dispatcher implements it.
type Notifier interface {
	Dispatch(ctx context.Context, msg Message)
}

const defaultResubscribeDelay = 5 * time.Second

// Watcher turns the Added changes of one collection into notifications.
type Watcher struct {
	collection       Collection
	feed             Feed
	notifier         Notifier
	logger           *slog.Logger
	metrics          *Metrics
	resubscribeDelay time.Duration
}

type WatcherOption func(*Watcher)

// WithResubscribeDelay sets how long the watcher waits before subscribing
// again after the feed broke.
func WithResubscribeDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.resubscribeDelay = d
		}
	}
}

func NewWatcher(
	collection Collection,
	feed Feed,
	notifier Notifier,
	logger *slog.Logger,
	metrics *Metrics,
	opts ...WatcherOption,
) *Watcher {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	w := &Watcher{
		collection:       collection,
		feed:             feed,
		notifier:         notifier,
		logger:           logger.With(slog.String("collection", string(collection))),
		metrics:          metrics,
		resubscribeDelay: defaultResubscribeDelay,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run consumes the collection's feed until ctx is cancelled. It only returns
// an error when the initial subscription cannot be established; later feed
// failures are logged and followed by a new subscription.
func (w *Watcher) Run(ctx context.Context) error {
	sub, err := w.feed.Subscribe(ctx, w.collection)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", w.collection, err)
	}
	w.logger.Info("Watching collection for new documents")

	for {
		err := w.consume(ctx, sub)
		if cerr := sub.Close(); cerr != nil {
			w.logger.Warn("Failed to close subscription", slog.Any("error", cerr))
		}
		if ctx.Err() != nil {
			w.logger.Info("Watcher stopped")
			return nil
		}

		w.logger.Error("Change feed interrupted, resubscribing",
			slog.Any("error", err),
			slog.Duration("delay", w.resubscribeDelay),
		)

		sub, err = w.resubscribe(ctx)
		if err != nil {
			// only ctx cancellation ends the retry loop
			return nil
		}
	}
}

func (w *Watcher) resubscribe(ctx context.Context) (Subscription, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(w.resubscribeDelay):
		}

		sub, err := w.feed.Subscribe(ctx, w.collection)
		if err == nil {
			w.logger.Info("Resubscribed to change feed")
			return sub, nil
		}
		w.logger.Error("Failed to resubscribe", slog.Any("error", err))
	}
}

// consume processes batches until the subscription fails.
func (w *Watcher) consume(ctx context.Context, sub Subscription) error {
	for {
		batch, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		w.HandleBatch(ctx, batch)
	}
}

// HandleBatch processes every change in batch independently. A failure on one
// change never affects the others.
func (w *Watcher) HandleBatch(ctx context.Context, batch Batch) {
	for _, change := range batch.Changes {
		w.handleChange(ctx, change)
	}
}

func (w *Watcher) handleChange(ctx context.Context, change Change) {
	w.metrics.changesTotal.WithLabelValues(string(w.collection), change.Kind.String()).Inc()

	if change.Kind != Added {
		w.logger.DebugContext(ctx, "Ignoring change",
			slog.String("kind", change.Kind.String()),
			slog.String("document_id", change.DocumentID),
		)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			w.metrics.changeErrors.WithLabelValues(string(w.collection)).Inc()
			w.logger.ErrorContext(ctx, "Recovered while handling change",
				slog.String("document_id", change.DocumentID),
				slog.Any("error", fmt.Errorf("panic: %v", r)),
			)
		}
	}()

	msg, err := Resolve(w.collection, change.Record)
	if err != nil {
		w.metrics.changeErrors.WithLabelValues(string(w.collection)).Inc()
		w.logger.ErrorContext(ctx, "Failed to build notification",
			slog.String("document_id", change.DocumentID),
			slog.Any("error", err),
		)
		return
	}

	w.logger.InfoContext(ctx, "New document detected",
		slog.String("document_id", change.DocumentID),
		slog.Any("title", change.Record[titleField]),
		slog.String("topic", msg.Topic),
	)
	w.notifier.Dispatch(ctx, msg)
}
