package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transport delivers a notification to every device subscribed to topic and
// returns the delivery identifier assigned by the provider. Implementations
// must be safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, topic, title, body string) (string, error)
}

// Dispatcher sends notifications in the background. Each Dispatch makes at
// most one send attempt and never reports failure to the caller.
type Dispatcher struct {
	transport Transport
	logger    *slog.Logger
	metrics   *Metrics
	wg        sync.WaitGroup
}

func NewDispatcher(transport Transport, logger *slog.Logger, metrics *Metrics) *Dispatcher {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Dispatcher{
		transport: transport,
		logger:    logger,
		metrics:   metrics,
	}
}

// Dispatch starts the send for msg and returns immediately. The send is
// detached from ctx cancellation so in-flight notifications survive shutdown
// until Wait gives up on them.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	if msg.Topic == "" {
		d.metrics.dispatchesTotal.WithLabelValues(outcomeSkipped).Inc()
		d.logger.DebugContext(ctx, "No topic set, notification not sent",
			slog.String("title", msg.Title),
		)
		return
	}

	dispatchID := uuid.New().String()
	sendCtx := context.WithoutCancel(ctx)

	d.wg.Add(1)
	d.metrics.inFlight.Inc()
	go func() {
		defer d.wg.Done()
		defer d.metrics.inFlight.Dec()
		d.send(sendCtx, dispatchID, msg)
	}()
}

func (d *Dispatcher) send(ctx context.Context, dispatchID string, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.dispatchesTotal.WithLabelValues(outcomeFailed).Inc()
			d.logger.ErrorContext(ctx, "Push transport panicked",
				slog.String("dispatch_id", dispatchID),
				slog.String("topic", msg.Topic),
				slog.Any("error", fmt.Errorf("panic: %v", r)),
			)
		}
	}()

	start := time.Now()
	deliveryID, err := d.transport.Send(ctx, msg.Topic, msg.Title, msg.Body)
	d.metrics.dispatchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		d.metrics.dispatchesTotal.WithLabelValues(outcomeFailed).Inc()
		d.logger.ErrorContext(ctx, "Failed to send notification",
			slog.String("dispatch_id", dispatchID),
			slog.String("topic", msg.Topic),
			slog.Any("error", err),
		)
		return
	}

	d.metrics.dispatchesTotal.WithLabelValues(outcomeSent).Inc()
	d.logger.InfoContext(ctx, "Notification sent",
		slog.String("dispatch_id", dispatchID),
		slog.String("topic", msg.Topic),
		slog.String("delivery_id", deliveryID),
	)
}

// Wait blocks until every in-flight send has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight notifications: %w", ctx.Err())
	}
}
