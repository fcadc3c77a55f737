package notification_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/opencrafts-io/anam-notifier/internal/notification"
	"github.com/opencrafts-io/anam-notifier/internal/notification/mocks"
)

// recordingNotifier captures dispatched messages synchronously.
type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notification.Message
}

func (r *recordingNotifier) Dispatch(_ context.Context, msg notification.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingNotifier) messages() []notification.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification.Message(nil), r.msgs...)
}

// fakeSubscription hands out queued batches, then the queued error, then
// blocks until ctx is done.
type fakeSubscription struct {
	batches chan notification.Batch
	err     error
	closed  bool
	mu      sync.Mutex
}

func (s *fakeSubscription) Next(ctx context.Context) (notification.Batch, error) {
	select {
	case b, ok := <-s.batches:
		if !ok {
			if s.err != nil {
				return notification.Batch{}, s.err
			}
			<-ctx.Done()
			return notification.Batch{}, ctx.Err()
		}
		return b, nil
	case <-ctx.Done():
		return notification.Batch{}, ctx.Err()
	}
}

func (s *fakeSubscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type fakeFeed struct {
	mu    sync.Mutex
	subs  []*fakeSubscription
	calls int
	err   error
}

func (f *fakeFeed) Subscribe(_ context.Context, _ notification.Collection) (notification.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.subs) == 0 {
		return &fakeSubscription{batches: make(chan notification.Batch)}, nil
	}
	sub := f.subs[0]
	f.subs = f.subs[1:]
	return sub, nil
}

func (f *fakeFeed) subscribeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newSubscription(err error, batches ...notification.Batch) *fakeSubscription {
	ch := make(chan notification.Batch, len(batches))
	for _, b := range batches {
		ch <- b
	}
	close(ch)
	return &fakeSubscription{batches: ch, err: err}
}

func added(record notification.Record) notification.Change {
	return notification.Change{Kind: notification.Added, Record: record}
}

func TestWatcherHandleBatchOnlyAdded(t *testing.T) {
	n := &recordingNotifier{}
	w := notification.NewWatcher(notification.EventsCollection, &fakeFeed{}, n, discardLogger(), nil)

	w.HandleBatch(context.Background(), notification.Batch{Changes: []notification.Change{
		{Kind: notification.Modified, Record: notification.Record{"title": "a", "description": "b"}},
		{Kind: notification.Removed, Record: notification.Record{"title": "a", "description": "b"}},
		added(notification.Record{"title": "Fire Drill", "description": "short text"}),
	}})

	assert.Equal(t, []notification.Message{
		{Topic: "newPosts", Title: "New event: Fire Drill", Body: "short text"},
	}, n.messages())
}

func TestWatcherNeverDispatchesModifiedOrRemoved(t *testing.T) {
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	d := notification.NewDispatcher(transport, discardLogger(), nil)
	w := notification.NewWatcher(notification.BulletinsCollection, &fakeFeed{}, d, discardLogger(), nil)

	w.HandleBatch(context.Background(), notification.Batch{Changes: []notification.Change{
		{Kind: notification.Modified, Record: notification.Record{"title": "a", "description": "b"}},
		{Kind: notification.Removed, Record: notification.Record{"title": "a", "description": "b"}},
	}})
	waitDispatcher(t, d)
}

func TestWatcherContainsBadRecords(t *testing.T) {
	n := &recordingNotifier{}
	w := notification.NewWatcher(notification.BulletinsCollection, &fakeFeed{}, n, discardLogger(), nil)

	w.HandleBatch(context.Background(), notification.Batch{Changes: []notification.Change{
		added(notification.Record{"title": "no description"}),
		added(notification.Record{"title": "Holiday", "description": "closed", "targetInstitutionId": "all"}),
	}})

	assert.Equal(t, []notification.Message{
		{Topic: "newPosts", Title: "New bulletin: Holiday", Body: "closed"},
	}, n.messages())
}

func TestWatcherTransportFailureDoesNotStopLaterChanges(t *testing.T) {
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)
	gomock.InOrder(
		transport.EXPECT().
			Send(gomock.Any(), "institution_inst7", "New bulletin: Exam Notice", strings.Repeat("x", 100)+"...").
			Return("", errors.New("unavailable")),
		transport.EXPECT().
			Send(gomock.Any(), "newPosts", "New event: Fire Drill", "short text").
			Return("msg-2", nil),
	)

	d := notification.NewDispatcher(transport, discardLogger(), nil)
	bulletins := notification.NewWatcher(notification.BulletinsCollection, &fakeFeed{}, d, discardLogger(), nil)
	events := notification.NewWatcher(notification.EventsCollection, &fakeFeed{}, d, discardLogger(), nil)

	bulletins.HandleBatch(context.Background(), notification.Batch{Changes: []notification.Change{
		added(notification.Record{
			"title":               "Exam Notice",
			"description":         strings.Repeat("x", 150),
			"targetInstitutionId": "inst7",
		}),
	}})
	waitDispatcher(t, d)

	events.HandleBatch(context.Background(), notification.Batch{Changes: []notification.Change{
		added(notification.Record{"title": "Fire Drill", "description": "short text"}),
	}})
	waitDispatcher(t, d)
}

func TestWatcherRunProcessesBatchesUntilCancelled(t *testing.T) {
	sub := &fakeSubscription{batches: make(chan notification.Batch)}
	feed := &fakeFeed{subs: []*fakeSubscription{sub}}
	n := &recordingNotifier{}
	w := notification.NewWatcher(notification.BulletinsCollection, feed, n, discardLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	sub.batches <- notification.Batch{Changes: []notification.Change{
		added(notification.Record{"title": "Holiday", "description": "closed"}),
	}}
	sub.batches <- notification.Batch{Changes: []notification.Change{
		added(notification.Record{"title": "Fees", "description": "due", "targetInstitutionId": "inst42"}),
	}}

	require.Eventually(t, func() bool { return len(n.messages()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after cancellation")
	}

	assert.Equal(t, "newPosts", n.messages()[0].Topic)
	assert.Equal(t, "institution_inst42", n.messages()[1].Topic)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.True(t, sub.closed)
}

func TestWatcherResubscribesAfterFeedError(t *testing.T) {
	first := newSubscription(errors.New("stream reset"),
		notification.Batch{Changes: []notification.Change{
			added(notification.Record{"title": "A", "description": "first"}),
		}},
	)
	second := newSubscription(nil,
		notification.Batch{Changes: []notification.Change{
			added(notification.Record{"title": "B", "description": "second"}),
		}},
	)
	feed := &fakeFeed{subs: []*fakeSubscription{first, second}}
	n := &recordingNotifier{}
	w := notification.NewWatcher(notification.EventsCollection, feed, n, discardLogger(), nil,
		notification.WithResubscribeDelay(time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(n.messages()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, feed.subscribeCalls())

	cancel()
	assert.NoError(t, <-done)
}

func TestWatcherRunFailsWhenFirstSubscribeFails(t *testing.T) {
	feed := &fakeFeed{err: errors.New("permission denied")}
	w := notification.NewWatcher(notification.EventsCollection, feed, &recordingNotifier{}, discardLogger(), nil)

	err := w.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}
