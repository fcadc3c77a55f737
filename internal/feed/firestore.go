package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/opencrafts-io/anam-notifier/internal/notification"
)

// FirestoreFeed streams query snapshots of whole collections.
type FirestoreFeed struct {
	client *firestore.Client
	index  *documentIndex
}

// NewFirestoreFeed returns a feed over client. The initial snapshot of a
// subscription reports every existing document as added. With
// skipInitialSnapshot set the first one per collection is dropped. Later
// subscriptions, after a feed error, only report documents the feed has not
// seen before.
func NewFirestoreFeed(client *firestore.Client, skipInitialSnapshot bool) *FirestoreFeed {
	return &FirestoreFeed{client: client, index: newDocumentIndex(skipInitialSnapshot)}
}

func (f *FirestoreFeed) Subscribe(ctx context.Context, collection notification.Collection) (notification.Subscription, error) {
	it := f.client.Collection(string(collection)).Snapshots(ctx)
	return &firestoreSubscription{
		it:         it,
		collection: collection,
		index:      f.index,
	}, nil
}

func (f *FirestoreFeed) Close() error {
	return f.client.Close()
}

type firestoreSubscription struct {
	it         *firestore.QuerySnapshotIterator
	collection notification.Collection
	index      *documentIndex
	seen       bool
}

// Next blocks on the snapshot iterator, which is bound to the context given
// to Subscribe.
func (s *firestoreSubscription) Next(ctx context.Context) (notification.Batch, error) {
	for {
		snap, err := s.it.Next()
		if errors.Is(err, iterator.Done) {
			return notification.Batch{}, notification.ErrSubscriptionClosed
		}
		if err != nil {
			if ctx.Err() != nil {
				return notification.Batch{}, ctx.Err()
			}
			return notification.Batch{}, fmt.Errorf("firestore snapshot: %w", err)
		}

		initial := !s.seen
		s.seen = true
		batch := s.index.observe(s.collection, convertChanges(snap.Changes), initial)
		if initial && len(batch.Changes) == 0 {
			continue
		}
		return batch, nil
	}
}

func (s *firestoreSubscription) Close() error {
	s.it.Stop()
	return nil
}

func convertChanges(changes []firestore.DocumentChange) notification.Batch {
	batch := notification.Batch{Changes: make([]notification.Change, 0, len(changes))}
	for _, c := range changes {
		kind, ok := convertKind(c.Kind)
		if !ok {
			continue
		}
		change := notification.Change{Kind: kind}
		if c.Doc != nil {
			change.Record = c.Doc.Data()
			if c.Doc.Ref != nil {
				change.DocumentID = c.Doc.Ref.ID
			}
		}
		batch.Changes = append(batch.Changes, change)
	}
	return batch
}

func convertKind(k firestore.DocumentChangeKind) (notification.ChangeKind, bool) {
	switch k {
	case firestore.DocumentAdded:
		return notification.Added, true
	case firestore.DocumentModified:
		return notification.Modified, true
	case firestore.DocumentRemoved:
		return notification.Removed, true
	}
	return 0, false
}

// documentIndex remembers the document ids each collection has reported so an
// initial snapshot after a resubscribe yields only documents created while the
// feed was down.
type documentIndex struct {
	mu          sync.Mutex
	skipInitial bool
	known       map[notification.Collection]map[string]struct{}
}

func newDocumentIndex(skipInitial bool) *documentIndex {
	return &documentIndex{
		skipInitial: skipInitial,
		known:       make(map[notification.Collection]map[string]struct{}),
	}
}

// observe records the ids in batch and returns the changes to deliver.
func (x *documentIndex) observe(c notification.Collection, batch notification.Batch, initial bool) notification.Batch {
	x.mu.Lock()
	defer x.mu.Unlock()

	ids, primed := x.known[c]
	if !primed {
		ids = make(map[string]struct{})
		x.known[c] = ids
	}

	out := batch
	if initial && (primed || x.skipInitial) {
		out = notification.Batch{}
		if primed {
			for _, ch := range batch.Changes {
				if _, ok := ids[ch.DocumentID]; ch.Kind == notification.Added && !ok {
					out.Changes = append(out.Changes, ch)
				}
			}
		}
	}

	for _, ch := range batch.Changes {
		if ch.DocumentID == "" {
			continue
		}
		if ch.Kind == notification.Removed {
			delete(ids, ch.DocumentID)
		} else {
			ids[ch.DocumentID] = struct{}{}
		}
	}
	return out
}
