// Package feed provides change feed implementations for the notification
// watchers: Firestore snapshots, Postgres LISTEN/NOTIFY, Redis pub/sub and an
// in-process Watermill channel.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opencrafts-io/anam-notifier/internal/notification"
)

var ErrEmptyPayload = errors.New("empty change payload")

// DecodeBatch parses the JSON batch format shared by the broker backed feeds:
//
//	{"changes":[{"kind":"added","id":"abc","record":{"title":"..."}}]}
func DecodeBatch(payload []byte) (notification.Batch, error) {
	if len(payload) == 0 {
		return notification.Batch{}, ErrEmptyPayload
	}

	var batch notification.Batch
	if err := json.Unmarshal(payload, &batch); err != nil {
		return notification.Batch{}, fmt.Errorf("decode change batch: %w", err)
	}
	return batch, nil
}

// EncodeBatch is the inverse of DecodeBatch, used by producers and tests.
func EncodeBatch(batch notification.Batch) ([]byte, error) {
	b, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("encode change batch: %w", err)
	}
	return b, nil
}
