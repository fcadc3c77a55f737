package handlers_test

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencrafts-io/anam-notifier/internal/handlers"
	"github.com/opencrafts-io/anam-notifier/internal/notification"
)

type stubPublisher struct {
	collection notification.Collection
	batch      notification.Batch
	err        error
}

func (s *stubPublisher) Publish(c notification.Collection, b notification.Batch) error {
	s.collection = c
	s.batch = b
	return s.err
}

func newChangeRouter(p handlers.BatchPublisher) *http.ServeMux {
	router := http.NewServeMux()
	h := &handlers.ChangeHandler{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Publisher: p,
	}
	h.RegisterChangeHandlers(router)
	return router
}

func TestPublishChanges(t *testing.T) {
	pub := &stubPublisher{}
	router := newChangeRouter(pub)

	body := `{"changes":[{"kind":"added","record":{"title":"Holiday","description":"closed"}}]}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/debug/changes/bulletins", strings.NewReader(body)))

	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.JSONEq(t, `{"queued":1}`, rr.Body.String())
	assert.Equal(t, notification.BulletinsCollection, pub.collection)
	require.Len(t, pub.batch.Changes, 1)
	assert.Equal(t, notification.Added, pub.batch.Changes[0].Kind)
}

func TestPublishChangesRejectsUnknownCollection(t *testing.T) {
	rr := httptest.NewRecorder()
	newChangeRouter(&stubPublisher{}).ServeHTTP(rr,
		httptest.NewRequest(http.MethodPost, "/debug/changes/comments", strings.NewReader(`{"changes":[]}`)))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPublishChangesRejectsMalformedBody(t *testing.T) {
	rr := httptest.NewRecorder()
	newChangeRouter(&stubPublisher{}).ServeHTTP(rr,
		httptest.NewRequest(http.MethodPost, "/debug/changes/events", strings.NewReader(`{"changes":[{"kind":"renamed"}]}`)))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPublishChangesPublisherFailure(t *testing.T) {
	rr := httptest.NewRecorder()
	newChangeRouter(&stubPublisher{err: errors.New("closed")}).ServeHTTP(rr,
		httptest.NewRequest(http.MethodPost, "/debug/changes/events", strings.NewReader(`{"changes":[]}`)))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
