package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/opencrafts-io/anam-notifier/internal/feed"
	"github.com/opencrafts-io/anam-notifier/internal/notification"
)

// maxBatchBytes bounds the request body accepted by PublishChanges.
const maxBatchBytes = 1 << 20

// BatchPublisher accepts change batches for a collection.
type BatchPublisher interface {
	Publish(collection notification.Collection, batch notification.Batch) error
}

// ChangeHandler injects change batches into the in-process feed. It is only
// mounted when FEED_DRIVER=memory, for local development without Firestore.
type ChangeHandler struct {
	Logger    *slog.Logger
	Publisher BatchPublisher
}

func (ch *ChangeHandler) RegisterChangeHandlers(router *http.ServeMux) {
	router.HandleFunc("POST /debug/changes/{collection}", ch.PublishChanges)
}

func (ch *ChangeHandler) PublishChanges(w http.ResponseWriter, r *http.Request) {
	collection := notification.Collection(r.PathValue("collection"))
	if !notification.Supported(collection) {
		writeError(w, http.StatusNotFound, "unknown collection")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBatchBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	batch, err := feed.DecodeBatch(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := ch.Publisher.Publish(collection, batch); err != nil {
		ch.Logger.Error("Failed to publish change batch",
			slog.String("collection", string(collection)),
			slog.Any("error", err),
		)
		writeError(w, http.StatusInternalServerError, "could not queue changes")
		return
	}

	w.Header().Set("content-type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"queued": len(batch.Changes)})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
