package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opencrafts-io/anam-notifier/internal/handlers"
)

func TestHealthHandler(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "/", nil)
	if err != nil {
		t.Fatalf("Could not create request: %v\n", err)
	}

	rr := httptest.NewRecorder()

	handlers.HealthHandler(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("Handler returned the wrong response code: got %v expected %v",
			status, http.StatusOK)
	}

	expectedContentType := "text/plain; charset=utf-8"
	if contentType := rr.Header().Get("Content-Type"); contentType != expectedContentType {
		t.Errorf("handler returned wrong Content-Type header: got %v want %v",
			contentType, expectedContentType)
	}

	if body := rr.Body.String(); body != handlers.HealthMessage {
		t.Errorf("handler returned unexpected body: got %q want %q",
			body, handlers.HealthMessage)
	}
}
