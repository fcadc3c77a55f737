package handlers

import (
	"net/http"
)

const HealthMessage = "Anam notification server is online and listening for changes!"

// Returns a static message to the caller.
// Used by the hosting platform to check that the process is alive.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(HealthMessage))
}
