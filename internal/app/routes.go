package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opencrafts-io/anam-notifier/internal/handlers"
)

func (a *App) loadRoutes() http.Handler {
	router := http.NewServeMux()

	// health check
	router.HandleFunc("GET /{$}", handlers.HealthHandler)

	router.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	if a.memoryFeed != nil {
		changes := &handlers.ChangeHandler{Logger: a.logger, Publisher: a.memoryFeed}
		changes.RegisterChangeHandlers(router)
	}

	return router
}
