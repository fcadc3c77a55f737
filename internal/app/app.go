package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	fbsdk "firebase.google.com/go/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/opencrafts-io/anam-notifier/database"
	"github.com/opencrafts-io/anam-notifier/internal/config"
	"github.com/opencrafts-io/anam-notifier/internal/eventbus"
	"github.com/opencrafts-io/anam-notifier/internal/feed"
	"github.com/opencrafts-io/anam-notifier/internal/firebase"
	"github.com/opencrafts-io/anam-notifier/internal/middleware"
	"github.com/opencrafts-io/anam-notifier/internal/notification"
	"github.com/opencrafts-io/anam-notifier/internal/push"
)

type App struct {
	config     *config.Config
	logger     *slog.Logger
	feed       notification.Feed
	dispatcher *notification.Dispatcher
	metrics    *notification.Metrics
	registry   *prometheus.Registry
	memoryFeed *feed.MemoryFeed
	closers    []func() error
}

// Returns a new instance of the application with the change feed and push
// transport selected by the configuration.
func New(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*App, error) {
	var closers []func() error
	fail := func(err error) (*App, error) {
		runClosers(logger, closers)
		return nil, err
	}

	if err := cfg.ResolveCredentials(); err != nil {
		return nil, err
	}

	var fb *fbsdk.App
	if cfg.NeedsFirebase() {
		var err error
		fb, err = firebase.NewApp(ctx, cfg.FirebaseConfig.ServiceAccount, logger)
		if err != nil {
			return nil, err
		}
	}

	source, err := newFeed(ctx, logger, cfg, fb, &closers)
	if err != nil {
		return fail(err)
	}

	transport, err := newTransport(ctx, logger, cfg, fb, &closers)
	if err != nil {
		return fail(err)
	}

	a, err := NewWithDependencies(logger, cfg, source, transport)
	if err != nil {
		return fail(err)
	}
	a.closers = closers
	return a, nil
}

// NewWithDependencies builds the application around an existing feed and
// transport.
func NewWithDependencies(
	logger *slog.Logger,
	cfg *config.Config,
	source notification.Feed,
	transport notification.Transport,
) (*App, error) {
	for _, c := range cfg.FeedConfig.Collections {
		if !notification.Supported(notification.Collection(c)) {
			return nil, fmt.Errorf("no notification rules for collection %q", c)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := notification.NewMetrics(registry)

	a := &App{
		config:     cfg,
		logger:     logger,
		feed:       source,
		dispatcher: notification.NewDispatcher(transport, logger, metrics),
		metrics:    metrics,
		registry:   registry,
	}
	if mf, ok := source.(*feed.MemoryFeed); ok {
		a.memoryFeed = mf
	}
	return a, nil
}

// Starts the HTTP server and one watcher per configured collection, then
// blocks until ctx is cancelled or a component fails to start.
func (a *App) Start(ctx context.Context) error {
	defer runClosers(a.logger, a.closers)

	middlewares := middleware.CreateStack(
		middleware.Recovery(a.logger),
		middleware.Logging(a.logger),
	)
	router := a.loadRoutes()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.config.AppConfig.Address, a.config.AppConfig.Port),
		Handler:           middlewares(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1+len(a.config.FeedConfig.Collections))

	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	a.logger.Info("server running",
		slog.String("Address", a.config.AppConfig.Address),
		slog.Int("port", a.config.AppConfig.Port),
	)

	watchCtx, stopWatchers := context.WithCancel(ctx)
	defer stopWatchers()

	var watchers sync.WaitGroup
	for _, c := range a.config.FeedConfig.Collections {
		w := notification.NewWatcher(
			notification.Collection(c),
			a.feed,
			a.dispatcher,
			a.logger,
			a.metrics,
			notification.WithResubscribeDelay(a.config.FeedConfig.ResubscribeDelay),
		)
		watchers.Add(1)
		go func() {
			defer watchers.Done()
			if err := w.Run(watchCtx); err != nil {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	// Wait until we receive SIGINT (ctrl+c on cli)
	case <-ctx.Done():
	case runErr = <-errCh:
		a.logger.Error("Shutting down after startup failure", slog.Any("error", runErr))
	}

	sCtx, cancel := context.WithTimeout(context.Background(), a.config.AppConfig.ShutdownTimeout)
	defer cancel()

	stopWatchers()
	watchers.Wait()

	if err := srv.Shutdown(sCtx); err != nil {
		a.logger.Warn("HTTP server shutdown incomplete", slog.Any("error", err))
	}
	if err := a.dispatcher.Wait(sCtx); err != nil {
		a.logger.Warn("Notifications still in flight at shutdown", slog.Any("error", err))
	}

	return runErr
}

// Dispatcher exposes the dispatcher, mainly for tests that need to wait for
// in-flight sends.
func (a *App) Dispatcher() *notification.Dispatcher {
	return a.dispatcher
}

func runClosers(logger *slog.Logger, closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.Warn("Failed to release resource", slog.Any("error", err))
		}
	}
}

func newFeed(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Config,
	fb *fbsdk.App,
	closers *[]func() error,
) (notification.Feed, error) {
	switch cfg.FeedConfig.Driver {
	case config.FeedFirestore:
		client, err := fb.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("firestore: create client: %w", err)
		}
		f := feed.NewFirestoreFeed(client, cfg.FeedConfig.SkipInitialSnapshot)
		*closers = append(*closers, f.Close)
		logger.Info("Connected to Firestore")
		return f, nil

	case config.FeedPostgres:
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, func() error { pool.Close(); return nil })
		if err := database.RunGooseMigrations(logger, pool); err != nil {
			return nil, err
		}
		return feed.NewPostgresFeed(pool, logger), nil

	case config.FeedRedis:
		opts, err := redis.ParseURL(cfg.RedisConfig.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		f := feed.NewRedisFeed(redis.NewClient(opts), cfg.FeedConfig.RedisChannelPrefix, logger)
		*closers = append(*closers, f.Close)

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := f.Ping(pingCtx); err != nil {
			return nil, err
		}
		return f, nil

	case config.FeedMemory:
		f := feed.NewMemoryFeed(logger)
		*closers = append(*closers, f.Close)
		return f, nil
	}
	return nil, fmt.Errorf("unsupported feed driver %q", cfg.FeedConfig.Driver)
}

func newTransport(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Config,
	fb *fbsdk.App,
	closers *[]func() error,
) (notification.Transport, error) {
	switch cfg.TransportConfig.Driver {
	case config.TransportFCM:
		return push.NewFCMTransport(ctx, fb)

	case config.TransportRabbitMQ:
		bus, err := eventbus.NewPushNotificationBus(cfg, logger)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, func() error { bus.Close(); return nil })
		return bus, nil
	}
	return nil, fmt.Errorf("unsupported transport driver %q", cfg.TransportConfig.Driver)
}
