package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/opencrafts-io/anam-notifier/internal/app"
	"github.com/opencrafts-io/anam-notifier/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		return 1
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	if sa := cfg.FirebaseConfig.ServiceAccount; sa != nil {
		logger.Info("Firebase service account loaded", slog.Any("service_account", sa))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := app.New(ctx, logger, cfg)
	if err != nil {
		logger.Error("Failed to create app.", slog.Any("error", err))
		return 1
	}

	if err := app.Start(ctx); err != nil {
		logger.Error("Failed to start app.", slog.Any("error", err))
		return 1
	}
	return 0
}
