// Package firebase bootstraps the Firebase Admin SDK from a service account.
package firebase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/opencrafts-io/anam-notifier/internal/config"
)

// NewApp initialises a Firebase app for the given service account.
func NewApp(ctx context.Context, sa *config.ServiceAccount, logger *slog.Logger) (*firebase.App, error) {
	if sa == nil {
		return nil, errors.New("firebase: no service account configured")
	}

	creds, err := sa.JSON()
	if err != nil {
		return nil, fmt.Errorf("firebase: encode service account: %w", err)
	}

	app, err := firebase.NewApp(ctx,
		&firebase.Config{ProjectID: sa.ProjectID},
		option.WithCredentialsJSON(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("firebase: initialise app: %w", err)
	}

	logger.Info("Firebase initialised", slog.Any("service_account", sa))
	return app, nil
}
