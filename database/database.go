package database

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/opencrafts-io/anam-notifier/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NotifyChannelSuffix is appended to a table name by the notify_collection_change
// trigger to build the channel it publishes row changes on.
const NotifyChannelSuffix = "_changes"

// NotifyChannel returns the channel the trigger on table notifies.
func NotifyChannel(table string) string {
	return table + NotifyChannelSuffix
}

// NewPool opens a connection pool from the database configuration.
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	dbConfig, err := pgxpool.ParseConfig(fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.DatabaseConfig.DatabaseUser,
		cfg.DatabaseConfig.DatabasePassword,
		cfg.DatabaseConfig.DatabaseHost,
		cfg.DatabaseConfig.DatabasePort,
		cfg.DatabaseConfig.DatabaseName,
	))
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	// Every watcher holds one connection for LISTEN.
	dbConfig.MaxConns = max(cfg.DatabaseConfig.DatabasePoolMaxConnections, int32(len(cfg.FeedConfig.Collections))+1)
	dbConfig.MinConns = cfg.DatabaseConfig.DatabasePoolMinConnections
	dbConfig.MaxConnLifetime = time.Hour * time.Duration(cfg.DatabaseConfig.DatabasePoolMaxConnectionLifetime)

	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return pool, nil
}

// RunGooseMigrations moves the database to the latest schema version,
// installing the tables and the change notification triggers.
func RunGooseMigrations(logger *slog.Logger, pool *pgxpool.Pool) error {
	if err := goose.SetDialect(string(goose.DialectPostgres)); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	goose.SetBaseFS(migrationsFS)

	db := stdlib.OpenDBFromPool(pool)

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	logger.Info("Migrations ran and were completed successfully")
	return nil
}
