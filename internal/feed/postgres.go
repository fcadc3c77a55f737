package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opencrafts-io/anam-notifier/database"
	"github.com/opencrafts-io/anam-notifier/internal/notification"
)

// columnFields maps table columns to the record field names used by the
// resolver. Columns not listed keep their name.
var columnFields = map[string]string{
	"target_institution_id": "targetInstitutionId",
}

// PostgresFeed listens on the notification channels fed by the row triggers
// installed by the database migrations. Each NOTIFY is delivered as a batch
// of one change.
type PostgresFeed struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresFeed(pool *pgxpool.Pool, logger *slog.Logger) *PostgresFeed {
	return &PostgresFeed{pool: pool, logger: logger}
}

// Channel returns the NOTIFY channel used for a collection.
func (f *PostgresFeed) Channel(collection notification.Collection) string {
	return database.NotifyChannel(string(collection))
}

func (f *PostgresFeed) Subscribe(ctx context.Context, collection notification.Collection) (notification.Subscription, error) {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}

	channel := pgx.Identifier{f.Channel(collection)}.Sanitize()
	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen on %s: %w", channel, err)
	}

	return &postgresSubscription{conn: conn, logger: f.logger.With(slog.String("channel", channel))}, nil
}

type postgresSubscription struct {
	conn   *pgxpool.Conn
	logger *slog.Logger
}

func (s *postgresSubscription) Next(ctx context.Context) (notification.Batch, error) {
	n, err := s.conn.Conn().WaitForNotification(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return notification.Batch{}, ctx.Err()
		}
		return notification.Batch{}, fmt.Errorf("wait for notification: %w", err)
	}

	change, err := DecodeRowChange([]byte(n.Payload))
	if err != nil {
		// Malformed payloads are dropped and the subscription stays open.
		s.logger.ErrorContext(ctx, "Dropping malformed change notification",
			slog.String("payload", n.Payload),
			slog.Any("error", err),
		)
		return notification.Batch{}, nil
	}
	return notification.Batch{Changes: []notification.Change{change}}, nil
}

func (s *postgresSubscription) Close() error {
	if s.conn.Conn().IsClosed() {
		s.conn.Release()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.conn.Exec(ctx, "UNLISTEN *")
	s.conn.Release()
	return err
}

type rowChange struct {
	Op     string         `json:"op"`
	ID     string         `json:"id"`
	Record map[string]any `json:"record"`
}

// DecodeRowChange parses a payload produced by the notify_collection_change
// trigger function.
func DecodeRowChange(payload []byte) (notification.Change, error) {
	if len(payload) == 0 {
		return notification.Change{}, ErrEmptyPayload
	}

	var rc rowChange
	if err := json.Unmarshal(payload, &rc); err != nil {
		return notification.Change{}, fmt.Errorf("decode row change: %w", err)
	}

	kind, err := notification.ParseChangeKind(rc.Op)
	if err != nil {
		return notification.Change{}, err
	}

	record := make(notification.Record, len(rc.Record))
	for col, v := range rc.Record {
		if field, ok := columnFields[col]; ok {
			col = field
		}
		record[col] = v
	}

	return notification.Change{Kind: kind, DocumentID: rc.ID, Record: record}, nil
}
