package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatpilot-cli/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	sqlCreateEvents = `
        CREATE TABLE IF NOT EXISTS activity_events (
            id          BIGSERIAL PRIMARY KEY,
            session_id  TEXT NOT NULL,
            observed_at TIMESTAMPTZ NOT NULL,
            source      TEXT NOT NULL,
            kind        TEXT NOT NULL,
            replied     BOOLEAN NOT NULL DEFAULT FALSE,
            reply_text  TEXT NOT NULL DEFAULT '',
            error       TEXT NOT NULL DEFAULT '',
            note        TEXT NOT NULL DEFAULT '',
            badge_from  INTEGER NOT NULL DEFAULT 0,
            badge_to    INTEGER NOT NULL DEFAULT 0
        );
    `
	sqlInsertEvent = `
        INSERT INTO activity_events (session_id, observed_at, source, kind, replied, reply_text, error, note, badge_from, badge_to)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
    `
	sqlRecentEvents = `
        SELECT session_id, observed_at, source, kind, replied, reply_text, error, note, badge_from, badge_to
        FROM activity_events
        ORDER BY observed_at DESC
        LIMIT $1;
    `
)

// Store mirrors activity events into PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ EventSink = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the events table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateEvents); err != nil {
		return fmt.Errorf("failed to create activity_events: %w", err)
	}
	return nil
}

// Append inserts one event.
func (s *Store) Append(ctx context.Context, ev schemas.ActivityEvent) error {
	tag, err := s.pool.Exec(ctx, sqlInsertEvent,
		ev.SessionID, ev.Timestamp.UTC(), ev.SourceIdentity, string(ev.Kind),
		ev.Replied, ev.ReplyText, ev.Error, ev.Note, ev.BadgeFrom, ev.BadgeTo,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("unexpected rows affected inserting event: %d", tag.RowsAffected())
	}
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]schemas.ActivityEvent, error) {
	rows, err := s.pool.Query(ctx, sqlRecentEvents, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []schemas.ActivityEvent
	for rows.Next() {
		var (
			ev   schemas.ActivityEvent
			kind string
			at   time.Time
		)
		if err := rows.Scan(&ev.SessionID, &at, &ev.SourceIdentity, &kind, &ev.Replied,
			&ev.ReplyText, &ev.Error, &ev.Note, &ev.BadgeFrom, &ev.BadgeTo); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		ev.Kind = schemas.ActivityKind(kind)
		ev.Timestamp = at.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return events, nil
}

// Close is a no-op; the pool belongs to the caller.
func (s *Store) Close() error { return nil }
