package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	id "watchtower/pkg/domain"
	audit "watchtower/pkg/platform/audit"
	txcontext "watchtower/pkg/platform/tx"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          UUID PRIMARY KEY,
	user_id     UUID NOT NULL,
	action      TEXT NOT NULL,
	subject     TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL DEFAULT '',
	reason      TEXT NOT NULL DEFAULT '',
	request_id  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_user_created_idx ON audit_events (user_id, created_at);
`

// Store implements audit.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the audit table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	query := `
		INSERT INTO audit_events (id, user_id, action, subject, state, reason, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.New(),
		uuid.UUID(event.UserID),
		event.Action,
		event.Subject,
		event.State,
		event.Reason,
		event.RequestID,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *Store) ListByUser(ctx context.Context, userID id.UserID) ([]audit.Event, error) {
	query := `
		SELECT action, subject, state, reason, request_id, created_at
		FROM audit_events
		WHERE user_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		event := audit.Event{UserID: userID}
		if err := rows.Scan(&event.Action, &event.Subject, &event.State, &event.Reason, &event.RequestID, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
