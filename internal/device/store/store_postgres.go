package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"watchtower/internal/device/models"
	id "watchtower/pkg/domain"
	"watchtower/pkg/platform/sentinel"
	txcontext "watchtower/pkg/platform/tx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS devices (
	id          UUID PRIMARY KEY,
	user_id     UUID NOT NULL,
	name        TEXT NOT NULL,
	platform    TEXT NOT NULL,
	push_token  TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS devices_user_idx ON devices (user_id, created_at);
CREATE TABLE IF NOT EXISTS device_selections (
	user_id     UUID PRIMARY KEY,
	device_id   UUID NOT NULL REFERENCES devices (id) ON DELETE CASCADE,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresStore persists devices in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the device tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create device schema: %w", err)
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Save(ctx context.Context, device *models.Device) error {
	query := `
		INSERT INTO devices (id, user_id, name, platform, push_token, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, platform = EXCLUDED.platform, push_token = EXCLUDED.push_token
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(device.ID),
		uuid.UUID(device.UserID),
		device.Name,
		device.Platform,
		device.PushToken,
		device.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save device: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, userID id.UserID, deviceID id.DeviceID) (*models.Device, error) {
	query := `
		SELECT id, user_id, name, platform, push_token, created_at
		FROM devices WHERE user_id = $1 AND id = $2
	`
	row := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(userID), uuid.UUID(deviceID))
	return scanDevice(row)
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID id.UserID) ([]*models.Device, error) {
	query := `
		SELECT id, user_id, name, platform, push_token, created_at
		FROM devices WHERE user_id = $1 ORDER BY created_at ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	devices := make([]*models.Device, 0)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return devices, nil
}

func (s *PostgresStore) SetSelected(ctx context.Context, userID id.UserID, deviceID id.DeviceID) error {
	query := `
		INSERT INTO device_selections (user_id, device_id, updated_at)
		SELECT $1, id, now() FROM devices WHERE user_id = $1 AND id = $2
		ON CONFLICT (user_id) DO UPDATE SET device_id = EXCLUDED.device_id, updated_at = EXCLUDED.updated_at
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(userID), uuid.UUID(deviceID))
	if err != nil {
		return fmt.Errorf("select device: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("select device: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindSelected(ctx context.Context, userID id.UserID) (*models.Device, error) {
	query := `
		SELECT d.id, d.user_id, d.name, d.platform, d.push_token, d.created_at
		FROM device_selections sel
		JOIN devices d ON d.id = sel.device_id
		WHERE sel.user_id = $1
	`
	row := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(userID))
	return scanDevice(row)
}

// SaveAndSelectIfNone stores the device and, in the same transaction, selects it
// when the user has no selection yet.
func (s *PostgresStore) SaveAndSelectIfNone(ctx context.Context, device *models.Device) (bool, error) {
	var selected bool
	err := txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.Save(ctx, device); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO device_selections (user_id, device_id, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (user_id) DO NOTHING
		`, uuid.UUID(device.UserID), uuid.UUID(device.ID))
		if err != nil {
			return fmt.Errorf("select first device: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("select first device: %w", err)
		}
		selected = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return selected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var (
		d              models.Device
		deviceID, user uuid.UUID
	)
	if err := row.Scan(&deviceID, &user, &d.Name, &d.Platform, &d.PushToken, &d.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan device: %w", err)
	}
	d.ID = id.DeviceID(deviceID)
	d.UserID = id.UserID(user)
	return &d, nil
}
