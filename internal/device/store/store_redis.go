package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"watchtower/internal/device/models"
	id "watchtower/pkg/domain"
	"watchtower/pkg/platform/sentinel"
)

const (
	// devices:{user} is a hash of device id -> JSON device.
	devicesKeyPrefix = "watchtower:devices:"
	// device:selected:{user} holds the selected device id.
	selectedKeyPrefix = "watchtower:device:selected:"
)

// RedisStore keeps devices in Redis so selections survive restarts without Postgres.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func devicesKey(userID id.UserID) string  { return devicesKeyPrefix + userID.String() }
func selectedKey(userID id.UserID) string { return selectedKeyPrefix + userID.String() }

func (s *RedisStore) Save(ctx context.Context, device *models.Device) error {
	payload, err := json.Marshal(device)
	if err != nil {
		return fmt.Errorf("marshal device: %w", err)
	}
	if err := s.client.HSet(ctx, devicesKey(device.UserID), device.ID.String(), payload).Err(); err != nil {
		return fmt.Errorf("save device: %w", err)
	}
	return nil
}

func (s *RedisStore) FindByID(ctx context.Context, userID id.UserID, deviceID id.DeviceID) (*models.Device, error) {
	raw, err := s.client.HGet(ctx, devicesKey(userID), deviceID.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find device: %w", err)
	}
	return decodeDevice(raw)
}

func (s *RedisStore) ListByUser(ctx context.Context, userID id.UserID) ([]*models.Device, error) {
	all, err := s.client.HGetAll(ctx, devicesKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	devices := make([]*models.Device, 0, len(all))
	for _, raw := range all {
		d, err := decodeDevice([]byte(raw))
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].CreatedAt.Before(devices[j].CreatedAt) })
	return devices, nil
}

func (s *RedisStore) SetSelected(ctx context.Context, userID id.UserID, deviceID id.DeviceID) error {
	exists, err := s.client.HExists(ctx, devicesKey(userID), deviceID.String()).Result()
	if err != nil {
		return fmt.Errorf("select device: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	if err := s.client.Set(ctx, selectedKey(userID), deviceID.String(), 0).Err(); err != nil {
		return fmt.Errorf("select device: %w", err)
	}
	return nil
}

func (s *RedisStore) FindSelected(ctx context.Context, userID id.UserID) (*models.Device, error) {
	raw, err := s.client.Get(ctx, selectedKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find selected device: %w", err)
	}
	deviceID, err := id.ParseDeviceID(raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt selected device id: %w", err)
	}
	return s.FindByID(ctx, userID, deviceID)
}

// SaveAndSelectIfNone stores the device and selects it with SETNX in one pipeline.
func (s *RedisStore) SaveAndSelectIfNone(ctx context.Context, device *models.Device) (bool, error) {
	payload, err := json.Marshal(device)
	if err != nil {
		return false, fmt.Errorf("marshal device: %w", err)
	}
	var selected *redis.BoolCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, devicesKey(device.UserID), device.ID.String(), payload)
		selected = pipe.SetNX(ctx, selectedKey(device.UserID), device.ID.String(), 0)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("register device: %w", err)
	}
	return selected.Val(), nil
}

func decodeDevice(raw []byte) (*models.Device, error) {
	var d models.Device
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode device: %w", err)
	}
	return &d, nil
}
