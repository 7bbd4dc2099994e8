// Package store persists registered devices and each user's selected target.
package store

import (
	"context"
	"sort"
	"sync"

	"watchtower/internal/device/models"
	id "watchtower/pkg/domain"
	"watchtower/pkg/platform/sentinel"
)

// InMemoryStore keeps devices in process memory. Selections are lost on restart.
type InMemoryStore struct {
	mu       sync.RWMutex
	devices  map[id.UserID]map[id.DeviceID]models.Device
	selected map[id.UserID]id.DeviceID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		devices:  make(map[id.UserID]map[id.DeviceID]models.Device),
		selected: make(map[id.UserID]id.DeviceID),
	}
}

func (s *InMemoryStore) Save(_ context.Context, device *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.devices[device.UserID]
	if !ok {
		byID = make(map[id.DeviceID]models.Device)
		s.devices[device.UserID] = byID
	}
	byID[device.ID] = *device
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, userID id.UserID, deviceID id.DeviceID) (*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[userID][deviceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &d, nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID id.UserID) ([]*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Device, 0, len(s.devices[userID]))
	for _, d := range s.devices[userID] {
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) SetSelected(_ context.Context, userID id.UserID, deviceID id.DeviceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[userID][deviceID]; !ok {
		return sentinel.ErrNotFound
	}
	s.selected[userID] = deviceID
	return nil
}

func (s *InMemoryStore) FindSelected(_ context.Context, userID id.UserID) (*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	deviceID, ok := s.selected[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	d, ok := s.devices[userID][deviceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &d, nil
}

// SaveAndSelectIfNone stores the device and selects it when the user has no selection yet.
func (s *InMemoryStore) SaveAndSelectIfNone(_ context.Context, device *models.Device) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.devices[device.UserID]
	if !ok {
		byID = make(map[id.DeviceID]models.Device)
		s.devices[device.UserID] = byID
	}
	byID[device.ID] = *device
	if _, ok := s.selected[device.UserID]; ok {
		return false, nil
	}
	s.selected[device.UserID] = device.ID
	return true, nil
}
