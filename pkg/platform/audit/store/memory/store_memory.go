package memory

import (
	"context"
	"sync"

	id "watchtower/pkg/domain"
	audit "watchtower/pkg/platform/audit"
)

// maxPerUser bounds memory use for long-running processes; oldest events are dropped.
const maxPerUser = 500

type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.UserID][]audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.UserID][]audit.Event)}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := append(s.events[event.UserID], event)
	if len(events) > maxPerUser {
		events = events[len(events)-maxPerUser:]
	}
	s.events[event.UserID] = events
	return nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID id.UserID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[userID]...), nil
}
