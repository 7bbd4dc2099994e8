package adapters

import (
	"context"
	"sort"

	"watchtower/internal/admin/types"
	"watchtower/internal/session"
	id "watchtower/pkg/domain"
)

// LiveSessions is implemented by the session registry.
type LiveSessions interface {
	Sessions() []*session.Session
	Get(userID id.UserID) (*session.Session, bool)
}

// SessionStoreAdapter adapts the session registry to admin's SessionStore interface.
type SessionStoreAdapter struct {
	sessions LiveSessions
}

// NewSessionStoreAdapter creates a new adapter wrapping the session registry.
func NewSessionStoreAdapter(sessions LiveSessions) *SessionStoreAdapter {
	return &SessionStoreAdapter{sessions: sessions}
}

// ListAll returns every held session record, oldest start first.
func (a *SessionStoreAdapter) ListAll(_ context.Context) ([]*types.AdminSession, error) {
	sessions := a.sessions.Sessions()
	result := make([]*types.AdminSession, 0, len(sessions))
	for _, s := range sessions {
		result = append(result, mapSession(s))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result, nil
}

// Get returns the identity's session record, if one is held.
func (a *SessionStoreAdapter) Get(_ context.Context, userID id.UserID) (*types.AdminSession, bool, error) {
	s, ok := a.sessions.Get(userID)
	if !ok {
		return nil, false, nil
	}
	return mapSession(s), true, nil
}

func mapSession(s *session.Session) *types.AdminSession {
	snap := s.Snapshot()
	return &types.AdminSession{
		UserID:    s.UserID(),
		State:     snap.State.String(),
		Reason:    snap.Reason,
		StartedAt: s.StartedAt(),
		UpdatedAt: snap.UpdatedAt,
	}
}
