package admin

import (
	"time"

	"watchtower/internal/admin/types"
)

// SessionInfoResponse is the HTTP response DTO for one live session.
type SessionInfoResponse struct {
	UserID    string    `json:"user_id"`
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionsListResponse wraps the list of sessions for HTTP response.
type SessionsListResponse struct {
	Sessions []*SessionInfoResponse `json:"sessions"`
	Total    int                    `json:"total"`
}

func toSessionInfo(s *types.AdminSession) *SessionInfoResponse {
	return &SessionInfoResponse{
		UserID:    s.UserID.String(),
		State:     s.State,
		Reason:    s.Reason,
		StartedAt: s.StartedAt,
		UpdatedAt: s.UpdatedAt,
	}
}
