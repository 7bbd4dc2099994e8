package audit

import (
	"time"

	platformaudit "watchtower/pkg/platform/audit"
)

// ActivityEntry is one audit event as shown to the user it concerns.
type ActivityEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Subject   string    `json:"subject,omitempty"`
	State     string    `json:"state,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// ActivityResponse lists the newest entries first.
type ActivityResponse struct {
	Events []ActivityEntry `json:"events"`
	Total  int             `json:"total"`
}

func toActivityResponse(events []platformaudit.Event, limit int) ActivityResponse {
	resp := ActivityResponse{Events: make([]ActivityEntry, 0, min(len(events), limit)), Total: len(events)}
	for i := len(events) - 1; i >= 0 && len(resp.Events) < limit; i-- {
		e := events[i]
		resp.Events = append(resp.Events, ActivityEntry{
			Timestamp: e.Timestamp,
			Action:    e.Action,
			Subject:   e.Subject,
			State:     e.State,
			Reason:    e.Reason,
			RequestID: e.RequestID,
		})
	}
	return resp
}
