package audit

import (
	"context"
	"time"

	id "watchtower/pkg/domain"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time
	UserID    id.UserID
	Action    string
	// Subject names the entity acted on when it is not the user (device id, target).
	Subject   string
	State     string
	Reason    string
	RequestID string
}

type AuditEvent string

const (
	// Session lifecycle
	EventSessionStarted      AuditEvent = "session_started"
	EventSessionStopped      AuditEvent = "session_stopped"
	EventSessionStopQueued   AuditEvent = "session_stop_queued"
	EventSessionStateChanged AuditEvent = "session_state_changed"
	EventSessionStartDenied  AuditEvent = "session_start_denied"

	// Device registry
	EventDeviceRegistered AuditEvent = "device_registered"
	EventTargetUpdated    AuditEvent = "target_updated"

	// Notifications
	EventNotificationSent   AuditEvent = "notification_sent"
	EventNotificationFailed AuditEvent = "notification_failed"
)

// Store persists audit events per user.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByUser(ctx context.Context, userID id.UserID) ([]Event, error)
}
