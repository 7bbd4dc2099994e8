// Package session supervises one messaging protocol session per user: it owns
// the session records, folds each client's event stream into a lifecycle
// state, fans state and messages out to realtime subscribers and routes
// matching messages to the notification backend.
package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"watchtower/internal/device/models"
	"watchtower/internal/protocol"
	id "watchtower/pkg/domain"
)

var (
	ErrAlreadyActive  = errors.New("session already active")
	ErrNotActive      = errors.New("no active session")
	ErrNoTarget       = errors.New("no notification target configured")
	ErrStopInProgress = errors.New("stop already in progress")
	ErrRouterClosed   = errors.New("message routing has shut down")
)

// Realtime event names.
const (
	EventStatus            = "status"
	EventQR                = "qr"
	EventMessage           = "message"
	EventNotificationSent  = "notification_sent"
	EventNotificationError = "notification_error"
	EventSessionError      = "session_error"
)

// Publisher fans an event out to the subscribers of one identity.
type Publisher interface {
	Publish(userID id.UserID, event string, payload any)
}

type StatusPayload struct {
	State  State  `json:"state"`
	Reason string `json:"reason,omitempty"`
}

type QRPayload struct {
	QR string `json:"qr"`
}

type NotificationSentPayload struct {
	MessageID string `json:"message_id"`
	DeviceID  string `json:"device_id"`
	Backend   string `json:"backend"`
	ReceiptID string `json:"receipt_id"`
	Degraded  bool   `json:"degraded,omitempty"`
}

type NotificationErrorPayload struct {
	MessageID string `json:"message_id"`
	DeviceID  string `json:"device_id"`
	Error     string `json:"error"`
}

type SessionErrorPayload struct {
	State State  `json:"state"`
	Error string `json:"error"`
}

// Envelope is one named event with its payload.
type Envelope struct {
	Event   string
	Payload any
}

// Replay returns the events that bring a newly joined subscriber up to date:
// the state, followed by the challenge while one is pending.
func (s Snapshot) Replay() []Envelope {
	out := []Envelope{{Event: EventStatus, Payload: StatusPayload{State: s.State, Reason: s.Reason}}}
	if s.State == StateScanQR && s.Challenge != "" {
		out = append(out, Envelope{Event: EventQR, Payload: QRPayload{QR: s.Challenge}})
	}
	return out
}

// Session is the record for one identity. Fields below the client are guarded
// by the identity's registry slot; the snapshot is safe to read at any time.
type Session struct {
	userID    id.UserID
	client    protocol.Client
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	machine     Machine
	target      *models.Target
	initialized bool
	stopQueued  bool
	stopping    bool

	snapshot atomic.Pointer[Snapshot]
}

func newSession(userID id.UserID, client protocol.Client, target *models.Target, now time.Time) *Session {
	s := &Session{
		userID:    userID,
		client:    client,
		startedAt: now,
		done:      make(chan struct{}),
		machine:   NewMachine(),
		target:    target,
	}
	s.storeSnapshot("", now)
	return s
}

func (s *Session) UserID() id.UserID { return s.userID }

func (s *Session) StartedAt() time.Time { return s.startedAt }

// Snapshot returns the last published view of the session.
func (s *Session) Snapshot() Snapshot { return *s.snapshot.Load() }

// Done is closed once the session's event stream has been drained.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) storeSnapshot(reason string, now time.Time) {
	s.snapshot.Store(&Snapshot{
		UserID:    s.userID,
		State:     s.machine.State(),
		Challenge: s.machine.Challenge(),
		Reason:    reason,
		UpdatedAt: now,
	})
}

// targetCopy returns the selected target; the caller holds the slot.
func (s *Session) targetCopy() *models.Target {
	if s.target == nil {
		return nil
	}
	cp := *s.target
	return &cp
}
