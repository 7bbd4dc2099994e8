// Package notify delivers push notifications for routed messages to a user's
// selected device through a pluggable backend.
package notify

import (
	"context"
	"time"

	"watchtower/internal/device/models"
	id "watchtower/pkg/domain"
)

// Notification is the payload built by the router from a rule and a message.
type Notification struct {
	UserID    id.UserID `json:"user_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	MessageID string    `json:"message_id,omitempty"`
	From      string    `json:"from,omitempty"`
	Rule      string    `json:"rule,omitempty"`
}

// Receipt acknowledges a delivery.
type Receipt struct {
	Backend     string    `json:"backend"`
	ID          string    `json:"id"`
	DeliveredAt time.Time `json:"delivered_at"`
	// Degraded is set when the primary backend failed and a fallback accepted the notification.
	Degraded bool `json:"degraded,omitempty"`
}

// Sender is a delivery backend.
type Sender interface {
	Name() string
	Send(ctx context.Context, target models.Target, n Notification) (Receipt, error)
}

// message is the wire shape shared by the webhook, kafka and outbox backends.
type message struct {
	ID           string       `json:"id"`
	Target       wireTarget   `json:"target"`
	Notification Notification `json:"notification"`
	CreatedAt    time.Time    `json:"created_at"`
}

type wireTarget struct {
	DeviceID  string `json:"device_id"`
	PushToken string `json:"push_token"`
}

func newMessage(messageID string, target models.Target, n Notification, now time.Time) message {
	return message{
		ID:           messageID,
		Target:       wireTarget{DeviceID: target.DeviceID.String(), PushToken: target.PushToken},
		Notification: n,
		CreatedAt:    now,
	}
}
