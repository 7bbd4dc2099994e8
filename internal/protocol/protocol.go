// Package protocol defines the contract between the session supervisor and a
// messaging protocol client. A client reports its handshake and inbound
// messages as a stream of events; drivers live in subpackages.
package protocol

import (
	"context"
	"errors"
	"time"

	id "watchtower/pkg/domain"
)

// Kind tags an Event.
type Kind int

const (
	KindChallenge Kind = iota + 1
	KindAuthenticated
	KindReady
	KindAuthFailure
	KindDisconnected
	KindMessage
)

func (k Kind) String() string {
	switch k {
	case KindChallenge:
		return "challenge"
	case KindAuthenticated:
		return "authenticated"
	case KindReady:
		return "ready"
	case KindAuthFailure:
		return "auth_failure"
	case KindDisconnected:
		return "disconnected"
	case KindMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Message is an inbound content event.
type Message struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	SenderName string    `json:"sender_name,omitempty"`
	Body       string    `json:"body"`
	Timestamp  time.Time `json:"timestamp"`
}

// Event is one item of a client's event stream. Challenge is set for
// KindChallenge, Reason for KindAuthFailure and KindDisconnected, Message for
// KindMessage.
type Event struct {
	Kind      Kind
	Challenge string
	Reason    string
	Message   *Message
}

// IsLifecycle reports whether the event affects session state.
func (e Event) IsLifecycle() bool {
	return e.Kind != KindMessage
}

// Client is one protocol connection owned by a single session.
//
// Events is closed by the client once it will emit nothing further. Initialize
// may block until the connection is established; failure is reported through
// its error. The context passed to Initialize bounds the connection: when it
// ends, the client abandons any handshake, drops the link without logging out,
// stops emitting and closes Events, even if Initialize has already returned.
// Logout ends the connection and revokes the pairing.
type Client interface {
	Events() <-chan Event
	Initialize(ctx context.Context) error
	Logout(ctx context.Context) error
}

// Replier is implemented by clients that can answer an inbound message.
type Replier interface {
	Reply(ctx context.Context, to Message, body string) error
}

// Factory creates a fresh client for a user. Each session start gets a new client.
type Factory interface {
	NewClient(userID id.UserID) (Client, error)
}

// ErrNotLoggable is returned by Logout when the client has not authenticated yet
// and cannot be logged out until it does.
var ErrNotLoggable = errors.New("protocol: client not logged in yet")
