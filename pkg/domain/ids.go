// Package domain holds typed identifiers shared across packages.
//
// Typed IDs keep a user identity from being passed where a device or subscriber
// id is expected. All of them are UUIDs; parsing happens at trust boundaries.
package domain

import (
	"github.com/google/uuid"

	dErrors "watchtower/pkg/domain-errors"
)

// UserID is the verified identity that scopes a session, its subscribers and its target.
type UserID uuid.UUID

// DeviceID identifies a registered notification device.
type DeviceID uuid.UUID

// SubscriberID identifies one realtime connection.
type SubscriberID uuid.UUID

func (id UserID) String() string       { return uuid.UUID(id).String() }
func (id DeviceID) String() string     { return uuid.UUID(id).String() }
func (id SubscriberID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id DeviceID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// NewUserID generates a random user id. Only tooling mints identities.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewDeviceID generates a random device id.
func NewDeviceID() DeviceID { return DeviceID(uuid.New()) }

// NewSubscriberID generates a random subscriber id.
func NewSubscriberID() SubscriberID { return SubscriberID(uuid.New()) }

// ParseUserID parses a non-nil UUID.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user_id")
	return UserID(u), err
}

// ParseDeviceID parses a non-nil UUID.
func ParseDeviceID(s string) (DeviceID, error) {
	u, err := parseUUID(s, "device_id")
	return DeviceID(u), err
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	return u, nil
}

func (id UserID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id DeviceID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *UserID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id *DeviceID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}
