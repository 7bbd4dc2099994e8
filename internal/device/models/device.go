package models

import (
	"strings"
	"time"

	id "watchtower/pkg/domain"
	dErrors "watchtower/pkg/domain-errors"
)

const (
	maxNameLength      = 128
	maxPushTokenLength = 4096

	PlatformMobile  = "mobile"
	PlatformDesktop = "desktop"
	PlatformUnknown = "unknown"
)

// Device is a registered push delivery endpoint owned by one user.
type Device struct {
	ID        id.DeviceID `json:"id"`
	UserID    id.UserID   `json:"user_id"`
	Name      string      `json:"name"`
	Platform  string      `json:"platform"`
	PushToken string      `json:"push_token"`
	CreatedAt time.Time   `json:"created_at"`
}

// Target is the handle the notification backend delivers to. A session keeps
// its own copy so a target change does not race with in-flight routing.
type Target struct {
	DeviceID  id.DeviceID `json:"device_id"`
	Name      string      `json:"name"`
	PushToken string      `json:"push_token"`
}

// NewDevice validates the registration fields.
func NewDevice(deviceID id.DeviceID, userID id.UserID, name, platform, pushToken string, now time.Time) (*Device, error) {
	name = strings.TrimSpace(name)
	pushToken = strings.TrimSpace(pushToken)
	if pushToken == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "push_token is required")
	}
	if len(pushToken) > maxPushTokenLength {
		return nil, dErrors.New(dErrors.CodeValidation, "push_token is too long")
	}
	if len(name) > maxNameLength {
		return nil, dErrors.New(dErrors.CodeValidation, "name must be at most 128 characters")
	}
	if name == "" {
		name = "Unnamed device"
	}
	switch platform {
	case PlatformMobile, PlatformDesktop:
	default:
		platform = PlatformUnknown
	}
	return &Device{
		ID:        deviceID,
		UserID:    userID,
		Name:      name,
		Platform:  platform,
		PushToken: pushToken,
		CreatedAt: now,
	}, nil
}

// Target returns the delivery handle for this device.
func (d *Device) Target() *Target {
	return &Target{DeviceID: d.ID, Name: d.Name, PushToken: d.PushToken}
}
