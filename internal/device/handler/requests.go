package handler

import (
	"strings"
	"time"

	"watchtower/internal/device/models"
	id "watchtower/pkg/domain"
	dErrors "watchtower/pkg/domain-errors"
)

// RegisterRequest is the HTTP request body for POST /devices.
type RegisterRequest struct {
	Name      string `json:"name"`
	Platform  string `json:"platform"`
	PushToken string `json:"push_token"`
}

// Validate implements httputil.Validatable.
func (r *RegisterRequest) Validate() error {
	r.PushToken = strings.TrimSpace(r.PushToken)
	if r.PushToken == "" {
		return dErrors.New(dErrors.CodeValidation, "push_token is required")
	}
	r.Platform = strings.ToLower(strings.TrimSpace(r.Platform))
	return nil
}

// SelectRequest is the HTTP request body for PUT /devices/selected.
type SelectRequest struct {
	DeviceID string `json:"device_id"`

	parsedDeviceID id.DeviceID
}

func (r *SelectRequest) Validate() error {
	deviceID, err := id.ParseDeviceID(strings.TrimSpace(r.DeviceID))
	if err != nil {
		return err
	}
	r.parsedDeviceID = deviceID
	return nil
}

func (r *SelectRequest) ParsedDeviceID() id.DeviceID {
	return r.parsedDeviceID
}

type DeviceResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"created_at"`
}

type RegisterResponse struct {
	Device   DeviceResponse `json:"device"`
	Selected bool           `json:"selected"`
}

type DeviceListResponse struct {
	Devices []DeviceResponse `json:"devices"`
}

type TargetResponse struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
}

// push tokens are credentials for the delivery backend and never leave the server.
func toDeviceResponse(d *models.Device) DeviceResponse {
	return DeviceResponse{
		ID:        d.ID.String(),
		Name:      d.Name,
		Platform:  d.Platform,
		CreatedAt: d.CreatedAt,
	}
}

func toDeviceList(devices []*models.Device) DeviceListResponse {
	out := DeviceListResponse{Devices: make([]DeviceResponse, 0, len(devices))}
	for _, d := range devices {
		out.Devices = append(out.Devices, toDeviceResponse(d))
	}
	return out
}

func toTargetResponse(t *models.Target) TargetResponse {
	return TargetResponse{DeviceID: t.DeviceID.String(), Name: t.Name}
}
