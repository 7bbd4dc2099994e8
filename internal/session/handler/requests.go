package handler

import (
	"strings"
	"time"

	"watchtower/internal/protocol"
	"watchtower/internal/session"
	id "watchtower/pkg/domain"
	dErrors "watchtower/pkg/domain-errors"
)

const maxDevMessageBody = 4096

// UpdateTargetRequest is the body of PUT /sessions/target.
type UpdateTargetRequest struct {
	DeviceID string `json:"device_id"`

	parsedDeviceID id.DeviceID
}

func (r *UpdateTargetRequest) Validate() error {
	deviceID, err := id.ParseDeviceID(strings.TrimSpace(r.DeviceID))
	if err != nil {
		return err
	}
	r.parsedDeviceID = deviceID
	return nil
}

func (r *UpdateTargetRequest) ParsedDeviceID() id.DeviceID {
	return r.parsedDeviceID
}

// DevMessageRequest injects an inbound message through the simulated driver.
type DevMessageRequest struct {
	From       string `json:"from"`
	SenderName string `json:"sender_name"`
	Body       string `json:"body"`
}

func (r *DevMessageRequest) Validate() error {
	r.From = strings.TrimSpace(r.From)
	r.SenderName = strings.TrimSpace(r.SenderName)
	if r.From == "" {
		return dErrors.New(dErrors.CodeValidation, "from is required")
	}
	if r.Body == "" {
		return dErrors.New(dErrors.CodeValidation, "body is required")
	}
	if len(r.Body) > maxDevMessageBody {
		return dErrors.New(dErrors.CodeValidation, "body is too long")
	}
	return nil
}

func (r *DevMessageRequest) Message() protocol.Message {
	return protocol.Message{From: r.From, SenderName: r.SenderName, Body: r.Body}
}

type StatusResponse struct {
	State     string     `json:"state"`
	QR        string     `json:"qr,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type StopResponse struct {
	Result string `json:"result"`
	State  string `json:"state"`
}

type TargetResponse struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
}

func toStatusResponse(s session.Snapshot) StatusResponse {
	resp := StatusResponse{State: string(s.State), QR: s.Challenge, Reason: s.Reason}
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt
		resp.UpdatedAt = &t
	}
	return resp
}
