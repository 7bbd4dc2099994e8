package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mssola/useragent"
	"golang.org/x/sync/singleflight"

	"watchtower/internal/device/models"
	id "watchtower/pkg/domain"
	dErrors "watchtower/pkg/domain-errors"
	"watchtower/pkg/platform/audit"
	"watchtower/pkg/platform/sentinel"
	"watchtower/pkg/requestcontext"
)

type Store interface {
	Save(ctx context.Context, device *models.Device) error
	FindByID(ctx context.Context, userID id.UserID, deviceID id.DeviceID) (*models.Device, error)
	ListByUser(ctx context.Context, userID id.UserID) ([]*models.Device, error)
	SetSelected(ctx context.Context, userID id.UserID, deviceID id.DeviceID) error
	FindSelected(ctx context.Context, userID id.UserID) (*models.Device, error)
	SaveAndSelectIfNone(ctx context.Context, device *models.Device) (bool, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// RegisterInput carries the client supplied registration fields.
type RegisterInput struct {
	Name      string
	Platform  string
	PushToken string
	UserAgent string
}

// Service is the device registry: it maps a user to registered devices and the
// one selected as notification target.
type Service struct {
	store          Store
	logger         *slog.Logger
	auditPublisher AuditPublisher
	lookups        singleflight.Group
	now            func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register stores a new device. The first device a user registers becomes the
// selected target. Missing name and platform are derived from the User-Agent.
func (s *Service) Register(ctx context.Context, userID id.UserID, in RegisterInput) (*models.Device, bool, error) {
	name, platform := in.Name, in.Platform
	if in.UserAgent != "" {
		uaName, uaPlatform := describeUserAgent(in.UserAgent)
		if strings.TrimSpace(name) == "" {
			name = uaName
		}
		if platform == "" {
			platform = uaPlatform
		}
	}

	device, err := models.NewDevice(id.NewDeviceID(), userID, name, platform, in.PushToken, s.now())
	if err != nil {
		return nil, false, err
	}

	selected, err := s.store.SaveAndSelectIfNone(ctx, device)
	if err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to register device")
	}

	s.logger.InfoContext(ctx, "device registered",
		"user_id", userID.String(),
		"device_id", device.ID.String(),
		"selected", selected,
	)
	s.emitAudit(ctx, audit.EventDeviceRegistered, userID, device.ID.String())
	if selected {
		s.emitAudit(ctx, audit.EventTargetUpdated, userID, device.ID.String())
	}
	return device, selected, nil
}

func (s *Service) ListDevices(ctx context.Context, userID id.UserID) ([]*models.Device, error) {
	devices, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list devices")
	}
	return devices, nil
}

// SelectedTarget returns the user's selected target, or nil when none is
// configured. Concurrent lookups for the same user share one store read.
func (s *Service) SelectedTarget(ctx context.Context, userID id.UserID) (*models.Target, error) {
	v, err, _ := s.lookups.Do(userID.String(), func() (any, error) {
		device, err := s.store.FindSelected(ctx, userID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return (*models.Target)(nil), nil
		}
		if err != nil {
			return nil, err
		}
		return device.Target(), nil
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve notification target")
	}
	target := v.(*models.Target)
	if target == nil {
		return nil, nil
	}
	cp := *target
	return &cp, nil
}

// SetSelectedTarget selects one of the user's registered devices.
func (s *Service) SetSelectedTarget(ctx context.Context, userID id.UserID, deviceID id.DeviceID) (*models.Target, error) {
	device, err := s.store.FindByID(ctx, userID, deviceID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "device not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load device")
	}
	if err := s.store.SetSelected(ctx, userID, deviceID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "device not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to select device")
	}
	s.logger.InfoContext(ctx, "notification target selected",
		"user_id", userID.String(),
		"device_id", deviceID.String(),
	)
	s.emitAudit(ctx, audit.EventTargetUpdated, userID, deviceID.String())
	return device.Target(), nil
}

func (s *Service) emitAudit(ctx context.Context, event audit.AuditEvent, userID id.UserID, subject string) {
	if s.auditPublisher == nil {
		return
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		UserID:    userID,
		Action:    string(event),
		Subject:   subject,
		RequestID: requestcontext.RequestID(ctx),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"action", string(event),
			"error", err,
		)
	}
}

func describeUserAgent(raw string) (string, string) {
	ua := useragent.New(raw)
	browser, _ := ua.Browser()
	name := browser
	if os := ua.OS(); os != "" {
		name = fmt.Sprintf("%s on %s", browser, os)
	}
	platform := models.PlatformDesktop
	if ua.Mobile() {
		platform = models.PlatformMobile
	}
	if ua.Bot() {
		platform = models.PlatformUnknown
	}
	return strings.TrimSpace(name), platform
}
