package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"watchtower/internal/device/models"
	"watchtower/internal/device/service"
	id "watchtower/pkg/domain"
	dErrors "watchtower/pkg/domain-errors"
	"watchtower/pkg/platform/httputil"
	"watchtower/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/device-mocks.go -package=mocks Service,TargetUpdater

// Service defines the device registry operations exposed over HTTP.
type Service interface {
	Register(ctx context.Context, userID id.UserID, in service.RegisterInput) (*models.Device, bool, error)
	ListDevices(ctx context.Context, userID id.UserID) ([]*models.Device, error)
	SetSelectedTarget(ctx context.Context, userID id.UserID, deviceID id.DeviceID) (*models.Target, error)
}

// TargetUpdater applies a selection change to a live session. When set, the
// selection route goes through it instead of the registry alone.
type TargetUpdater interface {
	UpdateTarget(ctx context.Context, userID id.UserID, deviceID id.DeviceID) (*models.Target, error)
}

// Handler wires device endpoints to the registry service.
type Handler struct {
	service  Service
	sessions TargetUpdater
	logger   *slog.Logger
}

func New(service Service, sessions TargetUpdater, logger *slog.Logger) *Handler {
	return &Handler{service: service, sessions: sessions, logger: logger}
}

// Register mounts device endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/devices", h.HandleList)
	r.Post("/devices", h.HandleRegister)
	r.Put("/devices/selected", h.HandleSelect)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	devices, err := h.service.ListDevices(ctx, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list devices",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", userID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDeviceList(devices))
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[RegisterRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	device, selected, err := h.service.Register(ctx, userID, service.RegisterInput{
		Name:      req.Name,
		Platform:  req.Platform,
		PushToken: req.PushToken,
		UserAgent: requestcontext.UserAgent(ctx),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "device registration failed",
			"request_id", requestID,
			"user_id", userID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, RegisterResponse{Device: toDeviceResponse(device), Selected: selected})
}

func (h *Handler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[SelectRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	var (
		target *models.Target
		err    error
	)
	if h.sessions != nil {
		target, err = h.sessions.UpdateTarget(ctx, userID, req.ParsedDeviceID())
	} else {
		target, err = h.service.SetSelectedTarget(ctx, userID, req.ParsedDeviceID())
	}
	if err != nil {
		h.logger.WarnContext(ctx, "device selection failed",
			"request_id", requestID,
			"user_id", userID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTargetResponse(target))
}

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (id.UserID, bool) {
	userID := requestcontext.UserID(r.Context())
	if userID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return id.UserID{}, false
	}
	return userID, true
}
