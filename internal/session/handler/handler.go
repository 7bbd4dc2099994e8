package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"watchtower/internal/device/models"
	"watchtower/internal/protocol"
	"watchtower/internal/protocol/simulated"
	"watchtower/internal/session"
	id "watchtower/pkg/domain"
	dErrors "watchtower/pkg/domain-errors"
	"watchtower/pkg/platform/httputil"
	"watchtower/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/session-mocks.go -package=mocks Service,DevDriver

// Service defines the supervisor operations exposed over HTTP.
type Service interface {
	StartSession(ctx context.Context, userID id.UserID) (session.Snapshot, error)
	StopSession(ctx context.Context, userID id.UserID) (session.StopResult, error)
	Snapshot(userID id.UserID) session.Snapshot
	UpdateTarget(ctx context.Context, userID id.UserID, deviceID id.DeviceID) (*models.Target, error)
}

// DevDriver steers the simulated protocol driver in local runs.
type DevDriver interface {
	Approve(userID id.UserID) error
	Deliver(userID id.UserID, msg protocol.Message) error
}

type Handler struct {
	service Service
	dev     DevDriver
	logger  *slog.Logger
}

// New builds the session handler. dev may be nil, in which case the dev routes
// are not mounted.
func New(service Service, dev DevDriver, logger *slog.Logger) *Handler {
	return &Handler{service: service, dev: dev, logger: logger}
}

// Register mounts session endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/sessions/start", h.HandleStart)
	r.Post("/sessions/stop", h.HandleStop)
	r.Get("/sessions/status", h.HandleStatus)
	r.Put("/sessions/target", h.HandleUpdateTarget)

	if h.dev != nil {
		r.Post("/dev/sessions/approve", h.HandleDevApprove)
		r.Post("/dev/sessions/messages", h.HandleDevMessage)
	}
}

func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	snap, err := h.service.StartSession(ctx, userID)
	if err != nil {
		h.logger.WarnContext(ctx, "session start failed",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", userID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, toStatusResponse(snap))
}

func (h *Handler) HandleStop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	result, err := h.service.StopSession(ctx, userID)
	if err != nil {
		h.logger.WarnContext(ctx, "session stop failed",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", userID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if result == session.StopQueued {
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, StopResponse{
		Result: string(result),
		State:  string(h.service.Snapshot(userID).State),
	})
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toStatusResponse(h.service.Snapshot(userID)))
}

func (h *Handler) HandleUpdateTarget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[UpdateTargetRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	target, err := h.service.UpdateTarget(ctx, userID, req.ParsedDeviceID())
	if err != nil {
		h.logger.WarnContext(ctx, "session target update failed",
			"request_id", requestID,
			"user_id", userID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, TargetResponse{DeviceID: target.DeviceID.String(), Name: target.Name})
}

func (h *Handler) HandleDevApprove(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	if err := h.dev.Approve(userID); err != nil {
		httputil.WriteError(w, devError(err))
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, toStatusResponse(h.service.Snapshot(userID)))
}

func (h *Handler) HandleDevMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[DevMessageRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := h.dev.Deliver(userID, req.Message()); err != nil {
		httputil.WriteError(w, devError(err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func devError(err error) error {
	switch {
	case errors.Is(err, simulated.ErrNoClient):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "no simulated client for this user")
	case errors.Is(err, simulated.ErrWrongPhase), errors.Is(err, simulated.ErrClientClosed):
		return dErrors.Wrap(err, dErrors.CodeConflict, "simulated client cannot do that in its current phase")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "simulated driver failed")
	}
}

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (id.UserID, bool) {
	userID := requestcontext.UserID(r.Context())
	if userID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return id.UserID{}, false
	}
	return userID, true
}
