// Package audit exposes a user's own audit trail over HTTP.
package audit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	id "watchtower/pkg/domain"
	dErrors "watchtower/pkg/domain-errors"
	platformaudit "watchtower/pkg/platform/audit"
	"watchtower/pkg/platform/httputil"
	"watchtower/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/audit-mocks.go -package=mocks Lister

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Lister reads a user's audit events, oldest first.
type Lister interface {
	List(ctx context.Context, userID id.UserID) ([]platformaudit.Event, error)
}

type Handler struct {
	events Lister
	logger *slog.Logger
}

func New(events Lister, logger *slog.Logger) *Handler {
	return &Handler{events: events, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/me/activity", h.HandleActivity)
}

// HandleActivity returns the caller's most recent audit events. ?limit= caps
// the page size.
func (h *Handler) HandleActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	events, err := h.events.List(ctx, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list activity",
			"request_id", requestID,
			"user_id", userID.String(),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list activity"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toActivityResponse(events, limit))
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxLimit {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "limit must be between 1 and 500")
	}
	return n, nil
}
