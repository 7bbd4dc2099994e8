// Package admin serves the operator view of live sessions. Routes are mounted
// behind the admin token middleware.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"watchtower/internal/admin/types"
	id "watchtower/pkg/domain"
	dErrors "watchtower/pkg/domain-errors"
	"watchtower/pkg/platform/httputil"
	"watchtower/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/admin-mocks.go -package=mocks SessionStore

type SessionStore interface {
	ListAll(ctx context.Context) ([]*types.AdminSession, error)
	Get(ctx context.Context, userID id.UserID) (*types.AdminSession, bool, error)
}

type Handler struct {
	sessions SessionStore
	logger   *slog.Logger
}

func New(sessions SessionStore, logger *slog.Logger) *Handler {
	return &Handler{sessions: sessions, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/sessions", h.HandleListSessions)
	r.Get("/admin/sessions/{user_id}", h.HandleGetSession)
}

// HandleListSessions lists held session records, optionally filtered by ?state=.
func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessions, err := h.sessions.ListAll(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list sessions",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list sessions"))
		return
	}

	state := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("state")))
	resp := SessionsListResponse{Sessions: make([]*SessionInfoResponse, 0, len(sessions))}
	for _, s := range sessions {
		if state != "" && s.State != state {
			continue
		}
		resp.Sessions = append(resp.Sessions, toSessionInfo(s))
	}
	resp.Total = len(resp.Sessions)
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "user_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	s, ok, err := h.sessions.Get(ctx, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to load session",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", userID.String(),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session"))
		return
	}
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no session held for this user"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSessionInfo(s))
}
