package realtime

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	id "watchtower/pkg/domain"
	dErrors "watchtower/pkg/domain-errors"
	"watchtower/pkg/platform/httputil"
	"watchtower/pkg/platform/middleware/auth"
	"watchtower/pkg/requestcontext"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Verifier authenticates the subscription handshake.
type Verifier interface {
	Verify(token string) (id.UserID, error)
}

// Handler upgrades authenticated requests to websocket subscriptions.
type Handler struct {
	hub      *Hub
	verifier Verifier
	logger   *slog.Logger
	upgrader websocket.Upgrader
	buffer   int
	origins  map[string]bool
}

type HandlerOption func(*Handler)

// WithAllowedOrigins admits extra browser origins. Without it only requests
// whose Origin host matches the request host upgrade; others get 403.
// Clients that send no Origin (non-browser) are not checked.
func WithAllowedOrigins(origins []string) HandlerOption {
	return func(h *Handler) {
		for _, o := range origins {
			if o = strings.TrimSpace(o); o != "" {
				h.origins[o] = true
			}
		}
	}
}

func WithBufferSize(n int) HandlerOption {
	return func(h *Handler) {
		h.buffer = n
	}
}

func NewHandler(hub *Hub, verifier Verifier, logger *slog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		hub:      hub,
		verifier: verifier,
		logger:   logger,
		buffer:   defaultBufferSize,
		origins:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/ws", h.HandleSubscribe)
}

// HandleSubscribe verifies the bearer or ?token= credential before upgrading.
// Nothing is subscribed for a request that fails verification.
func (h *Handler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	token, ok := auth.TokenFromRequest(r)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing token"))
		return
	}
	userID, err := h.verifier.Verify(token)
	if err != nil {
		h.logger.WarnContext(ctx, "realtime handshake rejected",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(ctx, "websocket upgrade failed",
			"request_id", requestID,
			"user_id", userID.String(),
			"error", err,
		)
		return
	}

	sub := NewSubscriber(userID, h.buffer)
	h.hub.Subscribe(sub)
	h.logger.InfoContext(ctx, "realtime subscriber connected",
		"request_id", requestID,
		"user_id", userID.String(),
		"subscriber_id", sub.ID.String(),
	)

	go h.writePump(conn, sub)
	h.readPump(conn, sub)

	h.logger.InfoContext(ctx, "realtime subscriber disconnected",
		"request_id", requestID,
		"user_id", userID.String(),
		"subscriber_id", sub.ID.String(),
	)
}

// readPump discards client frames and detects disconnects.
func (h *Handler) readPump(conn *websocket.Conn, sub *Subscriber) {
	defer func() {
		h.hub.Unsubscribe(sub)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case frame, ok := <-sub.Frames():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if h.origins[origin] {
		return true
	}
	if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
		return true
	}
	return false
}
