package auth

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	id "watchtower/pkg/domain"
	"watchtower/pkg/requestcontext"
)

type stubVerifier struct {
	userID id.UserID
	err    error
}

func (v stubVerifier) Verify(string) (id.UserID, error) { return v.userID, v.err }

func TestRequireAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	userID := id.UserID(uuid.New())

	var seen id.UserID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("missing header is rejected", func(t *testing.T) {
		rr := httptest.NewRecorder()
		RequireAuth(stubVerifier{userID: userID}, logger)(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), `"error":"unauthorized"`)
	})

	t.Run("invalid token is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer bad")
		rr := httptest.NewRecorder()
		RequireAuth(stubVerifier{err: errors.New("bad signature")}, logger)(next).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("valid token stores identity", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer good")
		rr := httptest.NewRecorder()
		RequireAuth(stubVerifier{userID: userID}, logger)(next).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, userID, seen)
	})
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	token, ok := TokenFromRequest(req)
	assert.True(t, ok)
	assert.Equal(t, "from-query", token)

	req.Header.Set("Authorization", "Bearer from-header")
	token, ok = TokenFromRequest(req)
	assert.True(t, ok)
	assert.Equal(t, "from-header", token)

	_, ok = TokenFromRequest(httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.False(t, ok)
}
