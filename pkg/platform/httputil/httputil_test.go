package httputil

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "watchtower/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "logout failed"))

		require.Equal(t, http.StatusInternalServerError, w.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "internal_error", body["error"])
		_, ok := body["error_description"]
		assert.False(t, ok)
	})

	t.Run("conflict includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeConflict, "session already active"))

		require.Equal(t, http.StatusConflict, w.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "conflict", body["error"])
		assert.Equal(t, "session already active", body["error_description"])
	})

	t.Run("precondition failed maps to 412", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodePreconditionFailed, "no notification target configured"))
		assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	})
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		DeviceID string `json:"device_id"`
	}

	t.Run("decodes body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"device_id":"abc"}`))
		v, err := DecodeJSON[payload](r)
		require.NoError(t, err)
		assert.Equal(t, "abc", v.DeviceID)
	})

	t.Run("empty body yields zero value", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(""))
		v, err := DecodeJSON[payload](r)
		require.NoError(t, err)
		assert.Empty(t, v.DeviceID)
	})

	t.Run("malformed body is invalid_request", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPut, "/", strings.NewReader("{bad-json"))
		_, err := DecodeJSON[payload](r)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidRequest))
	})
}

type targetRequest struct {
	DeviceID string `json:"device_id"`
}

func (r *targetRequest) Validate() error {
	if r.DeviceID == "" {
		return dErrors.New(dErrors.CodeValidation, "device_id is required")
	}
	return nil
}

func TestDecodeAndPrepare(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("valid body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"device_id":"d1"}`))
		w := httptest.NewRecorder()
		req, ok := DecodeAndPrepare[targetRequest](w, r, logger, r.Context(), "req-1")
		require.True(t, ok)
		assert.Equal(t, "d1", req.DeviceID)
	})

	t.Run("validation failure writes 400", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{}`))
		w := httptest.NewRecorder()
		_, ok := DecodeAndPrepare[targetRequest](w, r, logger, r.Context(), "req-2")
		require.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
