package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower/internal/platform/config"
	"watchtower/internal/platform/metrics"
	id "watchtower/pkg/domain"
)

type testApp struct {
	app     *app
	handler http.Handler
}

func newTestApp(t *testing.T, mutate func(*config.Server)) *testApp {
	t.Helper()
	cfg, err := config.FromEnv()
	require.NoError(t, err)
	if mutate != nil {
		mutate(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	ctx := context.Background()
	in, err := openInfra(ctx, cfg)
	require.NoError(t, err)

	a, err := newApp(ctx, cfg, logger, metrics.New(reg), in)
	require.NoError(t, err)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, a.shutdown(shutdownCtx))
		in.Close()
	})
	return &testApp{app: a, handler: a.routes(reg)}
}

func (ta *testApp) do(t *testing.T, method, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	ta.handler.ServeHTTP(rr, req)
	return rr
}

func (ta *testApp) bearer(t *testing.T, userID id.UserID) http.Header {
	t.Helper()
	token, err := ta.app.verifier.IssueToken(userID, time.Hour)
	require.NoError(t, err)
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func TestRoutes_PublicEndpoints(t *testing.T) {
	ta := newTestApp(t, nil)

	rr := ta.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = ta.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "watchtower_sessions_active")

	rr = ta.do(t, http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestRoutes_SessionLifecycleOverHTTP(t *testing.T) {
	ta := newTestApp(t, nil)
	userID := id.NewUserID()
	auth := ta.bearer(t, userID)

	rr := ta.do(t, http.MethodGet, "/sessions/status", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ta.do(t, http.MethodGet, "/sessions/status", auth)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"DISCONNECTED"`)

	rr = ta.do(t, http.MethodPost, "/sessions/start", auth)
	assert.Equal(t, http.StatusPreconditionFailed, rr.Code, "no device registered yet")

	req := httptest.NewRequest(http.MethodPost, "/devices", strings.NewReader(`{"name":"phone","platform":"android","push_token":"tok"}`))
	req.Header = auth.Clone()
	req.Header.Set("Content-Type", "application/json")
	created := httptest.NewRecorder()
	ta.handler.ServeHTTP(created, req)
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())

	rr = ta.do(t, http.MethodPost, "/sessions/start", auth)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	require.Eventually(t, func() bool {
		return ta.app.supervisor.CurrentState(userID).String() == "SCAN_QR"
	}, 2*time.Second, 5*time.Millisecond)

	rr = ta.do(t, http.MethodPost, "/dev/sessions/approve", auth)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	require.Eventually(t, func() bool {
		return ta.app.supervisor.CurrentState(userID).String() == "READY"
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		rr := ta.do(t, http.MethodGet, "/me/activity", auth)
		return rr.Code == http.StatusOK && strings.Contains(rr.Body.String(), "device_registered")
	}, 2*time.Second, 10*time.Millisecond)

	rr = ta.do(t, http.MethodPost, "/sessions/stop", auth)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRoutes_AdminRequiresConfiguredToken(t *testing.T) {
	t.Run("unmounted without a token", func(t *testing.T) {
		ta := newTestApp(t, nil)
		rr := ta.do(t, http.MethodGet, "/admin/sessions", http.Header{"X-Admin-Token": []string{""}})
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("guarded with a token", func(t *testing.T) {
		ta := newTestApp(t, func(c *config.Server) { c.AdminToken = "ops" })

		rr := ta.do(t, http.MethodGet, "/admin/sessions", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)

		rr = ta.do(t, http.MethodGet, "/admin/sessions", http.Header{"X-Admin-Token": []string{"ops"}})
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"sessions":[],"total":0}`, rr.Body.String())
	})
}

func TestNewRules(t *testing.T) {
	t.Run("keywords", func(t *testing.T) {
		rules, err := newRules(config.Server{Routing: config.RoutingConfig{Keywords: []string{"fire"}, Title: "Alert"}})
		require.NoError(t, err)
		require.Len(t, rules, 1)
		_, ok := rules[0].Match("FIRE in the hall")
		assert.True(t, ok)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		require.NoError(t, os.WriteFile(path, []byte("rules:\n  - name: ops\n    keywords: [incident]\n"), 0o600))
		rules, err := newRules(config.Server{Routing: config.RoutingConfig{RulesFile: path}})
		require.NoError(t, err)
		assert.Equal(t, "ops", rules[0].Name)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := newRules(config.Server{Routing: config.RoutingConfig{RulesFile: "/nonexistent/rules.yaml"}})
		assert.Error(t, err)
	})
}

func TestRoutes_SessionControlIsRateLimited(t *testing.T) {
	ta := newTestApp(t, func(c *config.Server) { c.RateLimit.SessionControlPerMin = 1 })
	auth := ta.bearer(t, id.NewUserID())

	assert.Equal(t, http.StatusOK, ta.do(t, http.MethodGet, "/sessions/status", auth).Code)
	rr := ta.do(t, http.MethodGet, "/sessions/status", auth)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, ta.do(t, http.MethodGet, "/sessions/status", ta.bearer(t, id.NewUserID())).Code)
	assert.Equal(t, http.StatusOK, ta.do(t, http.MethodGet, "/devices", auth).Code, "other classes keep their own budget")
}
