package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"watchtower/pkg/requestcontext"
)

func TestClientIPFromRequest(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		expected   string
	}{
		{name: "remote addr", remoteAddr: "192.0.2.10:5123", expected: "192.0.2.10"},
		{name: "ipv6 remote addr", remoteAddr: "[2001:db8::1]:443", expected: "2001:db8::1"},
		{name: "remote addr without port", remoteAddr: "192.0.2.10", expected: "192.0.2.10"},
		{name: "empty remote addr", remoteAddr: "", expected: "unknown"},
		{
			name:       "first forwarded hop",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": " 203.0.113.5 , 10.0.0.1"},
			expected:   "203.0.113.5",
		},
		{
			name:       "real ip when forwarded is blank",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": " ,10.0.0.1", "X-Real-IP": "198.51.100.7"},
			expected:   "198.51.100.7",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, ClientIPFromRequest(req))
		})
	}
}

func TestClientMetadata_StoresValues(t *testing.T) {
	var ip, ua string
	h := ClientMetadata(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ip = requestcontext.ClientIP(r.Context())
		ua = requestcontext.UserAgent(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/devices", nil)
	req.RemoteAddr = "192.0.2.44:9000"
	req.Header.Set("User-Agent", "Mozilla/5.0 (Linux; Android 14)")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "192.0.2.44", ip)
	assert.Equal(t, "Mozilla/5.0 (Linux; Android 14)", ua)
}
