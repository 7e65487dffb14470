package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{
			name:       "RemoteAddr port stripped",
			remoteAddr: "192.0.2.10:54321",
			want:       "192.0.2.10",
		},
		{
			name:       "RemoteAddr without port",
			remoteAddr: "192.0.2.10",
			want:       "192.0.2.10",
		},
		{
			name:       "X-Forwarded-For ignored",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.195"},
			remoteAddr: "10.0.0.1:1234",
			want:       "10.0.0.1",
		},
		{
			name:       "X-Real-IP ignored",
			headers:    map[string]string{"X-Real-IP": "198.51.100.7"},
			remoteAddr: "10.0.0.1:1234",
			want:       "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetClientIP(req))
		})
	}
}

func TestGetClientIP_FromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req = req.WithContext(WithClientIP(req.Context(), "203.0.113.9"))
	assert.Equal(t, "203.0.113.9", GetClientIP(req))
}

func TestTrustedProxies_ClientIP(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.168.1.5", " "})
	require.NoError(t, err)
	assert.Equal(t, 2, trusted.Len())

	tests := []struct {
		name       string
		remoteAddr string
		xff        []string
		realIP     string
		want       string
	}{
		{
			name:       "untrusted peer ignores headers",
			remoteAddr: "203.0.113.50:4000",
			xff:        []string{"198.51.100.1"},
			realIP:     "198.51.100.2",
			want:       "203.0.113.50",
		},
		{
			name:       "trusted peer single hop",
			remoteAddr: "10.1.2.3:4000",
			xff:        []string{"198.51.100.1"},
			want:       "198.51.100.1",
		},
		{
			name:       "spoofed leftmost entry skipped",
			remoteAddr: "10.1.2.3:4000",
			xff:        []string{"1.2.3.4, 198.51.100.1"},
			want:       "198.51.100.1",
		},
		{
			name:       "trusted hops walked",
			remoteAddr: "10.1.2.3:4000",
			xff:        []string{"198.51.100.1, 192.168.1.5", "10.9.9.9"},
			want:       "198.51.100.1",
		},
		{
			name:       "all hops trusted",
			remoteAddr: "10.1.2.3:4000",
			xff:        []string{"10.0.0.7, 10.0.0.8"},
			want:       "10.0.0.7",
		},
		{
			name:       "garbage hop stops the walk",
			remoteAddr: "10.1.2.3:4000",
			xff:        []string{"not-an-ip"},
			want:       "10.1.2.3",
		},
		{
			name:       "X-Real-IP from trusted peer",
			remoteAddr: "192.168.1.5:4000",
			realIP:     "198.51.100.7",
			want:       "198.51.100.7",
		},
		{
			name:       "invalid X-Real-IP",
			remoteAddr: "192.168.1.5:4000",
			realIP:     "bogus",
			want:       "192.168.1.5",
		},
		{
			name:       "ipv4-mapped peer",
			remoteAddr: "[::ffff:10.0.0.1]:4000",
			xff:        []string{"198.51.100.1"},
			want:       "198.51.100.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for _, v := range tt.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, trusted.ClientIP(req))
		})
	}
}

func TestTrustedProxies_Nil(t *testing.T) {
	var trusted *TrustedProxies
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.195")
	assert.Equal(t, "10.0.0.1", trusted.ClientIP(req))
	assert.Zero(t, trusted.Len())
}

func TestParseTrustedProxies_Invalid(t *testing.T) {
	_, err := ParseTrustedProxies([]string{"10.0.0.0/33"})
	assert.Error(t, err)
	_, err = ParseTrustedProxies([]string{"proxy.internal"})
	assert.Error(t, err)
}

func TestParseIntParam(t *testing.T) {
	assert.Equal(t, 50, ParseIntParam("", 50))
	assert.Equal(t, 10, ParseIntParam("10", 50))
	assert.Equal(t, 50, ParseIntParam("abc", 50))
	assert.Equal(t, 50, ParseIntParam("-3", 50))
	assert.Equal(t, 50, ParseIntParam("0", 50))
}

func TestWriteStatusError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteStatusError(w, http.StatusBadRequest, "Invalid Payload Structure")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "Invalid Payload Structure", body["message"])
}
