package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func extractIPFor(t *testing.T, remoteAddr string, headers map[string]string) string {
	t.Helper()
	var got string
	r := gin.New()
	r.GET("/", func(c *gin.Context) {
		got = ExtractClientIP(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{
			name:    "forwarded-for first hop wins",
			remote:  "10.0.0.1:4321",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.2", "X-Real-IP": "198.51.100.9"},
			want:    "203.0.113.7",
		},
		{
			name:    "real-ip when no forwarded-for",
			remote:  "10.0.0.1:4321",
			headers: map[string]string{"X-Real-IP": "198.51.100.9"},
			want:    "198.51.100.9",
		},
		{
			name:   "direct connection fallback",
			remote: "192.0.2.50:9999",
			want:   "192.0.2.50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractIPFor(t, tt.remote, tt.headers); got != tt.want {
				t.Errorf("ExtractClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
