package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(h gin.HandlerFunc, method, origin string) *httptest.ResponseRecorder {
	router := gin.New()
	router.Use(h)
	router.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(method, "/test", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHeadersMiddleware(t *testing.T) {
	w := serve(HeadersMiddleware(false), http.MethodGet, "")

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestHeadersMiddleware_HSTS(t *testing.T) {
	w := serve(HeadersMiddleware(true), http.MethodGet, "")
	assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=31536000")
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		allowedOrigins []string
		requestOrigin  string
		expectHeader   bool
		expectCreds    bool
	}{
		{"allowed origin", []string{"https://soc.example.com"}, "https://soc.example.com", true, true},
		{"wildcard allows all", []string{"*"}, "https://anything.com", true, false},
		{"empty list allows all", nil, "https://anything.com", true, false},
		{"disallowed origin", []string{"https://soc.example.com"}, "https://evil.com", false, false},
		{"no origin header", []string{"*"}, "", false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(CORSMiddleware(tc.allowedOrigins), http.MethodGet, tc.requestOrigin)
			assert.Equal(t, tc.expectHeader, w.Header().Get("Access-Control-Allow-Origin") != "")
			assert.Equal(t, tc.expectCreds, w.Header().Get("Access-Control-Allow-Credentials") == "true")
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	w := serve(CORSMiddleware([]string{"*"}), http.MethodOptions, "https://example.com")

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Methods"))
}

func TestParseOrigins(t *testing.T) {
	assert.Nil(t, ParseOrigins(""))
	assert.Equal(t, []string{"https://a.example", "https://b.example"},
		ParseOrigins(" https://a.example/ ,, https://b.example"))
}
