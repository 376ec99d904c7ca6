// Package security provides HTTP hardening middleware.
package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// apiCSP allows nothing to load: every response is JSON or a WebSocket upgrade.
const apiCSP = "default-src 'none'; connect-src 'self' ws: wss:; frame-ancestors 'none'"

// HeadersMiddleware adds security headers to all responses. Strict-Transport-Security
// is only sent when hsts is set, since it pins browsers to HTTPS for a year.
func HeadersMiddleware(hsts bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Content-Security-Policy", apiCSP)
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		// Risk verdicts and alerts are per user.
		c.Header("Cache-Control", "no-store")

		if hsts {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

// ParseOrigins splits a comma separated origin list, dropping blanks.
func ParseOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, strings.TrimRight(o, "/"))
		}
	}
	return out
}

// CORSMiddleware handles CORS for API endpoints. An empty list allows any origin.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	originsMap := make(map[string]bool)
	for _, o := range allowedOrigins {
		originsMap[o] = true
	}
	wildcard := len(allowedOrigins) == 0 || originsMap["*"]

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		if origin != "" && (wildcard || originsMap[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			c.Header("Access-Control-Max-Age", "86400")
			// wildcard + credentials would let any site read a user's alerts
			if !wildcard {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
