// Package validation provides request validation helpers for the cerberus API.
package validation

import (
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/idgen"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// Field limits for attacker-controlled input.
const (
	MaxStringLength   = 10000
	MaxPageLength     = 512
	MaxUsernameLength = 256
	MaxPasswordLength = 1024
	MaxUserAgent      = 1024
	MaxMetadataKeys   = 32
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// SanitizeString trims whitespace, drops NUL bytes and invalid UTF-8, and
// cuts s to at most maxLen bytes without splitting a rune.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ToValidUTF8(s, "")

	if len(s) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// ValidIP checks that a non-empty field parses as an IPv4 or IPv6 address.
func ValidIP(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if net.ParseIP(value) == nil {
			return &ValidationError{Field: field, Message: "must be a valid IP address"}
		}
		return nil
	}
}

// ValidPage checks a decoy page identifier: a path starting with "/",
// bounded in length, with no control characters.
func ValidPage(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if len(value) > MaxPageLength {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		if !strings.HasPrefix(value, "/") {
			return &ValidationError{Field: field, Message: "must start with /"}
		}
		for _, r := range value {
			if r < 0x20 || r == 0x7f {
				return &ValidationError{Field: field, Message: "contains control characters"}
			}
		}
		return nil
	}
}

// ValidMetadata bounds the number and size of caller-supplied metadata pairs.
func ValidMetadata(field string, m map[string]string) func() *ValidationError {
	return func() *ValidationError {
		if len(m) > MaxMetadataKeys {
			return &ValidationError{Field: field, Message: "too many keys"}
		}
		for k, v := range m {
			if k == "" || len(k) > 64 || len(v) > 1024 {
				return &ValidationError{Field: field, Message: "key or value out of bounds"}
			}
		}
		return nil
	}
}

// SessionIDParamMiddleware rejects malformed :id URL parameters before they
// reach storage.
func SessionIDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !idgen.Valid(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_session_id",
				"message": "session id must be a UUID",
			})
			return
		}
		c.Next()
	}
}
