package sentinel

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/database"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/logging"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/ratelimit"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/risk"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/validation"
)

// Handler exposes the protected login form and the phishing click tracker.
type Handler struct {
	svc     *Service
	limiter *ratelimit.Limiter
}

// NewHandler creates a sentinel handler. A nil limiter disables rate limiting.
func NewHandler(svc *Service, limiter *ratelimit.Limiter) *Handler {
	return &Handler{svc: svc, limiter: limiter}
}

// RegisterRoutes sets up sentinel routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auth/login", h.limit("login"), h.Login)
	r.POST("/phishing/click", h.limit("phishing"), h.PhishingClick)
}

func (h *Handler) limit(scope string) gin.HandlerFunc {
	if h.limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return h.limiter.Middleware(scope)
}

// Login handles POST /v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var att LoginAttempt
	if err := c.ShouldBindJSON(&att); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if att.ClientIP == "" {
		att.ClientIP = c.ClientIP()
	}
	if att.UserAgent == "" {
		att.UserAgent = c.Request.UserAgent()
	}
	att.UserAgent = validation.SanitizeString(att.UserAgent, validation.MaxUserAgent)

	if errs := validation.Validate(
		validation.ValidIP("client_ip", att.ClientIP),
		validation.MaxLength("username", att.Username, validation.MaxUsernameLength),
		validation.MaxLength("password", att.Password, validation.MaxPasswordLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	out, err := h.svc.Login(c.Request.Context(), att)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// PhishingClick handles POST /v1/phishing/click
func (h *Handler) PhishingClick(c *gin.Context) {
	var click Click
	if err := c.ShouldBindJSON(&click); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	// The clicker's address is what the decoy tracks; never trust the body for it.
	click.ClientIP = c.ClientIP()
	click.UserAgent = validation.SanitizeString(c.Request.UserAgent(), validation.MaxUserAgent)
	click.Campaign = validation.SanitizeString(click.Campaign, 64)

	out, err := h.svc.PhishingClick(c.Request.Context(), click)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidAttempt):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, risk.ErrMalformedInput), errors.Is(err, risk.ErrConfiguration),
		errors.Is(err, database.ErrUnavailable):
		risk.WriteError(c, err)
	default:
		logging.L(c.Request.Context()).Error("sentinel request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Login could not be processed",
		})
	}
}
