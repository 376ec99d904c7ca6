package risk

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/database"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/logging"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/validation"
)

// Handler exposes dry-run scoring and the audit trail.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new risk handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up risk routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/risk/evaluate", h.Evaluate)
	r.GET("/risk/users/:username/assessments", h.History)
}

// Evaluate handles POST /v1/risk/evaluate. It scores without acting on the
// verdict.
func (h *Handler) Evaluate(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.ValidIP("clientIp", req.ClientIP),
		validation.MaxLength("username", req.Username, validation.MaxUsernameLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	a, err := h.engine.Evaluate(c.Request.Context(), req)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessment": a})
}

// History handles GET /v1/risk/users/:username/assessments
func (h *Handler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	list, err := h.engine.History(c.Request.Context(), c.Param("username"), limit)
	if err != nil {
		WriteError(c, err)
		return
	}
	if list == nil {
		list = []*Assessment{}
	}
	c.JSON(http.StatusOK, gin.H{"assessments": list, "count": len(list)})
}

// WriteError maps risk and storage errors to HTTP responses.
func WriteError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrMalformedInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed_input", "message": err.Error()})
	case errors.Is(err, ErrConfiguration):
		logging.L(c.Request.Context()).Error("risk configuration error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "configuration_error",
			"message": "Risk profile configuration is invalid",
		})
	case errors.Is(err, database.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "storage_unavailable",
			"message": "Storage is temporarily unavailable, retry later",
		})
	default:
		logging.L(c.Request.Context()).Error("risk request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Risk evaluation failed"})
	}
}
