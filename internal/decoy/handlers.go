package decoy

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/database"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/logging"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/pagination"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/validation"
)

// Handler provides HTTP endpoints for decoy sessions.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new decoy handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up decoy session routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/decoys")
	g.POST("", h.CreateSession)
	g.GET("/active", h.ListActive)

	byID := g.Group("/:id", validation.SessionIDParamMiddleware())
	byID.GET("", h.GetSession)
	byID.POST("/visit", h.RecordVisit)
	byID.POST("/capture", h.RecordCapture)
	byID.POST("/terminate", h.Terminate)
	byID.POST("/container", h.AttachContainer)
	byID.POST("/watermark", h.Watermark)
}

type createSessionRequest struct {
	Metadata          map[string]string `json:"metadata"`
	AttackerIP        string            `json:"attackerIp"`
	AttackerUserAgent string            `json:"attackerUserAgent"`
	TTLSeconds        int               `json:"ttlSeconds"`
}

type visitRequest struct {
	Page string `json:"page" binding:"required"`
}

type captureRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password"`
	Page     string `json:"page"`
}

type terminateRequest struct {
	Reason string `json:"reason"`
}

type containerRequest struct {
	ContainerID string `json:"containerId" binding:"required"`
}

// CreateSession handles POST /v1/decoys
func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidIP("attackerIp", req.AttackerIP),
		validation.MaxLength("attackerUserAgent", req.AttackerUserAgent, validation.MaxUserAgent),
		validation.ValidMetadata("metadata", req.Metadata),
	); len(errs) > 0 || req.TTLSeconds < 0 {
		msg := "ttlSeconds must not be negative"
		if len(errs) > 0 {
			msg = errs.Error()
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": msg,
			"details": errs,
		})
		return
	}

	s, err := h.engine.Create(c.Request.Context(), CreateRequest{
		Metadata:          req.Metadata,
		AttackerIP:        req.AttackerIP,
		AttackerUserAgent: req.AttackerUserAgent,
		TTL:               time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		h.storageError(c, err, "create_failed", "Failed to create decoy session")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": s.Redacted()})
}

// GetSession handles GET /v1/decoys/:id
func (h *Handler) GetSession(c *gin.Context) {
	s, ok, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.storageError(c, err, "get_failed", "Failed to load decoy session")
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Decoy session not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s.Redacted()})
}

// ListActive handles GET /v1/decoys/active?limit=100&cursor=...
func (h *Handler) ListActive(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	sessions, err := h.engine.ListActive(c.Request.Context())
	if err != nil {
		h.storageError(c, err, "list_failed", "Failed to list decoy sessions")
		return
	}

	page, next, more, err := pagination.Page(sessions, c.Query("cursor"), limit, sessionKey)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": err.Error(),
		})
		return
	}

	out := make([]*Session, 0, len(page))
	for _, s := range page {
		out = append(out, s.Redacted())
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions":   out,
		"count":      len(out),
		"nextCursor": next,
		"hasMore":    more,
	})
}

func sessionKey(s *Session) (time.Time, string) { return s.CreatedAt, s.ID }

// RecordVisit handles POST /v1/decoys/:id/visit
func (h *Handler) RecordVisit(c *gin.Context) {
	var req visitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "page is required",
		})
		return
	}
	if errs := validation.Validate(validation.ValidPage("page", req.Page)); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	ok, err := h.engine.RecordVisit(c.Request.Context(), c.Param("id"), req.Page)
	h.mutationResult(c, ok, err)
}

// RecordCapture handles POST /v1/decoys/:id/capture
func (h *Handler) RecordCapture(c *gin.Context) {
	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "username is required",
		})
		return
	}
	if req.Page == "" {
		req.Page = "/login"
	}
	if errs := validation.Validate(
		validation.MaxLength("username", req.Username, validation.MaxUsernameLength),
		validation.MaxLength("password", req.Password, validation.MaxPasswordLength),
		validation.ValidPage("page", req.Page),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	ok, err := h.engine.RecordCapture(c.Request.Context(), c.Param("id"), req.Username, req.Password, req.Page)
	h.mutationResult(c, ok, err)
}

// Terminate handles POST /v1/decoys/:id/terminate
func (h *Handler) Terminate(c *gin.Context) {
	var req terminateRequest
	// Body is optional.
	_ = c.ShouldBindJSON(&req)
	req.Reason = validation.SanitizeString(req.Reason, 256)

	ok, err := h.engine.Terminate(c.Request.Context(), c.Param("id"), req.Reason)
	h.mutationResult(c, ok, err)
}

// AttachContainer handles POST /v1/decoys/:id/container
func (h *Handler) AttachContainer(c *gin.Context) {
	var req containerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "containerId is required",
		})
		return
	}

	ok, err := h.engine.AttachContainer(c.Request.Context(), c.Param("id"), validation.SanitizeString(req.ContainerID, 256))
	h.mutationResult(c, ok, err)
}

// Watermark handles POST /v1/decoys/:id/watermark
func (h *Handler) Watermark(c *gin.Context) {
	var doc Document
	_ = c.ShouldBindJSON(&doc)

	s, ok, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.storageError(c, err, "get_failed", "Failed to load decoy session")
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Decoy session not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"watermark": h.engine.Watermark(s, doc)})
}

// mutationResult maps a mutation outcome to a response. A false result is
// an expected conflict (inactive session, duplicate page, prior capture)
// unless the session does not exist at all.
func (h *Handler) mutationResult(c *gin.Context, ok bool, err error) {
	if err != nil {
		if errors.Is(err, ErrInvalidPage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_page", "message": err.Error()})
			return
		}
		h.storageError(c, err, "mutation_failed", "Failed to update decoy session")
		return
	}
	if !ok {
		_, found, err := h.engine.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			h.storageError(c, err, "get_failed", "Failed to load decoy session")
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Decoy session not found",
			})
			return
		}
		c.JSON(http.StatusConflict, gin.H{
			"error":    "conflict",
			"message":  "Session is not active or the change was already recorded",
			"recorded": false,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recorded": true})
}

func (h *Handler) storageError(c *gin.Context, err error, code, msg string) {
	if errors.Is(err, database.ErrUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "storage_unavailable",
			"message": "Storage is temporarily unavailable, retry later",
		})
		return
	}
	logging.L(c.Request.Context()).Error("decoy request failed", "code", code, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": code, "message": msg})
}
