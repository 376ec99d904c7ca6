package alerts

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/database"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/logging"
)

// Handler provides HTTP endpoints for a user's alert inbox.
type Handler struct {
	dispatcher *Dispatcher
}

// NewHandler creates a new alerts handler.
func NewHandler(d *Dispatcher) *Handler {
	return &Handler{dispatcher: d}
}

// RegisterRoutes sets up alert routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users/:userId/alerts", h.List)
	r.POST("/users/:userId/alerts/:alertId/read", h.MarkRead)
}

// List handles GET /v1/users/:userId/alerts?unread=true&limit=50
func (h *Handler) List(c *gin.Context) {
	unread, _ := strconv.ParseBool(c.DefaultQuery("unread", "false"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	list, err := h.dispatcher.List(c.Request.Context(), c.Param("userId"), unread, limit)
	if err != nil {
		writeStorageError(c, err)
		return
	}
	if list == nil {
		list = []*Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": list, "count": len(list)})
}

// MarkRead handles POST /v1/users/:userId/alerts/:alertId/read
func (h *Handler) MarkRead(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("alertId"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_alert_id",
			"message": "Alert id must be a positive integer",
		})
		return
	}

	ok, err := h.dispatcher.MarkRead(c.Request.Context(), c.Param("userId"), id)
	if err != nil {
		writeStorageError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": ErrAlertNotFound.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"read": true})
}

func writeStorageError(c *gin.Context, err error) {
	if errors.Is(err, database.ErrUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "storage_unavailable",
			"message": "Storage is temporarily unavailable, retry later",
		})
		return
	}
	logging.L(c.Request.Context()).Error("alerts request failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "Failed to load alerts",
	})
}
