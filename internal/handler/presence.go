package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"teamclaude/internal/middleware"
	"teamclaude/internal/model"
)

type PresenceReader interface {
	State(ctx context.Context, tenantID, userID string) (model.PresenceState, error)
	Snapshot(ctx context.Context, tenantID string) ([]model.PresenceRecord, error)
}

type PresenceHandler struct {
	Presence PresenceReader
}

func (h *PresenceHandler) List(c *gin.Context) {
	tc, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing tenant context"})
		return
	}

	users, err := h.Presence.Snapshot(c.Request.Context(), tc.TenantID)
	if err != nil {
		slog.Error("presence snapshot failed", "tenant", tc.TenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenantId": tc.TenantID, "users": users})
}

func (h *PresenceHandler) Me(c *gin.Context) {
	tc, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing tenant context"})
		return
	}

	state, err := h.Presence.State(c.Request.Context(), tc.TenantID, tc.UserID)
	if err != nil {
		slog.Error("presence lookup failed", "tenant", tc.TenantID, "user", tc.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenantId": tc.TenantID, "userId": tc.UserID, "state": state})
}
