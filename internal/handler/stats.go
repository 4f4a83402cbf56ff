package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"teamclaude/internal/middleware"
	"teamclaude/internal/stats"
)

type StatsHandler struct {
	Stats *stats.Service
}

func (h *StatsHandler) MyToday(c *gin.Context) {
	tc, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing tenant context"})
		return
	}
	out, err := h.Stats.MyToday(c.Request.Context(), tc.TenantID, tc.UserID)
	if err != nil {
		slog.Error("stats today failed", "tenant", tc.TenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *StatsHandler) TeamTrend(c *gin.Context) {
	tc, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing tenant context"})
		return
	}
	out, err := h.Stats.TeamTrend(c.Request.Context(), tc.TenantID)
	if err != nil {
		slog.Error("stats trend failed", "tenant", tc.TenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *StatsHandler) TeamMembers(c *gin.Context) {
	tc, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing tenant context"})
		return
	}
	out, err := h.Stats.TeamMembers(c.Request.Context(), tc.TenantID)
	if err != nil {
		slog.Error("stats members failed", "tenant", tc.TenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	c.JSON(http.StatusOK, out)
}
