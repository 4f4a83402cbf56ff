package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"teamclaude/internal/ingest"
	"teamclaude/internal/metrics"
	"teamclaude/internal/middleware"
	"teamclaude/internal/model"
)

const maxIngestBody = 1 << 20

type EventIngester interface {
	Ingest(ctx context.Context, tc model.TenantContext, raw []byte) (ingest.Ack, error)
}

type HeartbeatRecorder interface {
	OnHeartbeat(ctx context.Context, tenantID, userID string, at time.Time) error
}

type IngestHandler struct {
	Ingester  EventIngester
	Heartbeat HeartbeatRecorder
}

func (h *IngestHandler) Events(c *gin.Context) {
	tc, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing tenant context"})
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxIngestBody))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large"})
		return
	}

	ack, err := h.Ingester.Ingest(c.Request.Context(), tc, raw)
	if err != nil {
		var verr *ingest.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
			return
		}
		slog.Error("ingest failed", "tenant", tc.TenantID, "user", tc.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	c.JSON(http.StatusOK, ack)
}

func (h *IngestHandler) Heartbeats(c *gin.Context) {
	tc, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing tenant context"})
		return
	}

	metrics.Heartbeats.Inc()
	if err := h.Heartbeat.OnHeartbeat(c.Request.Context(), tc.TenantID, tc.UserID, time.Time{}); err != nil {
		slog.Error("heartbeat failed", "tenant", tc.TenantID, "user", tc.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}
