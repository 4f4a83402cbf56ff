package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"teamclaude/internal/auth"
	"teamclaude/internal/handler"
	"teamclaude/internal/hub"
	"teamclaude/internal/ingest"
	"teamclaude/internal/middleware"
	"teamclaude/internal/presence"
	"teamclaude/internal/stats"
	"teamclaude/internal/tenant"
)

type Deps struct {
	Events          ingest.EventStore
	Presence        *presence.Engine
	Hub             *hub.Hub
	Sessions        *auth.Sessions
	TokenConfig     auth.TokenConfig
	DefaultTenantID string
	// RateLimiter caps authenticated calls per tenant user. Nil disables the
	// limit. The caller owns it and stops it on shutdown.
	RateLimiter *middleware.RateLimiter
	// Ready reports whether backing stores are reachable. Nil means always
	// ready.
	Ready func(ctx context.Context) error
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/ready", func(c *gin.Context) {
		if deps.Ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Ready(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	resolver := tenant.NewResolver(
		tenant.Session(deps.Sessions, deps.DefaultTenantID),
		tenant.Bearer(deps.TokenConfig),
		tenant.Headers(),
	)

	authHandler := &handler.AuthHandler{TokenConfig: deps.TokenConfig, Sessions: deps.Sessions}
	r.GET("/v1/auth/login", authHandler.Login)
	r.POST("/v1/auth/logout", authHandler.Logout)

	protected := r.Group("/v1")
	protected.Use(middleware.RequireTenant(resolver))
	if deps.RateLimiter != nil {
		protected.Use(middleware.RateLimitMiddleware(deps.RateLimiter))
	}

	protected.GET("/auth/me", authHandler.Me)
	protected.POST("/auth/cli-token", authHandler.CLIToken)

	ingestHandler := &handler.IngestHandler{
		Ingester:  ingest.NewService(deps.Events, deps.Presence),
		Heartbeat: deps.Presence,
	}
	protected.POST("/ingest/events", ingestHandler.Events)
	protected.POST("/ingest/heartbeat", ingestHandler.Heartbeats)

	presenceHandler := &handler.PresenceHandler{Presence: deps.Presence}
	protected.GET("/presence", presenceHandler.List)
	protected.GET("/presence/me", presenceHandler.Me)

	statsHandler := &handler.StatsHandler{Stats: stats.NewService(deps.Events, deps.Presence)}
	protected.GET("/stats/me/today", statsHandler.MyToday)
	protected.GET("/stats/team/trend", statsHandler.TeamTrend)
	protected.GET("/stats/team/members", statsHandler.TeamMembers)

	wsResolver := tenant.NewResolver(
		tenant.Session(deps.Sessions, deps.DefaultTenantID),
		tenant.QueryToken(deps.TokenConfig, "token"),
	)
	wsHandler := &handler.WebSocketHandler{Hub: deps.Hub, Resolver: wsResolver, Presence: deps.Presence}
	r.GET("/ws", wsHandler.Serve)

	return r
}
