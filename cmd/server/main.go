package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"teamclaude/internal/auth"
	"teamclaude/internal/config"
	"teamclaude/internal/hub"
	"teamclaude/internal/ingest"
	"teamclaude/internal/middleware"
	"teamclaude/internal/presence"
	"teamclaude/internal/server"
	"teamclaude/internal/store"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		events  ingest.EventStore
		pruners []server.Pruner
		ready   func(context.Context) error
	)
	if cfg.DBURL != "" {
		pg, err := store.NewPostgresEventStore(ctx, cfg.DBURL, cfg.Presence.DedupTTL)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			os.Exit(1)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("failed to apply schema", "err", err)
			os.Exit(1)
		}
		events, ready = pg, pg.Ping
		pruners = append(pruners, pg)
		slog.Info("using postgres event store")
	} else {
		mem := store.NewEventStoreWithOptions(store.EventOptions{DedupTTL: cfg.Presence.DedupTTL})
		events = mem
		pruners = append(pruners, mem)
		slog.Warn("DB_URL not set, events are kept in memory")
	}

	presenceStore := store.NewPresenceStore()
	pruners = append(pruners, presenceStore)

	engine := presence.NewEngine(presenceStore, presence.Options{
		Thresholds: presence.Thresholds{
			IdleAfter:    cfg.Presence.IdleAfter,
			OfflineAfter: cfg.Presence.OfflineAfter,
		},
		RecordTTL: cfg.Presence.RecordTTL,
	})
	wsHub := hub.New()
	engine.RegisterBroadcaster(wsHub)

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = auth.InitProvider(initCtx, auth.OIDCSettings{
		Issuer:      cfg.OIDCIssuer,
		ClientID:    cfg.OIDCClientID,
		RedirectURL: cfg.OIDCRedirectURL,
	}, nil)
	cancel()
	if err != nil {
		slog.Warn("identity provider unavailable, browser login disabled", "err", err)
	}

	tokenCfg := auth.DefaultTokenConfig(cfg.JWTSecret)
	tokenCfg.Expiry = cfg.TokenExpiry

	limiter := middleware.NewRateLimiter(600, time.Minute)
	defer limiter.Stop()

	router := server.NewRouter(server.Deps{
		Events:          events,
		Presence:        engine,
		Hub:             wsHub,
		Sessions:        auth.NewSessions(7 * 24 * time.Hour),
		TokenConfig:     tokenCfg,
		DefaultTenantID: cfg.DefaultTenantID,
		RateLimiter:     limiter,
		Ready:           ready,
	})

	sweeper := &server.Sweeper{Engine: engine, Interval: cfg.Presence.TickInterval, Pruners: pruners}
	go sweeper.Run(ctx)

	slog.Info("listening", "port", cfg.Port, "tick", cfg.Presence.TickInterval)
	if err := server.Run(ctx, cfg, router); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
