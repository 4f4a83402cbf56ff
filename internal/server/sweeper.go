package server

import (
	"context"
	"log/slog"
	"time"

	"teamclaude/internal/presence"
)

type Pruner interface {
	PruneExpired(ctx context.Context) (int64, error)
}

type Sweeper struct {
	Engine   *presence.Engine
	Interval time.Duration
	// Pruners drop expired dedup and presence entries after each tick.
	Pruners []Pruner
	Now     func() time.Time
}

// Run ticks the presence engine every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one tick followed by the pruners. Failures are logged; the next
// sweep retries.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}

	res, err := s.Engine.Tick(ctx, now)
	if err != nil {
		slog.Error("presence tick failed", "visited", res.Visited, "error", err)
	} else if res.Changed > 0 {
		slog.Debug("presence tick", "visited", res.Visited, "changed", res.Changed)
	}

	for _, p := range s.Pruners {
		if n, err := p.PruneExpired(ctx); err != nil {
			slog.Error("prune failed", "error", err)
		} else if n > 0 {
			slog.Debug("pruned expired entries", "count", n)
		}
	}
}
