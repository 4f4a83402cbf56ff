package server

import (
	"context"
	"testing"
	"time"

	"teamclaude/internal/model"
	"teamclaude/internal/presence"
	"teamclaude/internal/store"
)

type countingPruner struct{ calls int }

func (p *countingPruner) PruneExpired(context.Context) (int64, error) {
	p.calls++
	return 0, nil
}

func TestSweeper_SweepDemotesAndPrunes(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := start
	now := func() time.Time { return clock }

	engine := presence.NewEngine(store.NewPresenceStoreWithNow(now), presence.Options{Now: now})
	_ = engine.OnEvent(context.Background(), "acme", "alice", start)

	pruner := &countingPruner{}
	s := &Sweeper{Engine: engine, Pruners: []Pruner{pruner}, Now: now}

	clock = start.Add(6 * time.Minute)
	s.Sweep(context.Background())

	state, _ := engine.State(context.Background(), "acme", "alice")
	if state != model.StateIdle {
		t.Fatalf("expected Idle, got %s", state)
	}
	if pruner.calls != 1 {
		t.Fatalf("expected pruner to run once, got %d", pruner.calls)
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	engine := presence.NewEngine(store.NewPresenceStore(), presence.Options{})
	s := &Sweeper{Engine: engine, Interval: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop")
	}
}
