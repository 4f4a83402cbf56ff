package sidecar

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestWatch_FlushesOnAppend(t *testing.T) {
	srv := newIngestServer(t, http.StatusOK)
	s := newTestSidecar(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, WatchOptions{Debounce: 10 * time.Millisecond, Interval: time.Hour})
	}()

	// Give the watcher time to register before appending.
	time.Sleep(100 * time.Millisecond)
	if err := s.Queue.Enqueue(context.Background(), Event{EventID: "watched"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		n, err := s.Queue.Len()
		if err == nil && n == 0 && srv.sawEvent("watched") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("event was not flushed, queue len=%d", n)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Watch did not stop")
	}
}
