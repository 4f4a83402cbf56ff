package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"teamclaude/internal/hub"
	"teamclaude/internal/model"
)

type wsFrame struct {
	Type string         `json:"type"`
	Body map[string]any `json:"body"`
}

func dialWS(t *testing.T, app *testApp, token string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(app.router)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	var f wsFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return f
}

func waitForSubscribers(t *testing.T, h *hub.Hub, tenantID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Count(tenantID) != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, got %d", n, h.Count(tenantID))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocket_SnapshotThenPingPong(t *testing.T) {
	app := newTestApp(t)
	_ = app.engine.OnEvent(context.Background(), "acme", "alice", time.Time{})

	conn := dialWS(t, app, app.token(t, "acme", "viewer"))

	snap := readFrame(t, conn)
	if snap.Type != hub.TypeUserSnapshot || snap.Body["tenantId"] != "acme" {
		t.Fatalf("expected snapshot first, got %+v", snap)
	}
	users, _ := snap.Body["users"].([]any)
	if len(users) != 1 {
		t.Fatalf("expected 1 user in snapshot, got %v", snap.Body["users"])
	}

	if err := conn.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if f := readFrame(t, conn); f.Type != "pong" {
		t.Fatalf("expected pong, got %+v", f)
	}
}

func TestWebSocket_ReceivesTenantStateChanges(t *testing.T) {
	app := newTestApp(t)
	conn := dialWS(t, app, app.token(t, "acme", "viewer"))
	readFrame(t, conn)
	waitForSubscribers(t, app.hub, "acme", 1)

	_ = app.engine.OnEvent(context.Background(), "globex", "mallory", time.Time{})
	_ = app.engine.OnEvent(context.Background(), "acme", "alice", time.Time{})

	f := readFrame(t, conn)
	if f.Type != hub.TypeStateChanged {
		t.Fatalf("expected state change, got %+v", f)
	}
	if f.Body["userId"] != "alice" || f.Body["state"] != string(model.StateCoding) {
		t.Fatalf("expected alice Coding only, got %+v", f.Body)
	}
}

func TestWebSocket_RejectsMissingOrBadToken(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.router)
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	for _, url := range []string{base, base + "?token=garbage"} {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Fatalf("%s: expected dial failure", url)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %v", url, resp)
		}
	}
}
