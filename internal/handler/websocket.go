package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"teamclaude/internal/hub"
	"teamclaude/internal/model"
	"teamclaude/internal/tenant"
)

const (
	wsSendBuffer = 64
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsReadLimit  = 4 << 10
)

var (
	errSubscriberClosed = errors.New("subscriber closed")
	errSubscriberSlow   = errors.New("subscriber too slow")
)

type PresenceSnapshotter interface {
	Snapshot(ctx context.Context, tenantID string) ([]model.PresenceRecord, error)
}

type WebSocketHandler struct {
	Hub      *hub.Hub
	Resolver *tenant.Resolver
	Presence PresenceSnapshotter
}

type clientMessage struct {
	Type string `json:"type"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsWriter queues outgoing frames for the connection's write pump, so a
// broadcast never waits on the network.
type wsWriter struct {
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSWriter() *wsWriter {
	return &wsWriter{send: make(chan []byte, wsSendBuffer), done: make(chan struct{})}
}

func (w *wsWriter) Write(message []byte) error {
	select {
	case <-w.done:
		return errSubscriberClosed
	default:
	}
	select {
	case w.send <- message:
		return nil
	default:
		return errSubscriberSlow
	}
}

func (w *wsWriter) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	return nil
}

func (w *wsWriter) pump(ws *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case <-w.done:
			_ = ws.WriteControl(websocket.CloseMessage, nil, time.Now().Add(wsWriteWait))
			return
		case msg := <-w.send:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// Serve upgrades the request and subscribes it to its tenant's presence
// changes. The first frame is a snapshot of the tenant's current presence.
func (h *WebSocketHandler) Serve(c *gin.Context) {
	tc, err := h.Resolver.Resolve(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	writer := newWSWriter()
	conn := &hub.Connection{TenantID: tc.TenantID, UserID: tc.UserID, Writer: writer}
	h.Hub.Register(conn)
	defer func() {
		h.Hub.Unregister(conn)
		_ = writer.Close()
	}()
	go writer.pump(ws)

	h.sendSnapshot(c.Request.Context(), tc, writer)

	ws.SetReadLimit(wsReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "ping":
			out, _ := json.Marshal(hub.Envelope{Type: "pong"})
			_ = writer.Write(out)
		case "snapshot":
			h.sendSnapshot(c.Request.Context(), tc, writer)
		}
	}
}

func (h *WebSocketHandler) sendSnapshot(ctx context.Context, tc model.TenantContext, w hub.Writer) {
	users, err := h.Presence.Snapshot(ctx, tc.TenantID)
	if err != nil {
		slog.Error("presence snapshot failed", "tenant", tc.TenantID, "error", err)
		users = []model.PresenceRecord{}
	}
	out, err := json.Marshal(hub.Envelope{
		Type: hub.TypeUserSnapshot,
		Body: gin.H{"tenantId": tc.TenantID, "users": users},
	})
	if err != nil {
		return
	}
	_ = w.Write(out)
}
