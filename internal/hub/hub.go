// Package hub fans presence changes out to live subscribers. Subscribers are
// grouped in rooms, one per tenant, so a change never leaves its tenant.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"teamclaude/internal/metrics"
	"teamclaude/internal/model"
)

// Writer must not block for long: it is called while the presence engine
// holds the lock of the record that changed.
type Writer interface {
	Write(message []byte) error
	Close() error
}

type Connection struct {
	TenantID string
	UserID   string
	Writer   Writer
}

const (
	TypeStateChanged = "presence.stateChanged"
	TypeUserSnapshot = "office.userSnapshot"
)

type Envelope struct {
	Type string `json:"type"`
	Body any    `json:"body,omitempty"`
}

func RoomFor(tenantID string) string {
	return "tenant:" + tenantID
}

type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Connection]struct{}
	total int
}

func New() *Hub {
	return &Hub{rooms: make(map[string]map[*Connection]struct{})}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := RoomFor(conn.TenantID)
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Connection]struct{})
	}
	if _, exists := h.rooms[room][conn]; exists {
		return
	}
	h.rooms[room][conn] = struct{}{}
	h.total++
	metrics.Subscribers.Set(float64(h.total))
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := RoomFor(conn.TenantID)
	set := h.rooms[room]
	if _, ok := set[conn]; !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.rooms, room)
	}
	h.total--
	metrics.Subscribers.Set(float64(h.total))
}

// Count reports the subscribers of one tenant.
func (h *Hub) Count(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[RoomFor(tenantID)])
}

// Broadcast writes message to every subscriber of the tenant. Subscribers
// whose write fails are closed and dropped.
func (h *Hub) Broadcast(tenantID string, message []byte) {
	h.mu.RLock()
	set := h.rooms[RoomFor(tenantID)]
	conns := make([]*Connection, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	var failed []*Connection
	for _, c := range conns {
		if err := c.Writer.Write(message); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		slog.Debug("dropping subscriber", "tenant", c.TenantID, "user", c.UserID)
		_ = c.Writer.Close()
		h.Unregister(c)
	}
}

// OnStateChanged publishes a presence change to the change's tenant room.
func (h *Hub) OnStateChanged(change model.StateChange) {
	out, err := json.Marshal(Envelope{Type: TypeStateChanged, Body: change})
	if err != nil {
		slog.Error("encode state change", "error", err)
		return
	}
	h.Broadcast(change.TenantID, out)
}
