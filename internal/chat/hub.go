package chat

import (
	"context"
	"log/slog"
	"sync"
)

// Hub tracks which connections are subscribed to each room's broadcast
// group and fans outbound events to them. Delivery is best-effort; a failed
// write is logged and skipped so one dead connection cannot stall a room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[string]Conn),
	}
}

// Subscribe adds a connection to a room's broadcast group.
func (h *Hub) Subscribe(roomCode string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[roomCode]; !ok {
		h.rooms[roomCode] = make(map[string]Conn)
	}
	h.rooms[roomCode][conn.ID()] = conn
}

// Unsubscribe removes a connection from a room's broadcast group.
func (h *Hub) Unsubscribe(roomCode, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.rooms[roomCode]
	if !ok {
		return
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(h.rooms, roomCode)
	}
}

// DropRoom removes a room's entire broadcast group.
func (h *Hub) DropRoom(roomCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, roomCode)
}

// Subscribed reports whether a connection is in a room's broadcast group.
func (h *Hub) Subscribed(roomCode, connID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns, ok := h.rooms[roomCode]
	if !ok {
		return false
	}
	_, ok = conns[connID]
	return ok
}

// Broadcast delivers an event to every connection subscribed to a room,
// skipping any connection IDs listed in exclude.
func (h *Hub) Broadcast(ctx context.Context, roomCode string, evt Event, exclude ...string) {
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.rooms[roomCode]))
	for connID, conn := range h.rooms[roomCode] {
		skip := false
		for _, ex := range exclude {
			if connID == ex {
				skip = true
				break
			}
		}
		if !skip {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.WriteEvent(ctx, evt); err != nil {
			slog.Debug("broadcast write failed", "room_code", roomCode, "conn_id", conn.ID(), "error", err)
		}
	}
}
