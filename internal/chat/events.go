package chat

import (
	"context"

	"github.com/ashureev/roomchat/internal/domain"
)

// Event is the outbound envelope pushed to clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Outbound event types.
const (
	EventJoinedRoom    = "joined-room"
	EventUserJoined    = "user-joined"
	EventUserLeft      = "user-left"
	EventMessage       = "message-received"
	EventTypingStarted = "typing-started"
	EventTypingStopped = "typing-stopped"
	EventRoomError     = "room-error"
	EventPong          = "pong"
)

// Conn is one live push channel to a client. The websocket transport
// provides the real implementation; tests substitute fakes.
type Conn interface {
	ID() string
	WriteEvent(ctx context.Context, evt Event) error
}

// JoinedRoomPayload is the full room snapshot sent to a joining client.
type JoinedRoomPayload struct {
	RoomCode string            `json:"room_code"`
	Members  []domain.Member   `json:"members"`
	History  []*domain.Message `json:"history"`
}

// UserLeftPayload announces a departure to a room.
type UserLeftPayload struct {
	SessionID   string `json:"session_id"`
	DisplayName string `json:"display_name"`
}

// TypingPayload announces a typing state change.
type TypingPayload struct {
	SessionID   string `json:"session_id"`
	DisplayName string `json:"display_name,omitempty"`
}

func errorEvent(err *RoomError) Event {
	return Event{Type: EventRoomError, Data: err}
}
