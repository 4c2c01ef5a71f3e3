package domain

import (
	"time"
)

// Member is one entry in a room's in-memory presence list. A room holds at
// most one member per session identity; a rejoin with a new connection
// replaces the old record rather than duplicating it.
type Member struct {
	ConnID      string    `json:"conn_id"`
	SessionID   string    `json:"session_id"`
	DisplayName string    `json:"display_name"`
	RoomCode    string    `json:"room_code"`
	JoinedAt    time.Time `json:"joined_at"`
}
