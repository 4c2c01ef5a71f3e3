// Package domain contains core domain types for the roomchat application.
package domain

import (
	"time"
)

// Room holds the durable metadata for a chat room. Presence (who is in the
// room right now) is tracked separately in memory and never persisted.
type Room struct {
	Code         string    `json:"code"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// IdleFor returns how long the room has been without activity.
func (r *Room) IdleFor(now time.Time) time.Duration {
	return now.Sub(r.LastActiveAt)
}
