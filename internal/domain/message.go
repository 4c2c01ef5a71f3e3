package domain

// MessageKind distinguishes user-authored chat lines from system notices
// generated by the join/leave flow.
type MessageKind string

const (
	MessageChat   MessageKind = "chat"
	MessageSystem MessageKind = "system"
)

// Message represents one chat line or system notice. Messages are immutable
// once written; the display name is denormalized at write time so later name
// changes do not rewrite history.
type Message struct {
	ID          string      `json:"id"`
	RoomCode    string      `json:"room_code"`
	SessionID   string      `json:"session_id"`
	DisplayName string      `json:"display_name"`
	Body        string      `json:"body"`
	Kind        MessageKind `json:"kind"`
	CreatedAt   int64       `json:"created_at"` // epoch milliseconds
}

// IsSystem returns true for system-generated notices.
func (m *Message) IsSystem() bool {
	return m.Kind == MessageSystem
}
