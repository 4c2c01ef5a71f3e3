package chat

// Stable error codes carried on room-error events and REST error bodies.
// Clients redirect on room_not_found and re-prompt on validation codes.
const (
	CodeInvalidRoomCode = "invalid_room_code"
	CodeInvalidSession  = "invalid_session"
	CodeInvalidName     = "invalid_name"
	CodeInvalidMessage  = "invalid_message"
	CodeRoomNotFound    = "room_not_found"
	CodeInternal        = "internal_error"
)

// RoomError is a structured, requester-addressed failure. It is never
// broadcast and never fatal to the connection.
type RoomError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RoomError) Error() string {
	return e.Code + ": " + e.Message
}

func roomErr(code, message string) *RoomError {
	return &RoomError{Code: code, Message: message}
}
