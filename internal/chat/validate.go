package chat

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

var roomCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

type displayNameInput struct {
	DisplayName string `validate:"required,min=1,max=32"`
}

type messageInput struct {
	Text string `validate:"required,min=1,max=2000"`
}

// ValidateRoomCode checks the 6-character uppercase-alphanumeric format.
func ValidateRoomCode(code string) error {
	if !roomCodePattern.MatchString(code) {
		return roomErr(CodeInvalidRoomCode, "room code must be 6 uppercase alphanumeric characters")
	}
	return nil
}

// ValidateSessionID checks that the client-generated session identity is a
// version-4 UUID.
func ValidateSessionID(sessionID string) error {
	id, err := uuid.Parse(sessionID)
	if err != nil || id.Version() != 4 {
		return roomErr(CodeInvalidSession, "session id must be a v4 UUID")
	}
	return nil
}

// ValidateDisplayName checks the display name length after trimming.
func ValidateDisplayName(name string) error {
	trimmed := strings.TrimSpace(name)
	if err := validate.Struct(displayNameInput{DisplayName: trimmed}); err != nil {
		return roomErr(CodeInvalidName, "display name must be 1-32 characters")
	}
	return nil
}

// ValidateMessageText checks the chat message body length after trimming.
func ValidateMessageText(text string) error {
	trimmed := strings.TrimSpace(text)
	if err := validate.Struct(messageInput{Text: trimmed}); err != nil {
		return roomErr(CodeInvalidMessage, "message must be 1-2000 characters")
	}
	return nil
}
