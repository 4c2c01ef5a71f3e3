package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/roomchat/internal/chat"
	"github.com/go-chi/chi/v5"
)

type authRequest struct {
	DisplayName string `json:"display_name"`
}

type authResponse struct {
	Token       string `json:"token"`
	DisplayName string `json:"display_name"`
}

// IssueToken authenticates a display name and returns a signed token. The
// name is bound into the token; the push channel never trusts a
// client-supplied name afterward.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, chat.CodeInvalidName, "malformed request body")
		return
	}

	name := strings.TrimSpace(req.DisplayName)
	if err := chat.ValidateDisplayName(name); err != nil {
		var rerr *chat.RoomError
		if errors.As(err, &rerr) {
			Error(w, http.StatusBadRequest, rerr.Code, rerr.Message)
			return
		}
		Error(w, http.StatusBadRequest, chat.CodeInvalidName, "invalid display name")
		return
	}

	token, err := h.tokens.Issue(name)
	if err != nil {
		slog.Error("failed to issue token", "error", err)
		Error(w, http.StatusInternalServerError, chat.CodeInternal, "failed to issue token")
		return
	}

	JSON(w, http.StatusOK, authResponse{Token: token, DisplayName: name})
}

// CreateRoom creates a new room and returns its code. Requires a valid
// bearer token.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	code, err := h.rooms.CreateRoom(r.Context())
	if err != nil {
		slog.Error("failed to create room", "error", err)
		Error(w, http.StatusInternalServerError, chat.CodeInternal, "failed to create room")
		return
	}

	slog.Info("room created", "room_code", code, "creator", identityName(r))
	JSON(w, http.StatusCreated, map[string]string{"code": code})
}

// GetRoom reports whether a room exists, for client-side redirects before
// opening the push channel.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(chi.URLParam(r, "code"))
	if err := chat.ValidateRoomCode(code); err != nil {
		Error(w, http.StatusBadRequest, chat.CodeInvalidRoomCode, "invalid room code")
		return
	}

	room, err := h.repo.GetRoom(r.Context(), code)
	if err != nil {
		slog.Error("failed to look up room", "room_code", code, "error", err)
		Error(w, http.StatusInternalServerError, chat.CodeInternal, "failed to look up room")
		return
	}
	if room == nil {
		Error(w, http.StatusNotFound, chat.CodeRoomNotFound, "room does not exist")
		return
	}

	JSON(w, http.StatusOK, room)
}
