// Package api provides HTTP handlers for the roomchat REST surface.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/roomchat/internal/auth"
	"github.com/ashureev/roomchat/internal/chat"
	"github.com/ashureev/roomchat/internal/identity"
	"github.com/ashureev/roomchat/internal/store"
	"github.com/go-chi/chi/v5"
)

// Handler serves the thin REST shim around the chat core: token issuance,
// room creation, and room lookup. Everything else happens over the push
// channel.
type Handler struct {
	repo   store.Repository
	rooms  *chat.RoomManager
	tokens *auth.TokenManager
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, rooms *chat.RoomManager, tokens *auth.TokenManager) *Handler {
	return &Handler{
		repo:   repo,
		rooms:  rooms,
		tokens: tokens,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response with a stable code.
func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, map[string]string{"code": code, "error": message})
}

func identityName(r *http.Request) string {
	return identity.DisplayNameFromContext(r.Context())
}

// RegisterRoutes attaches the REST endpoints to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/auth", h.IssueToken)
	r.Get("/api/rooms/{code}", h.GetRoom)
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(h.tokens))
		r.Post("/api/rooms", h.CreateRoom)
	})
}
