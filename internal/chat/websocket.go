package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/roomchat/internal/auth"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// clientMessage is the inbound message envelope.
type clientMessage struct {
	Type     string `json:"type"`
	RoomCode string `json:"room_code,omitempty"`
	Text     string `json:"text,omitempty"`
}

// wsConn adapts a websocket connection to the Conn interface. Writes are
// serialized under a mutex so broadcasts and requester-addressed sends
// cannot interleave frames.
type wsConn struct {
	id string
	ws *websocket.Conn
	mu sync.Mutex
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{id: uuid.NewString(), ws: ws}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) WriteEvent(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// WebSocketHandler upgrades chat connections and feeds inbound messages to
// the coordinator.
type WebSocketHandler struct {
	coord         *Coordinator
	tokens        *auth.TokenManager
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(coord *Coordinator, tokens *auth.TokenManager, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		coord:         coord,
		tokens:        tokens,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade. The token and
// session ID travel as query parameters because browsers cannot set
// headers on WebSocket requests.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := h.tokens.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if err := ValidateSessionID(sessionID); err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}

	conn := newWSConn(ws)
	slog.Info("chat connection established",
		"session_id", sessionID,
		"conn_id", conn.ID(),
		"display_name", claims.DisplayName,
		"ip", r.RemoteAddr)

	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "connection ended"); closeErr != nil {
			slog.Debug("failed to close websocket", "error", closeErr, "conn_id", conn.ID())
		}
	}()

	h.readLoop(r.Context(), conn, ws, sessionID, claims.DisplayName)

	// The read loop exiting means the transport dropped (or the client went
	// away); the coordinator decides whether it becomes a real leave.
	dropCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.coord.Disconnected(dropCtx, conn)
	slog.Info("chat connection ended", "session_id", sessionID, "conn_id", conn.ID())
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, conn *wsConn, ws *websocket.Conn, sessionID, displayName string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "conn_id", conn.ID())
			} else {
				slog.Debug("WebSocket read error", "error", err, "conn_id", conn.ID())
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.coord.sendError(ctx, conn, roomErr(CodeInvalidMessage, "malformed message"))
			continue
		}

		h.dispatch(ctx, conn, sessionID, displayName, msg)
	}
}

// dispatch routes one inbound message. Unexpected failures are converted to
// a requester-addressed error plus a log record so one bad message cannot
// take down the connection's event handling.
func (h *WebSocketHandler) dispatch(ctx context.Context, conn *wsConn, sessionID, displayName string, msg clientMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in chat dispatch", "type", msg.Type, "session_id", sessionID, "panic", rec)
			h.coord.sendError(ctx, conn, roomErr(CodeInternal, "internal error"))
		}
	}()

	switch msg.Type {
	case "join":
		h.coord.Join(ctx, conn, sessionID, displayName, msg.RoomCode)
	case "leave":
		h.coord.Leave(ctx, conn)
	case "message":
		h.coord.SendMessage(ctx, conn, msg.Text)
	case "typing-start":
		h.coord.StartTyping(ctx, conn)
	case "typing-stop":
		h.coord.StopTyping(ctx, conn)
	case "ping":
		if err := conn.WriteEvent(ctx, Event{Type: EventPong}); err != nil {
			slog.Debug("failed to send pong", "conn_id", conn.ID(), "error", err)
		}
	default:
		h.coord.sendError(ctx, conn, roomErr(CodeInvalidMessage, "unknown message type"))
	}
}
