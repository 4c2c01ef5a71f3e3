package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/roomchat/internal/domain"
	"github.com/ashureev/roomchat/internal/store"
)

// joinKind classifies a join request against the session's existing state.
type joinKind int

const (
	// joinFresh: no existing session entry at all.
	joinFresh joinKind = iota
	// joinRejoin: existing entry for the same room (reconnect/refresh).
	joinRejoin
	// joinSwitch: existing entry for a different room.
	joinSwitch
)

func classifyJoin(existing *Session, roomCode string) joinKind {
	switch {
	case existing == nil:
		return joinFresh
	case existing.RoomCode == roomCode:
		return joinRejoin
	default:
		return joinSwitch
	}
}

// Coordinator orchestrates joins, leaves, messages, and typing indicators,
// keeping the session registry, room membership, broadcast groups, and
// persisted history mutually consistent.
type Coordinator struct {
	registry *SessionRegistry
	rooms    *RoomManager
	hub      *Hub
	repo     store.Repository

	leaveGrace   time.Duration
	historyLimit int
}

// NewCoordinator wires the coordination core together.
func NewCoordinator(registry *SessionRegistry, rooms *RoomManager, hub *Hub, repo store.Repository, leaveGrace time.Duration, historyLimit int) *Coordinator {
	return &Coordinator{
		registry:     registry,
		rooms:        rooms,
		hub:          hub,
		repo:         repo,
		leaveGrace:   leaveGrace,
		historyLimit: historyLimit,
	}
}

func (c *Coordinator) sendError(ctx context.Context, conn Conn, rerr *RoomError) {
	if err := conn.WriteEvent(ctx, errorEvent(rerr)); err != nil {
		slog.Debug("failed to send error event", "conn_id", conn.ID(), "code", rerr.Code, "error", err)
	}
}

// Join handles a join request for a room. The display name comes from the
// authenticated token, never from the request body.
func (c *Coordinator) Join(ctx context.Context, conn Conn, sessionID, displayName, roomCode string) {
	if err := ValidateRoomCode(roomCode); err != nil {
		c.sendError(ctx, conn, err.(*RoomError))
		return
	}
	if err := ValidateSessionID(sessionID); err != nil {
		c.sendError(ctx, conn, err.(*RoomError))
		return
	}
	if err := ValidateDisplayName(displayName); err != nil {
		c.sendError(ctx, conn, err.(*RoomError))
		return
	}
	displayName = strings.TrimSpace(displayName)

	room, err := c.repo.GetRoom(ctx, roomCode)
	if err != nil {
		slog.Error("join: room lookup failed", "room_code", roomCode, "error", err)
		c.sendError(ctx, conn, roomErr(CodeInternal, "could not look up room"))
		return
	}
	if room == nil {
		c.sendError(ctx, conn, roomErr(CodeRoomNotFound, "room does not exist"))
		return
	}

	existing := c.registry.Get(sessionID)
	if existing != nil {
		// A reconnect preempts any pending grace-period leave.
		c.registry.CancelPendingLeave(sessionID)
	}

	kind := classifyJoin(existing, roomCode)
	if kind == joinSwitch {
		// Implicit leave from the old room, keyed on the old connection
		// identity recorded in the session, not the new one.
		c.leaveOldRoom(ctx, existing)
	}

	now := time.Now()
	member := domain.Member{
		ConnID:      conn.ID(),
		SessionID:   sessionID,
		DisplayName: displayName,
		RoomCode:    roomCode,
		JoinedAt:    now,
	}
	if err := c.rooms.Join(ctx, roomCode, member); err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			c.sendError(ctx, conn, roomErr(CodeRoomNotFound, "room does not exist"))
			return
		}
		slog.Error("join: membership insert failed", "room_code", roomCode, "session_id", sessionID, "error", err)
		c.sendError(ctx, conn, roomErr(CodeInternal, "could not join room"))
		return
	}

	if err := c.repo.TouchRoom(ctx, roomCode); err != nil {
		slog.Warn("join: failed to bump room activity", "room_code", roomCode, "error", err)
	}

	// History must be fetched before the connection is subscribed to the
	// broadcast group: the snapshot then reflects a point in time no later
	// than the start of the live stream, so a message sent mid-join is
	// neither dropped nor delivered twice.
	history, err := c.repo.ListMessages(ctx, roomCode, c.historyLimit)
	if err != nil {
		slog.Warn("join: history fetch failed, sending empty snapshot", "room_code", roomCode, "error", err)
		history = nil
	}

	c.hub.Subscribe(roomCode, conn)

	if existing != nil && existing.ConnID != conn.ID() {
		// The replaced connection must not linger in the broadcast group,
		// and its reverse mapping must stop resolving before the session
		// is re-registered under the new connection.
		c.hub.Unsubscribe(roomCode, existing.ConnID)
		c.registry.DetachConn(existing.ConnID)
	}
	c.registry.Upsert(&Session{
		SessionID:   sessionID,
		ConnID:      conn.ID(),
		DisplayName: displayName,
		RoomCode:    roomCode,
		JoinedAt:    now,
	})

	snapshot := Event{Type: EventJoinedRoom, Data: JoinedRoomPayload{
		RoomCode: roomCode,
		Members:  c.rooms.Members(roomCode),
		History:  history,
	}}
	if err := conn.WriteEvent(ctx, snapshot); err != nil {
		slog.Debug("join: snapshot write failed", "conn_id", conn.ID(), "error", err)
	}

	// Unconditional, even on rejoin: peers must learn the member's new
	// connection identity after a reconnect.
	c.hub.Broadcast(ctx, roomCode, Event{Type: EventUserJoined, Data: member}, conn.ID())

	// A rejoin is silent; fresh joins and room switches announce durably.
	if kind != joinRejoin {
		c.postSystemMessage(ctx, roomCode, sessionID, displayName, displayName+" joined the room")
	}
}

// leaveOldRoom performs the implicit leave half of a room switch.
func (c *Coordinator) leaveOldRoom(ctx context.Context, sess *Session) {
	removed := c.rooms.Leave(sess.RoomCode, sess.SessionID)
	if removed != nil {
		c.hub.Broadcast(ctx, sess.RoomCode, Event{Type: EventUserLeft, Data: UserLeftPayload{
			SessionID:   sess.SessionID,
			DisplayName: sess.DisplayName,
		}})
		c.postSystemMessage(ctx, sess.RoomCode, sess.SessionID, sess.DisplayName, sess.DisplayName+" left the room")
	}
	c.hub.Unsubscribe(sess.RoomCode, sess.ConnID)
}

// Leave handles an explicit leave command from a connection.
func (c *Coordinator) Leave(ctx context.Context, conn Conn) {
	sess := c.registry.GetByConn(conn.ID())
	if sess == nil {
		return
	}
	c.completeLeave(ctx, sess.SessionID, conn.ID())
}

// Disconnected handles a transport-level connection drop. The leave itself
// is deferred by the grace period so a quick reconnect (page refresh) does
// not flicker a leave+join at the room; a stale typing indicator must not
// survive that window, so typing-stopped goes out immediately.
func (c *Coordinator) Disconnected(ctx context.Context, conn Conn) {
	sess := c.registry.GetByConn(conn.ID())
	if sess == nil {
		return
	}

	c.hub.Broadcast(ctx, sess.RoomCode, Event{Type: EventTypingStopped, Data: TypingPayload{
		SessionID: sess.SessionID,
	}}, conn.ID())

	sessionID := sess.SessionID
	connID := conn.ID()
	timer := time.AfterFunc(c.leaveGrace, func() {
		leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.completeLeave(leaveCtx, sessionID, connID)
	})
	c.registry.CancelPendingLeave(sessionID)
	c.registry.SchedulePendingLeave(sessionID, timer)
}

// completeLeave runs the leave procedure for a (session, connection) pair.
// It re-reads the registry rather than trusting state captured when the
// leave was scheduled: the session may have been mutated by an intervening
// rejoin while this call was pending.
func (c *Coordinator) completeLeave(ctx context.Context, sessionID, connID string) {
	sess := c.registry.Get(sessionID)
	if sess == nil {
		c.registry.DetachConn(connID)
		return
	}
	if sess.ConnID != connID {
		// The client reconnected under a new connection before the timer
		// fired; the session stays in the room. Only the stale connection
		// state needs cleanup.
		c.hub.Unsubscribe(sess.RoomCode, connID)
		c.registry.DetachConn(connID)
		return
	}

	removed := c.rooms.Leave(sess.RoomCode, sessionID)
	if removed == nil {
		// Someone else already completed the leave.
		c.registry.Remove(sessionID)
		return
	}

	c.hub.Unsubscribe(sess.RoomCode, connID)
	c.registry.Remove(sessionID)

	c.hub.Broadcast(ctx, sess.RoomCode, Event{Type: EventUserLeft, Data: UserLeftPayload{
		SessionID:   sessionID,
		DisplayName: sess.DisplayName,
	}})
	c.postSystemMessage(ctx, sess.RoomCode, sessionID, sess.DisplayName, sess.DisplayName+" left the room")
}

// SendMessage persists a chat message and broadcasts it to the whole room,
// including the sender.
func (c *Coordinator) SendMessage(ctx context.Context, conn Conn, text string) {
	if err := ValidateMessageText(text); err != nil {
		c.sendError(ctx, conn, err.(*RoomError))
		return
	}

	sess := c.registry.GetByConn(conn.ID())
	if sess == nil {
		c.sendError(ctx, conn, roomErr(CodeRoomNotFound, "not in a room"))
		return
	}

	msg, err := c.repo.AddMessage(ctx, &domain.Message{
		RoomCode:    sess.RoomCode,
		SessionID:   sess.SessionID,
		DisplayName: sess.DisplayName,
		Body:        strings.TrimSpace(text),
		Kind:        domain.MessageChat,
	})
	if err != nil {
		slog.Error("failed to persist message", "room_code", sess.RoomCode, "session_id", sess.SessionID, "error", err)
		c.sendError(ctx, conn, roomErr(CodeInternal, "could not send message"))
		return
	}

	if err := c.repo.TouchRoom(ctx, sess.RoomCode); err != nil {
		slog.Warn("failed to bump room activity", "room_code", sess.RoomCode, "error", err)
	}

	c.hub.Broadcast(ctx, sess.RoomCode, Event{Type: EventMessage, Data: msg})
}

// StartTyping broadcasts a typing indicator to the room, excluding the
// sender. Typing state is never persisted.
func (c *Coordinator) StartTyping(ctx context.Context, conn Conn) {
	sess := c.registry.GetByConn(conn.ID())
	if sess == nil {
		return
	}
	c.hub.Broadcast(ctx, sess.RoomCode, Event{Type: EventTypingStarted, Data: TypingPayload{
		SessionID:   sess.SessionID,
		DisplayName: sess.DisplayName,
	}}, conn.ID())
}

// StopTyping broadcasts the end of a typing indicator, excluding the sender.
func (c *Coordinator) StopTyping(ctx context.Context, conn Conn) {
	sess := c.registry.GetByConn(conn.ID())
	if sess == nil {
		return
	}
	c.hub.Broadcast(ctx, sess.RoomCode, Event{Type: EventTypingStopped, Data: TypingPayload{
		SessionID: sess.SessionID,
	}}, conn.ID())
}

// postSystemMessage persists a system notice and broadcasts it to the whole
// room. System messages are durable only so the retention prune ages them
// out uniformly; history fetches exclude them.
func (c *Coordinator) postSystemMessage(ctx context.Context, roomCode, sessionID, displayName, text string) {
	msg, err := c.repo.AddMessage(ctx, &domain.Message{
		RoomCode:    roomCode,
		SessionID:   sessionID,
		DisplayName: displayName,
		Body:        text,
		Kind:        domain.MessageSystem,
	})
	if err != nil {
		slog.Warn("failed to persist system message", "room_code", roomCode, "error", err)
		return
	}
	c.hub.Broadcast(ctx, roomCode, Event{Type: EventMessage, Data: msg})
}
