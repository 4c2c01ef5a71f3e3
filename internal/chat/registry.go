// Package chat implements the session, presence, and room coordination core.
package chat

import (
	"sync"
	"time"
)

// Session is the durable identity of one client tab, mapped to its current
// transport connection. The pending-leave timer lives on the entity itself
// so a reconnect can cancel the correct timer by reference.
type Session struct {
	SessionID   string
	ConnID      string
	DisplayName string
	RoomCode    string
	JoinedAt    time.Time

	pendingLeave *time.Timer
}

// SessionRegistry is the single source of truth for which connection a
// session is currently on and which room it occupies. It keeps a reverse
// index from connection ID to session ID; the two maps must stay
// consistent.
type SessionRegistry struct {
	mu        sync.RWMutex
	bySession map[string]*Session
	byConn    map[string]string
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		bySession: make(map[string]*Session),
		byConn:    make(map[string]string),
	}
}

// Get returns the session for a session ID, or nil.
func (r *SessionRegistry) Get(sessionID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.bySession[sessionID]; ok {
		copied := *s
		return &copied
	}
	return nil
}

// GetByConn returns the session currently mapped to a connection ID, or nil.
func (r *SessionRegistry) GetByConn(connID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessionID, ok := r.byConn[connID]
	if !ok {
		return nil
	}
	if s, ok := r.bySession[sessionID]; ok {
		copied := *s
		return &copied
	}
	return nil
}

// Upsert inserts or replaces the entry for the session and (re)writes the
// connection reverse mapping. It does not remove a stale reverse mapping
// from a previous connection; callers performing a connection swap must
// call DetachConn with the old connection ID first.
func (r *SessionRegistry) Upsert(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.bySession[s.SessionID]; ok && s.pendingLeave == nil {
		// Preserve an attached timer across in-place updates.
		s.pendingLeave = existing.pendingLeave
	}
	r.bySession[s.SessionID] = s
	r.byConn[s.ConnID] = s.SessionID
}

// Remove deletes the session entry and its reverse mapping. No-op if absent.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.bySession[sessionID]
	if !ok {
		return
	}
	if s.pendingLeave != nil {
		s.pendingLeave.Stop()
		s.pendingLeave = nil
	}
	delete(r.bySession, sessionID)
	if r.byConn[s.ConnID] == sessionID {
		delete(r.byConn, s.ConnID)
	}
}

// DetachConn deletes only the reverse mapping for a connection, leaving the
// session entry untouched. Used when a session moves to a new connection
// and the old mapping must not resolve anymore.
func (r *SessionRegistry) DetachConn(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byConn, connID)
}

// CancelPendingLeave stops and clears any scheduled leave timer. Idempotent.
func (r *SessionRegistry) CancelPendingLeave(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.bySession[sessionID]
	if !ok || s.pendingLeave == nil {
		return
	}
	s.pendingLeave.Stop()
	s.pendingLeave = nil
}

// SchedulePendingLeave attaches a leave timer to the session. Overwrites any
// prior handle without stopping it; callers cancel first if replacement
// without leak is required.
func (r *SessionRegistry) SchedulePendingLeave(sessionID string, timer *time.Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.bySession[sessionID]
	if !ok {
		return
	}
	s.pendingLeave = timer
}

// Len returns the number of tracked sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySession)
}
