package chat

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/ashureev/roomchat/internal/domain"
	"github.com/ashureev/roomchat/internal/store"
)

const (
	roomCodeLength   = 6
	roomCodeCharset  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomCodeAttempts = 50
)

var (
	// ErrRoomNotFound is returned when a room has no durable record.
	ErrRoomNotFound = errors.New("room not found")
	// ErrCodeSpaceExhausted is returned when no unique room code could be
	// generated within the attempt bound.
	ErrCodeSpaceExhausted = errors.New("room code generation exhausted")
)

// RoomManager tracks transient per-room presence, decoupled from the
// durable store except for existence checks. Membership order is insertion
// order of each session's most recent join.
type RoomManager struct {
	mu      sync.RWMutex
	members map[string][]domain.Member
	repo    store.Repository
}

// NewRoomManager creates a RoomManager backed by the given store.
func NewRoomManager(repo store.Repository) *RoomManager {
	return &RoomManager{
		members: make(map[string][]domain.Member),
		repo:    repo,
	}
}

func generateRoomCode() (string, error) {
	buf := make([]byte, roomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate room code: %w", err)
	}
	for i, b := range buf {
		buf[i] = roomCodeCharset[int(b)%len(roomCodeCharset)]
	}
	return string(buf), nil
}

// CreateRoom generates a unique room code, creates the durable record, and
// initializes an empty membership list. Collisions against the store are
// retried up to a bound.
func (m *RoomManager) CreateRoom(ctx context.Context) (string, error) {
	for i := 0; i < roomCodeAttempts; i++ {
		code, err := generateRoomCode()
		if err != nil {
			return "", err
		}

		err = m.repo.CreateRoom(ctx, code)
		if errors.Is(err, store.ErrRoomExists) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create room: %w", err)
		}

		m.mu.Lock()
		m.members[code] = []domain.Member{}
		m.mu.Unlock()
		return code, nil
	}
	return "", ErrCodeSpaceExhausted
}

// Join adds a member to a room's presence list. The room must exist
// durably. An existing record with the same session identity is replaced,
// preserving the relative order of other members. A room that exists
// durably but has no in-memory list (process restart) is lazily
// initialized.
func (m *RoomManager) Join(ctx context.Context, code string, member domain.Member) error {
	room, err := m.repo.GetRoom(ctx, code)
	if err != nil {
		return fmt.Errorf("check room exists: %w", err)
	}
	if room == nil {
		return ErrRoomNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.members[code]
	if !ok {
		m.members[code] = []domain.Member{member}
		return nil
	}

	kept := current[:0]
	for _, existing := range current {
		if existing.SessionID != member.SessionID {
			kept = append(kept, existing)
		}
	}
	m.members[code] = append(kept, member)
	return nil
}

// Leave removes the member with the given session identity from a room and
// returns the removed record, or nil if the room or member is absent.
func (m *RoomManager) Leave(code, sessionID string) *domain.Member {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.members[code]
	if !ok {
		return nil
	}

	for i, member := range current {
		if member.SessionID == sessionID {
			removed := member
			m.members[code] = append(current[:i], current[i+1:]...)
			return &removed
		}
	}
	return nil
}

// Members returns a copy of a room's current presence list, or an empty
// slice if the room has no in-memory entry.
func (m *RoomManager) Members(code string) []domain.Member {
	m.mu.RLock()
	defer m.mu.RUnlock()

	current := m.members[code]
	out := make([]domain.Member, len(current))
	copy(out, current)
	return out
}

// Exists reports whether the room has a durable record. The membership
// manager holds no authority over existence.
func (m *RoomManager) Exists(ctx context.Context, code string) (bool, error) {
	room, err := m.repo.GetRoom(ctx, code)
	if err != nil {
		return false, fmt.Errorf("check room exists: %w", err)
	}
	return room != nil, nil
}

// Evict drops a room's in-memory presence list. It does not touch the
// durable store. Returns true if an entry was removed.
func (m *RoomManager) Evict(code string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.members[code]; !ok {
		return false
	}
	delete(m.members, code)
	return true
}
