// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/roomchat/internal/domain"
)

// ErrRoomExists is returned when creating a room whose code is already taken.
var ErrRoomExists = errors.New("room already exists")

// Repository defines the interface for persisting rooms and messages.
type Repository interface {
	// CreateRoom inserts durable metadata for a new room.
	// Returns ErrRoomExists if the code is already taken.
	CreateRoom(ctx context.Context, code string) error

	// GetRoom retrieves room metadata by code. Returns nil, nil if absent.
	GetRoom(ctx context.Context, code string) (*domain.Room, error)

	// TouchRoom bumps the room's last-activity marker to now.
	TouchRoom(ctx context.Context, code string) error

	// AddMessage persists a message, assigning its unique ID and timestamp
	// if unset, and returns the stored message.
	AddMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error)

	// ListMessages returns up to limit chat messages for a room, ascending
	// by timestamp with insertion-order tie-break. System messages are
	// excluded; they are delivered only as transient broadcasts.
	ListMessages(ctx context.Context, code string, limit int) ([]*domain.Message, error)

	// StaleRooms returns the codes of rooms whose last activity is older
	// than the given age.
	StaleRooms(ctx context.Context, olderThan time.Duration) ([]string, error)

	// DeleteRoom removes a room and all of its messages.
	DeleteRoom(ctx context.Context, code string) error

	// PruneMessages deletes all messages older than the given age,
	// regardless of room, and returns the number deleted.
	PruneMessages(ctx context.Context, olderThan time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
