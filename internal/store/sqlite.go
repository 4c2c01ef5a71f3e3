package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/roomchat/internal/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS rooms (
		code TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_active_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rooms_last_active ON rooms(last_active_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_code TEXT NOT NULL,
		session_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		body TEXT NOT NULL,
		kind TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_code, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateRoom inserts durable metadata for a new room.
func (s *SQLiteStore) CreateRoom(ctx context.Context, code string) error {
	now := time.Now().UnixMilli()
	query := `INSERT INTO rooms (code, created_at, last_active_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, code, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrRoomExists
		}
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

// GetRoom retrieves room metadata by code.
func (s *SQLiteStore) GetRoom(ctx context.Context, code string) (*domain.Room, error) {
	query := `SELECT code, created_at, last_active_at FROM rooms WHERE code = ?`

	row := s.db.QueryRowContext(ctx, query, code)

	var room domain.Room
	var createdAt, lastActiveAt int64

	err := row.Scan(&room.Code, &createdAt, &lastActiveAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan room row: %w", err)
	}

	room.CreatedAt = time.UnixMilli(createdAt)
	room.LastActiveAt = time.UnixMilli(lastActiveAt)

	return &room, nil
}

// TouchRoom bumps the room's last-activity marker to now.
func (s *SQLiteStore) TouchRoom(ctx context.Context, code string) error {
	query := `UPDATE rooms SET last_active_at = ? WHERE code = ?`
	result, err := s.db.ExecContext(ctx, query, time.Now().UnixMilli(), code)
	if err != nil {
		return fmt.Errorf("touch room: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("TouchRoom affected 0 rows", "room_code", code)
	}

	return nil
}

// AddMessage persists a message, assigning its ID and timestamp if unset.
func (s *SQLiteStore) AddMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	stored := *msg
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt == 0 {
		stored.CreatedAt = time.Now().UnixMilli()
	}

	query := `
	INSERT INTO messages (id, room_code, session_id, display_name, body, kind, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		stored.ID, stored.RoomCode, stored.SessionID,
		stored.DisplayName, stored.Body, string(stored.Kind), stored.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	return &stored, nil
}

// ListMessages returns up to limit chat messages for a room, oldest first.
// Ties on created_at resolve in insertion order via rowid.
func (s *SQLiteStore) ListMessages(ctx context.Context, code string, limit int) ([]*domain.Message, error) {
	query := `
		SELECT id, room_code, session_id, display_name, body, kind, created_at
		FROM messages
		WHERE room_code = ? AND kind = ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, code, string(domain.MessageChat), limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var messages []*domain.Message
	for rows.Next() {
		var msg domain.Message
		var kind string
		if err := rows.Scan(
			&msg.ID, &msg.RoomCode, &msg.SessionID,
			&msg.DisplayName, &msg.Body, &kind, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Kind = domain.MessageKind(kind)
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// StaleRooms returns codes of rooms inactive for longer than olderThan.
func (s *SQLiteStore) StaleRooms(ctx context.Context, olderThan time.Duration) ([]string, error) {
	threshold := time.Now().Add(-olderThan).UnixMilli()
	query := `SELECT code FROM rooms WHERE last_active_at < ?`

	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query stale rooms: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close stale room rows", "error", closeErr)
		}
	}()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan stale room row: %w", err)
		}
		codes = append(codes, code)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale rooms: %w", err)
	}

	return codes, nil
}

// DeleteRoom removes a room and all of its messages. The two deletes are
// sequenced, not wrapped in a transaction; a crash in between leaves
// orphaned messages that the age-based prune collects later.
func (s *SQLiteStore) DeleteRoom(ctx context.Context, code string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE room_code = ?`, code); err != nil {
		return fmt.Errorf("delete room messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE code = ?`, code); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

// PruneMessages deletes all messages older than olderThan.
func (s *SQLiteStore) PruneMessages(ctx context.Context, olderThan time.Duration) (int64, error) {
	threshold := time.Now().Add(-olderThan).UnixMilli()
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
