package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/roomchat/internal/shared"
	"github.com/ashureev/roomchat/internal/store"
)

// SweepConfig tunes the retention sweep.
type SweepConfig struct {
	Interval         time.Duration
	RoomTTL          time.Duration
	MessageRetention time.Duration
}

// deleteRoomWithRetry deletes a room with exponential backoff to handle
// SQLITE_BUSY errors.
func deleteRoomWithRetry(ctx context.Context, repo store.Repository, code string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := repo.DeleteRoom(ctx, code)
		if err == nil {
			return nil
		}

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
			slog.Debug("room delete hit SQLITE_BUSY, retrying",
				"room_code", code,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}

		return err
	}

	return nil
}

// StartRetentionSweep runs a background goroutine that periodically deletes
// stale, unoccupied rooms and prunes old messages.
func StartRetentionSweep(ctx context.Context, repo store.Repository, rooms *RoomManager, hub *Hub, cfg SweepConfig) {
	ticker := time.NewTicker(cfg.Interval)
	go func() {
		defer ticker.Stop()
		slog.Info("retention sweep started",
			"interval", cfg.Interval,
			"room_ttl", cfg.RoomTTL,
			"message_retention", cfg.MessageRetention)

		for {
			select {
			case <-ticker.C:
				sweepOnce(ctx, repo, rooms, hub, cfg)
			case <-ctx.Done():
				slog.Info("retention sweep shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// sweepOnce performs one sweep pass. A room with live occupants is never
// deleted, however stale its activity marker: its marker is bumped instead
// so it is not re-flagged every pass. Message pruning runs unconditionally
// so long-lived quiet rooms still shed very old history.
func sweepOnce(ctx context.Context, repo store.Repository, rooms *RoomManager, hub *Hub, cfg SweepConfig) (deleted, skipped int, pruned int64) {
	stale, err := repo.StaleRooms(ctx, cfg.RoomTTL)
	if err != nil {
		slog.Error("retention sweep failed to query stale rooms", "error", err)
		return 0, 0, 0
	}

	for _, code := range stale {
		if len(rooms.Members(code)) > 0 {
			// A lurker with no recent message activity still counts as
			// live occupancy.
			if err := repo.TouchRoom(ctx, code); err != nil {
				slog.Warn("retention sweep failed to bump occupied room", "room_code", code, "error", err)
			}
			skipped++
			continue
		}

		if err := deleteRoomWithRetry(ctx, repo, code); err != nil {
			slog.Error("retention sweep failed to delete room", "room_code", code, "error", err)
			continue
		}
		rooms.Evict(code)
		hub.DropRoom(code)
		deleted++
	}

	pruned, err = repo.PruneMessages(ctx, cfg.MessageRetention)
	if err != nil {
		slog.Error("retention sweep failed to prune messages", "error", err)
		pruned = 0
	}

	if deleted > 0 || skipped > 0 || pruned > 0 {
		slog.Info("retention sweep completed",
			"rooms_deleted", deleted,
			"rooms_skipped", skipped,
			"messages_pruned", pruned)
	}
	return deleted, skipped, pruned
}
