package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/roomchat/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// fakeRepo is an in-memory store.Repository for coordinator and sweep tests.
type fakeRepo struct {
	mu       sync.Mutex
	rooms    map[string]time.Time // code -> last active
	messages []*domain.Message
	nextID   int

	// listHook runs at the start of ListMessages, outside the lock, to
	// simulate events interleaving with the history fetch suspension.
	listHook func()
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rooms: make(map[string]time.Time)}
}

func (f *fakeRepo) addRoom(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[code] = time.Now()
}

func (f *fakeRepo) CreateRoom(_ context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[code]; ok {
		return fmt.Errorf("insert room: UNIQUE constraint failed")
	}
	f.rooms[code] = time.Now()
	return nil
}

func (f *fakeRepo) GetRoom(_ context.Context, code string) (*domain.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lastActive, ok := f.rooms[code]
	if !ok {
		return nil, nil
	}
	return &domain.Room{Code: code, LastActiveAt: lastActive}, nil
}

func (f *fakeRepo) TouchRoom(_ context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[code]; ok {
		f.rooms[code] = time.Now()
	}
	return nil
}

func (f *fakeRepo) AddMessage(_ context.Context, msg *domain.Message) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *msg
	f.nextID++
	stored.ID = fmt.Sprintf("m%d", f.nextID)
	if stored.CreatedAt == 0 {
		stored.CreatedAt = time.Now().UnixMilli()
	}
	f.messages = append(f.messages, &stored)
	return &stored, nil
}

func (f *fakeRepo) ListMessages(_ context.Context, code string, limit int) ([]*domain.Message, error) {
	if f.listHook != nil {
		hook := f.listHook
		f.listHook = nil
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Message
	for _, msg := range f.messages {
		if msg.RoomCode == code && msg.Kind == domain.MessageChat {
			out = append(out, msg)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRepo) StaleRooms(_ context.Context, olderThan time.Duration) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	threshold := time.Now().Add(-olderThan)
	var codes []string
	for code, lastActive := range f.rooms {
		if lastActive.Before(threshold) {
			codes = append(codes, code)
		}
	}
	return codes, nil
}

func (f *fakeRepo) DeleteRoom(_ context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, code)
	kept := f.messages[:0]
	for _, msg := range f.messages {
		if msg.RoomCode != code {
			kept = append(kept, msg)
		}
	}
	f.messages = kept
	return nil
}

func (f *fakeRepo) PruneMessages(_ context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	threshold := time.Now().Add(-olderThan).UnixMilli()
	var pruned int64
	kept := f.messages[:0]
	for _, msg := range f.messages {
		if msg.CreatedAt < threshold {
			pruned++
			continue
		}
		kept = append(kept, msg)
	}
	f.messages = kept
	return pruned, nil
}

func (f *fakeRepo) Ping(_ context.Context) error { return nil }
func (f *fakeRepo) Close() error                 { return nil }

// systemMessages returns the bodies of persisted system messages for a room.
func (f *fakeRepo) systemMessages(code string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, msg := range f.messages {
		if msg.RoomCode == code && msg.Kind == domain.MessageSystem {
			out = append(out, msg.Body)
		}
	}
	return out
}

// fakeConn records every event written to it.
type fakeConn struct {
	id     string
	mu     sync.Mutex
	events []Event
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) WriteEvent(_ context.Context, evt Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *fakeConn) eventsOfType(eventType string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, evt := range c.events {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}

type fixture struct {
	repo     *fakeRepo
	registry *SessionRegistry
	rooms    *RoomManager
	hub      *Hub
	coord    *Coordinator
}

func newFixture(t *testing.T, grace time.Duration) *fixture {
	t.Helper()
	repo := newFakeRepo()
	registry := NewSessionRegistry()
	rooms := NewRoomManager(repo)
	hub := NewHub()
	return &fixture{
		repo:     repo,
		registry: registry,
		rooms:    rooms,
		hub:      hub,
		coord:    NewCoordinator(registry, rooms, hub, repo, grace, 100),
	}
}

func TestJoin_FreshPostsSystemMessage(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, time.Second)
	f.repo.addRoom("ROOM01")

	conn := newFakeConn("c1")
	sid := uuid.NewString()
	f.coord.Join(context.Background(), conn, sid, "ada", "ROOM01")

	members := f.rooms.Members("ROOM01")
	req.Len(members, 1)
	req.Equal(sid, members[0].SessionID)
	req.Equal([]string{"ada joined the room"}, f.repo.systemMessages("ROOM01"))
	req.Len(conn.eventsOfType(EventJoinedRoom), 1)
	req.True(f.hub.Subscribed("ROOM01", "c1"))
}

func TestJoin_RejoinIsSilent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, time.Second)
	f.repo.addRoom("ROOM01")
	sid := uuid.NewString()

	conn1 := newFakeConn("c1")
	f.coord.Join(context.Background(), conn1, sid, "ada", "ROOM01")

	peer := newFakeConn("peer")
	f.coord.Join(context.Background(), peer, uuid.NewString(), "bob", "ROOM01")
	peerBaseline := len(peer.eventsOfType(EventUserJoined))

	// Same session, new connection: reconnect after a refresh.
	conn2 := newFakeConn("c2")
	f.coord.Join(context.Background(), conn2, sid, "ada", "ROOM01")

	members := f.rooms.Members("ROOM01")
	req.Len(members, 2)
	var adaMembers []domain.Member
	for _, m := range members {
		if m.SessionID == sid {
			adaMembers = append(adaMembers, m)
		}
	}
	req.Len(adaMembers, 1, "rejoin must replace, not duplicate")
	req.Equal("c2", adaMembers[0].ConnID)

	// Exactly one persisted join notice, from the fresh join only.
	req.Equal([]string{"ada joined the room", "bob joined the room"}, f.repo.systemMessages("ROOM01"))

	// The presence broadcast still fires so peers learn the new connection.
	req.Len(peer.eventsOfType(EventUserJoined), peerBaseline+1)

	// Old connection must no longer resolve or receive broadcasts.
	req.Nil(f.registry.GetByConn("c1"))
	req.False(f.hub.Subscribed("ROOM01", "c1"))
	req.True(f.hub.Subscribed("ROOM01", "c2"))
	sess := f.registry.Get(sid)
	req.NotNil(sess)
	req.Equal("c2", sess.ConnID)
}

func TestJoin_RoomSwitchCleansUpOldRoom(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, time.Second)
	f.repo.addRoom("ROOMAA")
	f.repo.addRoom("ROOMBB")
	sid := uuid.NewString()

	watcherA := newFakeConn("wa")
	f.coord.Join(context.Background(), watcherA, uuid.NewString(), "watcher", "ROOMAA")

	conn := newFakeConn("c1")
	f.coord.Join(context.Background(), conn, sid, "ada", "ROOMAA")
	f.coord.Join(context.Background(), conn, sid, "ada", "ROOMBB")

	for _, m := range f.rooms.Members("ROOMAA") {
		req.NotEqual(sid, m.SessionID, "session must be gone from old room")
	}
	membersB := f.rooms.Members("ROOMBB")
	req.Len(membersB, 1)
	req.Equal(sid, membersB[0].SessionID)

	req.Equal([]string{"watcher joined the room", "ada joined the room", "ada left the room"},
		f.repo.systemMessages("ROOMAA"))
	req.Equal([]string{"ada joined the room"}, f.repo.systemMessages("ROOMBB"))

	req.Len(watcherA.eventsOfType(EventUserLeft), 1)
	req.False(f.hub.Subscribed("ROOMAA", "c1"))
	req.True(f.hub.Subscribed("ROOMBB", "c1"))
}

func TestJoin_SnapshotAndLiveStreamDoNotOverlap(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, time.Second)
	f.repo.addRoom("ROOM01")

	sender := newFakeConn("sender")
	f.coord.Join(context.Background(), sender, uuid.NewString(), "bob", "ROOM01")

	// A message lands while the joiner's history fetch is in flight.
	f.repo.listHook = func() {
		f.coord.SendMessage(context.Background(), sender, "mid-join message")
	}

	joiner := newFakeConn("joiner")
	f.coord.Join(context.Background(), joiner, uuid.NewString(), "ada", "ROOM01")

	snapshots := joiner.eventsOfType(EventJoinedRoom)
	req.Len(snapshots, 1)
	snapshot := snapshots[0].Data.(JoinedRoomPayload)

	inSnapshot := 0
	for _, msg := range snapshot.History {
		if msg.Body == "mid-join message" {
			inSnapshot++
		}
	}
	inLive := 0
	for _, evt := range joiner.eventsOfType(EventMessage) {
		if msg, ok := evt.Data.(*domain.Message); ok && msg.Body == "mid-join message" {
			inLive++
		}
	}
	req.Equal(1, inSnapshot+inLive, "mid-join message must reach the joiner exactly once")

	// The sender, already subscribed, sees it live exactly once.
	senderLive := 0
	for _, evt := range sender.eventsOfType(EventMessage) {
		if msg, ok := evt.Data.(*domain.Message); ok && msg.Body == "mid-join message" {
			senderLive++
		}
	}
	req.Equal(1, senderLive)
}

func TestDisconnect_ReconnectWithinGraceCancelsLeave(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, 50*time.Millisecond)
	f.repo.addRoom("ROOM01")
	sid := uuid.NewString()

	conn1 := newFakeConn("c1")
	f.coord.Join(context.Background(), conn1, sid, "ada", "ROOM01")
	f.coord.Disconnected(context.Background(), conn1)

	conn2 := newFakeConn("c2")
	f.coord.Join(context.Background(), conn2, sid, "ada", "ROOM01")

	// Well past the grace window.
	time.Sleep(150 * time.Millisecond)

	members := f.rooms.Members("ROOM01")
	req.Len(members, 1)
	req.Equal("c2", members[0].ConnID)
	req.Equal([]string{"ada joined the room"}, f.repo.systemMessages("ROOM01"),
		"no left/joined notices from a refresh")
	req.NotNil(f.registry.Get(sid))
}

func TestDisconnect_GraceExpiryCompletesLeave(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, 30*time.Millisecond)
	f.repo.addRoom("ROOM01")
	sid := uuid.NewString()

	peer := newFakeConn("peer")
	f.coord.Join(context.Background(), peer, uuid.NewString(), "bob", "ROOM01")

	conn := newFakeConn("c1")
	f.coord.Join(context.Background(), conn, sid, "ada", "ROOM01")
	f.coord.Disconnected(context.Background(), conn)

	req.Eventually(func() bool {
		return len(f.rooms.Members("ROOM01")) == 1
	}, time.Second, 10*time.Millisecond)

	req.Nil(f.registry.Get(sid))
	req.Equal([]string{"bob joined the room", "ada joined the room", "ada left the room"},
		f.repo.systemMessages("ROOM01"))
	req.Len(peer.eventsOfType(EventUserLeft), 1)
	req.False(f.hub.Subscribed("ROOM01", "c1"))
}

func TestDisconnect_BroadcastsTypingStoppedImmediately(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, time.Hour) // grace never fires in this test
	f.repo.addRoom("ROOM01")

	peer := newFakeConn("peer")
	f.coord.Join(context.Background(), peer, uuid.NewString(), "bob", "ROOM01")

	conn := newFakeConn("c1")
	sid := uuid.NewString()
	f.coord.Join(context.Background(), conn, sid, "ada", "ROOM01")
	f.coord.StartTyping(context.Background(), conn)
	req.Len(peer.eventsOfType(EventTypingStarted), 1)

	f.coord.Disconnected(context.Background(), conn)

	stopped := peer.eventsOfType(EventTypingStopped)
	req.Len(stopped, 1, "stale typing indicator must clear before the grace leave")
	req.Equal(sid, stopped[0].Data.(TypingPayload).SessionID)

	// Membership is untouched until the grace period elapses.
	req.Len(f.rooms.Members("ROOM01"), 2)
}

func TestJoin_ValidationAndNotFoundErrors(t *testing.T) {
	tests := []struct {
		name        string
		roomCode    string
		sessionID   string
		displayName string
		wantCode    string
	}{
		{"bad room code", "bad!", uuid.NewString(), "ada", CodeInvalidRoomCode},
		{"lowercase room code", "room01", uuid.NewString(), "ada", CodeInvalidRoomCode},
		{"bad session id", "ROOM01", "not-a-uuid", "ada", CodeInvalidSession},
		{"empty name", "ROOM01", uuid.NewString(), "   ", CodeInvalidName},
		{"unknown room", "NOROOM", uuid.NewString(), "ada", CodeRoomNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			f := newFixture(t, time.Second)
			f.repo.addRoom("ROOM01")

			conn := newFakeConn("c1")
			f.coord.Join(context.Background(), conn, tt.sessionID, tt.displayName, tt.roomCode)

			errs := conn.eventsOfType(EventRoomError)
			req.Len(errs, 1)
			req.Equal(tt.wantCode, errs[0].Data.(*RoomError).Code)

			// No room mutation on a rejected join.
			req.Empty(f.rooms.Members("ROOM01"))
			req.Equal(0, f.registry.Len())
		})
	}
}

func TestSendMessage_OutsideRoomIsRejected(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, time.Second)

	conn := newFakeConn("c1")
	f.coord.SendMessage(context.Background(), conn, "hello")

	errs := conn.eventsOfType(EventRoomError)
	req.Len(errs, 1)
	req.Equal(CodeRoomNotFound, errs[0].Data.(*RoomError).Code)
}

func TestSendMessage_BroadcastsToWholeRoom(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, time.Second)
	f.repo.addRoom("ROOM01")

	conn := newFakeConn("c1")
	peer := newFakeConn("c2")
	f.coord.Join(context.Background(), conn, uuid.NewString(), "ada", "ROOM01")
	f.coord.Join(context.Background(), peer, uuid.NewString(), "bob", "ROOM01")

	f.coord.SendMessage(context.Background(), conn, "hello")

	// Both see join notices as system broadcasts; exactly one chat line each,
	// including the sender's own.
	for _, c := range []*fakeConn{conn, peer} {
		chatSeen := 0
		for _, evt := range c.eventsOfType(EventMessage) {
			if msg := evt.Data.(*domain.Message); msg.Kind == domain.MessageChat {
				chatSeen++
				req.Equal("hello", msg.Body)
				req.Equal("ada", msg.DisplayName)
			}
		}
		req.Equal(1, chatSeen, "conn %s", c.ID())
	}
}

func TestClassifyJoin(t *testing.T) {
	req := require.New(t)
	req.Equal(joinFresh, classifyJoin(nil, "ROOM01"))
	req.Equal(joinRejoin, classifyJoin(&Session{RoomCode: "ROOM01"}, "ROOM01"))
	req.Equal(joinSwitch, classifyJoin(&Session{RoomCode: "ROOMAA"}, "ROOM01"))
}
