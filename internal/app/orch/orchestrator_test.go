package orch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/WatchParty/internal/app"
	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/dkeye/WatchParty/internal/protocol"
)

type mockSignal struct {
	received []core.Frame
	mu       sync.Mutex
}

func (m *mockSignal) TrySend(f core.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, f)
	return nil
}

func (m *mockSignal) Close() {}

func (m *mockSignal) events(t *testing.T) []protocol.Envelope {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(m.received))
	for _, f := range m.received {
		env, err := protocol.Decode(f)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

type mockStore struct {
	saved   []domain.ChatMessage
	saveErr error
	mu      sync.Mutex
}

func (m *mockStore) Save(_ context.Context, msg domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, msg)
	return nil
}

func (m *mockStore) List(context.Context, domain.RoomID, int) ([]domain.ChatMessage, error) {
	return nil, nil
}

func (m *mockStore) Close() error { return nil }

type fixture struct {
	orch  *Orchestrator
	rooms *app.Rooms
	store *mockStore
}

func newFixture() *fixture {
	rooms := app.NewRooms()
	store := &mockStore{}
	o := New(app.NewRegistry(), rooms, app.NewRelay(rooms, nil, nil), store)
	o.Now = func() time.Time { return time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC) }
	return &fixture{orch: o, rooms: rooms, store: store}
}

func (f *fixture) connect(sid core.SessionID) *mockSignal {
	sig := &mockSignal{}
	f.orch.Connect(sid, app.Peer{Token: "token-" + string(sid)}, sig, nil)
	return sig
}

func (f *fixture) join(t *testing.T, sid core.SessionID, room domain.RoomID, name string) *mockSignal {
	t.Helper()
	sig := f.connect(sid)
	require.NoError(t, f.orch.Join(sid, protocol.JoinRoom{RoomID: room, Username: name}))
	return sig
}

func (f *fixture) members(room domain.RoomID) []string {
	r, ok := f.rooms.Get(room)
	if !ok {
		return nil
	}
	var names []string
	for _, m := range r.MembersSnapshot() {
		names = append(names, m.Username)
	}
	return names
}

func TestJoin_AnnouncesToExistingMembers(t *testing.T) {
	f := newFixture()
	alice := f.join(t, "a", "r1", "Alice")
	bob := f.join(t, "b", "r1", "Bob")

	events := alice.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventUserJoined, events[0].Type)
	assert.Contains(t, string(events[0].Data), "Bob")

	assert.Empty(t, bob.events(t), "joiner is not told about itself")
	assert.Equal(t, []string{"Alice", "Bob"}, f.members("r1"))
}

func TestJoin_CarriesAdmittedUserID(t *testing.T) {
	f := newFixture()
	f.orch.Connect("a", app.Peer{Token: "t", UserID: "acct-7"}, &mockSignal{}, nil)
	f.join(t, "b", "r1", "Guest")
	require.NoError(t, f.orch.Join("a", protocol.JoinRoom{RoomID: "r1", Username: "Alice"}))

	r, ok := f.rooms.Get("r1")
	require.True(t, ok)
	ids := map[string]domain.UserID{}
	for _, m := range r.MembersSnapshot() {
		ids[m.Username] = m.ID
	}
	assert.Equal(t, map[string]domain.UserID{"Alice": "acct-7", "Guest": ""}, ids)
}

func TestJoin_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		req     protocol.JoinRoom
		wantErr error
	}{
		{name: "missing room", req: protocol.JoinRoom{Username: "Alice"}, wantErr: domain.ErrRoomIDEmpty},
		{name: "missing username", req: protocol.JoinRoom{RoomID: "r1"}, wantErr: domain.ErrUsernameEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.connect("a")

			err := f.orch.Join("a", tt.req)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.rooms.List(), "no room state mutated")
		})
	}
}

func TestJoin_UnknownSession(t *testing.T) {
	f := newFixture()
	err := f.orch.Join("ghost", protocol.JoinRoom{RoomID: "r1", Username: "Ghost"})
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestJoin_DuplicateIsNoop(t *testing.T) {
	f := newFixture()
	alice := f.join(t, "a", "r1", "Alice")
	f.join(t, "b", "r1", "Bob")

	err := f.orch.Join("b", protocol.JoinRoom{RoomID: "r2", Username: "Bob"})

	assert.ErrorIs(t, err, ErrAlreadyJoined)
	assert.Len(t, alice.events(t), 1, "no second notice")
	assert.Equal(t, []string{"Alice", "Bob"}, f.members("r1"))
	assert.Nil(t, f.members("r2"))
}

func TestSendMessage_RelaysToOthersOnly(t *testing.T) {
	f := newFixture()
	alice := f.join(t, "a", "r1", "Alice")
	bob := f.join(t, "b", "r1", "Bob")
	carol := f.join(t, "c", "r1", "Carol")
	outsider := f.join(t, "d", "r2", "Dave")

	msg, err := f.orch.SendMessage(context.Background(), "a", protocol.SendMessage{RoomID: "r1", Username: "Mallory", Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", msg.Username, "display name comes from the join")

	for name, sig := range map[string]*mockSignal{"bob": bob, "carol": carol} {
		var chats []protocol.Envelope
		for _, e := range sig.events(t) {
			if e.Type == protocol.EventReceiveMessage {
				chats = append(chats, e)
			}
		}
		require.Len(t, chats, 1, name)
		assert.JSONEq(t, `{"username":"Alice","message":"hello"}`, string(chats[0].Data), name)
	}
	for _, e := range alice.events(t) {
		assert.NotEqual(t, protocol.EventReceiveMessage, e.Type, "sender does not get its message back")
	}
	assert.Empty(t, outsider.events(t))

	require.Len(t, f.store.saved, 1)
	assert.Equal(t, "hello", f.store.saved[0].Text)
	assert.Equal(t, domain.RoomID("r1"), f.store.saved[0].RoomID)
}

func TestSendMessage_HistoryFailureStillRelays(t *testing.T) {
	f := newFixture()
	f.store.saveErr = errors.New("disk full")
	f.join(t, "a", "r1", "Alice")
	bob := f.join(t, "b", "r1", "Bob")

	_, err := f.orch.SendMessage(context.Background(), "a", protocol.SendMessage{Message: "still here"})
	require.NoError(t, err)

	events := bob.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventReceiveMessage, events[0].Type)
}

func TestEventsBeforeJoinAreRejected(t *testing.T) {
	f := newFixture()
	f.connect("a")
	ctx := context.Background()

	_, err := f.orch.SendMessage(ctx, "a", protocol.SendMessage{RoomID: "r1", Message: "hi"})
	assert.ErrorIs(t, err, ErrNotJoined)
	assert.ErrorIs(t, f.orch.VideoAction("a", protocol.VideoAction{RoomID: "r1", PlaybackState: domain.PlaybackState{Action: domain.ActionPlay}}), ErrNotJoined)
	assert.ErrorIs(t, f.orch.RequestVideoState("a", protocol.RequestVideoState{RoomID: "r1"}), ErrNotJoined)
	assert.ErrorIs(t, f.orch.Leave("a", protocol.LeaveRoom{}), ErrNotJoined)
	assert.Empty(t, f.store.saved)
}

func TestRoomMismatchIsRejected(t *testing.T) {
	f := newFixture()
	f.join(t, "a", "r1", "Alice")
	other := f.join(t, "b", "r2", "Bob")

	_, err := f.orch.SendMessage(context.Background(), "a", protocol.SendMessage{RoomID: "r2", Message: "sneaky"})
	assert.ErrorIs(t, err, ErrRoomMismatch)
	assert.Empty(t, other.events(t))
}

func TestJoinBeforeBroadcastOrdering(t *testing.T) {
	f := newFixture()
	alice := f.join(t, "a", "r1", "Alice")
	bob := f.join(t, "b", "r1", "Bob")

	f.join(t, "m", "r1", "Mallory")
	_, err := f.orch.SendMessage(context.Background(), "m", protocol.SendMessage{Message: "first!"})
	require.NoError(t, err)

	for name, sig := range map[string]*mockSignal{"alice": alice, "bob": bob} {
		var types []string
		for _, e := range sig.events(t) {
			if e.Type == protocol.EventUserJoined && string(e.Data) == `"Mallory joined"` {
				types = append(types, "join")
			}
			if e.Type == protocol.EventReceiveMessage {
				types = append(types, "chat")
			}
		}
		assert.Equal(t, []string{"join", "chat"}, types, name)
	}
}

func TestVideoAction(t *testing.T) {
	f := newFixture()
	alice := f.join(t, "a", "r1", "Alice")
	bob := f.join(t, "b", "r1", "Bob")

	state := domain.PlaybackState{Action: domain.ActionPlay, Position: 12.3, Source: "u1"}
	require.NoError(t, f.orch.VideoAction("a", protocol.VideoAction{RoomID: "r1", PlaybackState: state}))

	events := bob.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventSyncVideo, events[0].Type)
	assert.JSONEq(t, `{"action":"play","currentTime":12.3,"videoUrl":"u1"}`, string(events[0].Data))

	err := f.orch.VideoAction("a", protocol.VideoAction{PlaybackState: domain.PlaybackState{Action: "rewind"}})
	assert.ErrorIs(t, err, domain.ErrUnknownAction)
	assert.Len(t, bob.events(t), 1)

	require.NoError(t, f.orch.RequestVideoState("b", protocol.RequestVideoState{RoomID: "r1"}))
	aliceEvents := alice.events(t)
	assert.Equal(t, protocol.EventRequestVideoState, aliceEvents[len(aliceEvents)-1].Type)
}

func TestDisconnect_CleansUpExactlyOnce(t *testing.T) {
	f := newFixture()
	f.join(t, "a", "r1", "Alice")
	bob := f.join(t, "b", "r1", "Bob")

	f.orch.OnDisconnect("a")
	f.orch.OnDisconnect("a")

	assert.Equal(t, []string{"Bob"}, f.members("r1"))
	var left int
	for _, e := range bob.events(t) {
		if e.Type == protocol.EventUserLeft {
			left++
			assert.JSONEq(t, `"Alice left"`, string(e.Data))
		}
	}
	assert.Equal(t, 1, left)

	_, err := f.orch.SendMessage(context.Background(), "b", protocol.SendMessage{Message: "anyone?"})
	require.NoError(t, err)

	f.orch.OnDisconnect("b")
	assert.Empty(t, f.rooms.List(), "empty room dropped")
}

func TestDisconnect_WithoutJoin(t *testing.T) {
	f := newFixture()
	f.connect("a")
	f.orch.OnDisconnect("a")
	assert.Equal(t, 0, f.orch.Registry.Count())
}

func TestLeave_ThenRejoin(t *testing.T) {
	f := newFixture()
	alice := f.join(t, "a", "r1", "Alice")
	f.join(t, "b", "r1", "Bob")

	require.NoError(t, f.orch.Leave("b", protocol.LeaveRoom{RoomID: "r1"}))
	assert.Equal(t, []string{"Alice"}, f.members("r1"))

	require.NoError(t, f.orch.Join("b", protocol.JoinRoom{RoomID: "r2", Username: "Bob"}))
	assert.Equal(t, []string{"Bob"}, f.members("r2"))

	var types []string
	for _, e := range alice.events(t) {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{protocol.EventUserJoined, protocol.EventUserLeft}, types)
}
