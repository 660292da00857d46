package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/WatchParty/internal/domain"
)

type mockSignal struct {
	received []Frame
	closed   bool
	sendErr  error
	mu       sync.Mutex
}

func (m *mockSignal) TrySend(f Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.received = append(m.received, f)
	return nil
}

func (m *mockSignal) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *mockSignal) getReceived() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received
}

func newSession(name string, sig *mockSignal) MemberSession {
	return NewMemberSession(domain.NewMember(&domain.User{Username: name}), sig)
}

func TestRoom_AddRemove(t *testing.T) {
	room := NewRoomService(&domain.Room{ID: "r1"})
	a := newSession("Alice", &mockSignal{})

	assert.True(t, room.AddMember("a", a))
	assert.False(t, room.AddMember("a", a), "duplicate add is a no-op")
	assert.Equal(t, 1, room.MemberCount())
	assert.True(t, room.Has("a"))

	got, ok := room.RemoveMember("a")
	require.True(t, ok)
	assert.Same(t, a, got)

	_, ok = room.RemoveMember("a")
	assert.False(t, ok)
	assert.Equal(t, 0, room.MemberCount())
}

func TestRoom_Broadcast(t *testing.T) {
	tests := []struct {
		name         string
		from         SessionID
		failing      map[SessionID]error
		wantReceived map[SessionID]int
		wantSendTo   int
		wantDropped  int
	}{
		{
			name:         "excludes sender",
			from:         "a",
			wantReceived: map[SessionID]int{"a": 0, "b": 1, "c": 1},
			wantSendTo:   2,
		},
		{
			name:         "empty sender reaches everyone",
			from:         "",
			wantReceived: map[SessionID]int{"a": 1, "b": 1, "c": 1},
			wantSendTo:   3,
		},
		{
			name:         "failed recipient does not abort others",
			from:         "a",
			failing:      map[SessionID]error{"b": ErrBackpressure},
			wantReceived: map[SessionID]int{"a": 0, "b": 0, "c": 1},
			wantSendTo:   1,
			wantDropped:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := NewRoomService(&domain.Room{ID: "r1"})
			signals := map[SessionID]*mockSignal{}
			for _, sid := range []SessionID{"a", "b", "c"} {
				sig := &mockSignal{sendErr: tt.failing[sid]}
				signals[sid] = sig
				room.AddMember(sid, newSession(string(sid), sig))
			}

			res := room.Broadcast(tt.from, Frame("payload"))

			assert.Equal(t, tt.wantSendTo, res.SendTo)
			assert.Len(t, res.Dropped, tt.wantDropped)
			for sid := range tt.failing {
				assert.Contains(t, res.Dropped, sid)
			}
			for sid, want := range tt.wantReceived {
				assert.Len(t, signals[sid].getReceived(), want, "member %s", sid)
			}
		})
	}
}

func TestRoom_MembersSnapshot(t *testing.T) {
	room := NewRoomService(&domain.Room{ID: "r1"})
	room.AddMember("b", newSession("Bob", &mockSignal{}))
	room.AddMember("a", newSession("Alice", &mockSignal{}))
	room.AddMember("a2", newSession("Alice", &mockSignal{}))

	snap := room.MembersSnapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "Alice", snap[0].Username)
	assert.Equal(t, "Alice", snap[1].Username)
	assert.Equal(t, "Bob", snap[2].Username)
}
