package signal

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/WatchParty/internal/app"
	"github.com/dkeye/WatchParty/internal/app/orch"
	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/dkeye/WatchParty/internal/protocol"
)

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *app.Rooms) {
	t.Helper()
	return newTestServerWithPolicy(t, opts, nil)
}

func newTestServerWithPolicy(t *testing.T, opts Options, policy app.Policy) (*httptest.Server, *app.Rooms) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rooms := app.NewRooms()
	reg := app.NewRegistry()
	o := orch.New(reg, rooms, app.NewRelay(rooms, reg, policy), nil)
	ctl := NewSignalWSController(o, opts)

	ctx, cancel := context.WithCancel(context.Background())
	r := gin.New()
	r.GET("/api/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(cancel)
	return srv, rooms
}

type peer struct {
	t  *testing.T
	ws *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server) *peer {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return &peer{t: t, ws: ws}
}

func (p *peer) send(event string, payload any) {
	p.t.Helper()
	frame, err := protocol.Encode(event, payload)
	require.NoError(p.t, err)
	require.NoError(p.t, p.ws.WriteMessage(websocket.TextMessage, frame))
}

func (p *peer) next() protocol.Envelope {
	p.t.Helper()
	require.NoError(p.t, p.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := p.ws.ReadMessage()
	require.NoError(p.t, err)
	env, err := protocol.Decode(data)
	require.NoError(p.t, err)
	return env
}

// nextOf skips ahead to the next event of the given type.
func (p *peer) nextOf(event string) protocol.Envelope {
	p.t.Helper()
	for {
		if env := p.next(); env.Type == event {
			return env
		}
	}
}

// sync round-trips a ping and returns whatever arrived before the pong.
// Everything this peer sent earlier has been handled once it returns.
func (p *peer) sync() []protocol.Envelope {
	p.t.Helper()
	p.send(protocol.EventPing, nil)
	var out []protocol.Envelope
	for {
		env := p.next()
		if env.Type == protocol.EventPong {
			return out
		}
		out = append(out, env)
	}
}

func (p *peer) join(room domain.RoomID, name string) {
	p.t.Helper()
	p.send(protocol.EventJoinRoom, protocol.JoinRoom{RoomID: room, Username: name})
	p.sync()
}

func types(envs []protocol.Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Type)
	}
	return out
}

func memberNames(rooms *app.Rooms, id domain.RoomID) []string {
	room, ok := rooms.Get(id)
	if !ok {
		return nil
	}
	var names []string
	for _, m := range room.MembersSnapshot() {
		names = append(names, m.Username)
	}
	return names
}

func TestChatFanOut(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	alice, bob, carol, dave := dial(t, srv), dial(t, srv), dial(t, srv), dial(t, srv)
	alice.join("r1", "Alice")
	bob.join("r1", "Bob")
	carol.join("r1", "Carol")
	dave.join("r2", "Dave")

	alice.send(protocol.EventSendMessage, protocol.SendMessage{RoomID: "r1", Username: "Alice", Message: "hello"})

	for _, p := range []*peer{bob, carol} {
		env := p.nextOf(protocol.EventReceiveMessage)
		assert.JSONEq(t, `{"username":"Alice","message":"hello"}`, string(env.Data))
	}
	assert.Equal(t, []string{protocol.EventUserJoined, protocol.EventUserJoined}, types(alice.sync()),
		"sender only saw the two joins")
	assert.Empty(t, dave.sync(), "other rooms see nothing")
}

func TestJoinIsSeenBeforeJoinersMessages(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	alice, bob, mallory := dial(t, srv), dial(t, srv), dial(t, srv)
	alice.join("r1", "Alice")
	bob.join("r1", "Bob")

	mallory.send(protocol.EventJoinRoom, protocol.JoinRoom{RoomID: "r1", Username: "Mallory"})
	mallory.send(protocol.EventSendMessage, protocol.SendMessage{RoomID: "r1", Username: "Mallory", Message: "first!"})

	for _, p := range []*peer{alice, bob} {
		joined := p.nextOf(protocol.EventUserJoined)
		if string(joined.Data) == `"Bob joined"` {
			joined = p.next()
		}
		assert.JSONEq(t, `"Mallory joined"`, string(joined.Data))
		assert.Equal(t, protocol.EventReceiveMessage, p.next().Type)
	}
}

func TestVideoRelay(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	alice, bob := dial(t, srv), dial(t, srv)
	alice.join("r1", "Alice")
	bob.join("r1", "Bob")

	alice.send(protocol.EventVideoAction, protocol.VideoAction{
		RoomID:        "r1",
		PlaybackState: domain.PlaybackState{Action: domain.ActionPlay, Position: 12.3, Source: "u1"},
	})
	env := bob.nextOf(protocol.EventSyncVideo)
	assert.JSONEq(t, `{"action":"play","currentTime":12.3,"videoUrl":"u1"}`, string(env.Data))

	bob.send(protocol.EventRequestVideoState, protocol.RequestVideoState{RoomID: "r1"})
	req := alice.nextOf(protocol.EventRequestVideoState)
	assert.Empty(t, req.Data)
	assert.Empty(t, bob.sync(), "requester is not asked")
}

func TestDisconnectCleanup(t *testing.T) {
	srv, rooms := newTestServer(t, Options{})
	alice, bob, carol := dial(t, srv), dial(t, srv), dial(t, srv)
	alice.join("r1", "Alice")
	bob.join("r1", "Bob")
	carol.join("r1", "Carol")

	require.NoError(t, bob.ws.Close())

	for _, p := range []*peer{alice, carol} {
		env := p.nextOf(protocol.EventUserLeft)
		assert.JSONEq(t, `"Bob left"`, string(env.Data))
	}
	assert.Equal(t, []string{"Alice", "Carol"}, memberNames(rooms, "r1"))

	alice.send(protocol.EventSendMessage, protocol.SendMessage{Message: "still here"})
	assert.Equal(t, protocol.EventReceiveMessage, carol.nextOf(protocol.EventReceiveMessage).Type)

	require.NoError(t, alice.ws.Close())
	require.NoError(t, carol.ws.Close())
	assert.Eventually(t, func() bool { return len(rooms.List()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestKickPolicy_RemovesSlowReader(t *testing.T) {
	srv, rooms := newTestServerWithPolicy(t, Options{SendBuffer: 1}, app.KickPolicy{})
	talker, slow := dial(t, srv), dial(t, srv)
	talker.join("r1", "Talker")
	slow.join("r1", "Slow")

	// slow never reads again, so once its socket buffers fill its queue
	// rejects a frame and the relay kicks it.
	text := strings.Repeat("x", domain.MaxMessageLen)
	deadline := time.Now().Add(10 * time.Second)
	for slices.Contains(memberNames(rooms, "r1"), "Slow") && time.Now().Before(deadline) {
		talker.send(protocol.EventSendMessage, protocol.SendMessage{Message: text})
	}

	assert.Eventually(t, func() bool {
		return slices.Equal(memberNames(rooms, "r1"), []string{"Talker"})
	}, 2*time.Second, 10*time.Millisecond)
	env := talker.nextOf(protocol.EventUserLeft)
	assert.JSONEq(t, `"Slow left"`, string(env.Data))

	require.NoError(t, slow.ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var err error
	for err == nil {
		_, _, err = slow.ws.ReadMessage()
	}
	var ne net.Error
	assert.False(t, errors.As(err, &ne) && ne.Timeout(), "server closed the kicked socket: %v", err)
}

func TestEventsBeforeJoin_SilentByDefault(t *testing.T) {
	srv, rooms := newTestServer(t, Options{})
	p := dial(t, srv)

	p.send(protocol.EventSendMessage, protocol.SendMessage{RoomID: "r1", Username: "X", Message: "hi"})
	p.send(protocol.EventVideoAction, protocol.VideoAction{RoomID: "r1", PlaybackState: domain.PlaybackState{Action: domain.ActionPause}})

	assert.Empty(t, p.sync())
	assert.Empty(t, rooms.List())
}

func TestErrorReporting(t *testing.T) {
	srv, _ := newTestServer(t, Options{ReportErrors: true})

	tests := []struct {
		name     string
		joined   bool
		event    string
		payload  any
		wantCode string
	}{
		{name: "before join", event: protocol.EventSendMessage, payload: protocol.SendMessage{Message: "hi"}, wantCode: "not_joined"},
		{name: "bad username", event: protocol.EventJoinRoom, payload: protocol.JoinRoom{RoomID: "r1", Username: "  "}, wantCode: "invalid_username"},
		{name: "bad room", event: protocol.EventJoinRoom, payload: protocol.JoinRoom{Username: "Alice"}, wantCode: "invalid_room"},
		{name: "unknown event", event: "rename", payload: map[string]string{"name": "x"}, wantCode: "unknown_event"},
		{name: "missing payload", event: protocol.EventJoinRoom, wantCode: "bad_payload"},
		{name: "duplicate join", joined: true, event: protocol.EventJoinRoom, payload: protocol.JoinRoom{RoomID: "r2", Username: "Alice"}, wantCode: "already_joined"},
		{name: "room mismatch", joined: true, event: protocol.EventSendMessage, payload: protocol.SendMessage{RoomID: "r9", Message: "hi"}, wantCode: "room_mismatch"},
		{name: "bad action", joined: true, event: protocol.EventVideoAction, payload: map[string]any{"action": "rewind"}, wantCode: "invalid_playback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := dial(t, srv)
			if tt.joined {
				p.join(domain.RoomID(tt.name), "Alice")
			}
			p.send(tt.event, tt.payload)
			got := p.sync()
			require.Len(t, got, 1)
			assert.Equal(t, protocol.EventError, got[0].Type)

			var e protocol.Error
			require.NoError(t, protocol.DecodeData(got[0], &e))
			assert.Equal(t, tt.wantCode, e.Code)
			assert.NotEmpty(t, e.Message)
		})
	}

	t.Run("malformed frame", func(t *testing.T) {
		p := dial(t, srv)
		require.NoError(t, p.ws.WriteMessage(websocket.TextMessage, []byte("not json")))
		got := p.sync()
		require.Len(t, got, 1)
		assert.Contains(t, string(got[0].Data), "bad_payload")
	})
}

func TestRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, Options{RateLimit: 2, RateInterval: time.Minute, ReportErrors: true})
	alice, bob := dial(t, srv), dial(t, srv)
	alice.join("r1", "Alice")
	bob.join("r1", "Bob")
	alice.sync()

	for _, text := range []string{"one", "two", "three"} {
		alice.send(protocol.EventSendMessage, protocol.SendMessage{Message: text})
	}
	got := alice.sync()
	require.Len(t, got, 1)
	assert.Contains(t, string(got[0].Data), "rate_limited")

	alice.send(protocol.EventLeaveRoom, protocol.LeaveRoom{RoomID: "r1"})
	assert.Equal(t, []string{protocol.EventReceiveMessage, protocol.EventReceiveMessage, protocol.EventUserLeft},
		[]string{bob.next().Type, bob.next().Type, bob.next().Type})
}

func TestLeaveKeepsConnection(t *testing.T) {
	srv, rooms := newTestServer(t, Options{})
	alice, bob := dial(t, srv), dial(t, srv)
	alice.join("r1", "Alice")
	bob.join("r1", "Bob")

	bob.send(protocol.EventLeaveRoom, nil)
	assert.Empty(t, bob.sync())
	assert.Equal(t, []string{"Alice"}, memberNames(rooms, "r1"))

	bob.join("r2", "Bob")
	assert.Equal(t, []string{"Bob"}, memberNames(rooms, "r2"))
	assert.Equal(t, []string{protocol.EventUserJoined, protocol.EventUserLeft}, types(alice.sync()))
}

func TestWsSignalConn_Queue(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	conn := newWsSignalConn(ws, 1)

	require.NoError(t, conn.TrySend(core.Frame("a")))
	assert.ErrorIs(t, conn.TrySend(core.Frame("b")), core.ErrBackpressure)

	conn.Close()
	conn.Close()
	assert.ErrorIs(t, conn.TrySend(core.Frame("c")), core.ErrConnectionClosed)
}
