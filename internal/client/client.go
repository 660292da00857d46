// Package client is a Go participant for a watch party room. It speaks the
// relay's WebSocket protocol and can drive a local player through a
// playback.Synchronizer.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/dkeye/WatchParty/internal/playback"
	"github.com/dkeye/WatchParty/internal/protocol"
)

const writeWait = 5 * time.Second

var (
	ErrClosed        = errors.New("client closed")
	ErrNotJoined     = errors.New("client has not joined a room")
	ErrAlreadyJoined = errors.New("client already joined a room")
)

// Handlers receive inbound events on the client's read goroutine.
// Any of them may be nil.
type Handlers struct {
	OnJoined       func(notice string)
	OnLeft         func(notice string)
	OnMessage      func(msg protocol.ReceiveMessage)
	OnSync         func(state domain.PlaybackState, applied playback.Applied)
	OnStateRequest func()
	OnError        func(e protocol.Error)
	OnPong         func()
}

type Client struct {
	conn     *websocket.Conn
	handlers Handlers

	writeMu sync.Mutex

	mu     sync.RWMutex
	room   domain.RoomID
	syncer *playback.Synchronizer

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Dial connects to a relay WebSocket endpoint such as ws://host:8080/api/ws.
func Dial(ctx context.Context, url string, h Handlers) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{
		conn:     conn,
		handlers: h,
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Attach routes sync-video and request-video-state through s.
// s is usually built with c.PublishState as its emit func.
func (c *Client) Attach(s *playback.Synchronizer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncer = s
}

func (c *Client) Room() domain.RoomID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

// Join asks to enter room and remembers it right away. A refusal reported
// by the server (invalid_room, invalid_username, already_joined) forgets it
// again; servers that do not report errors leave the refusal unnoticed.
func (c *Client) Join(room domain.RoomID, username string) error {
	c.mu.Lock()
	if c.room != "" {
		c.mu.Unlock()
		return ErrAlreadyJoined
	}
	c.room = room
	c.mu.Unlock()
	if err := c.send(protocol.EventJoinRoom, protocol.JoinRoom{RoomID: room, Username: username}); err != nil {
		c.forgetRoom()
		return err
	}
	return nil
}

func (c *Client) forgetRoom() {
	c.mu.Lock()
	c.room = ""
	c.mu.Unlock()
}

func joinRefused(code string) bool {
	switch code {
	case "invalid_room", "invalid_username", "already_joined":
		return true
	}
	return false
}

func (c *Client) Leave() error {
	room := c.Room()
	if room == "" {
		return ErrNotJoined
	}
	if err := c.send(protocol.EventLeaveRoom, protocol.LeaveRoom{RoomID: room}); err != nil {
		return err
	}
	c.forgetRoom()
	return nil
}

// SendMessage relays text to the others in the room. The relay does not
// echo it back, so callers show their own line locally.
func (c *Client) SendMessage(text string) error {
	room := c.Room()
	if room == "" {
		return ErrNotJoined
	}
	return c.send(protocol.EventSendMessage, protocol.SendMessage{RoomID: room, Message: text})
}

func (c *Client) VideoAction(state domain.PlaybackState) error {
	room := c.Room()
	if room == "" {
		return ErrNotJoined
	}
	return c.send(protocol.EventVideoAction, protocol.VideoAction{RoomID: room, PlaybackState: state})
}

// PublishState is VideoAction for use as a Synchronizer emit func.
func (c *Client) PublishState(state domain.PlaybackState) {
	if err := c.VideoAction(state); err != nil && !errors.Is(err, ErrNotJoined) {
		log.Warn().Err(err).Str("module", "client").Msg("publish state")
	}
}

func (c *Client) RequestVideoState() error {
	room := c.Room()
	if room == "" {
		return ErrNotJoined
	}
	return c.send(protocol.EventRequestVideoState, protocol.RequestVideoState{RoomID: room})
}

func (c *Client) Ping() error {
	return c.send(protocol.EventPing, nil)
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the read loop stopped, nil after a local Close.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) send(event string, payload any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer c.closeOnce.Do(func() { close(c.done) })
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, websocket.ErrCloseSent) {
				c.err = err
			}
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad frame")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env protocol.Envelope) {
	c.mu.RLock()
	syncer := c.syncer
	c.mu.RUnlock()
	h := c.handlers

	switch env.Type {
	case protocol.EventUserJoined, protocol.EventUserLeft:
		var notice string
		if err := json.Unmarshal(env.Data, &notice); err != nil {
			log.Warn().Err(err).Str("module", "client").Str("event", env.Type).Msg("bad notice")
			return
		}
		if env.Type == protocol.EventUserJoined && h.OnJoined != nil {
			h.OnJoined(notice)
		}
		if env.Type == protocol.EventUserLeft && h.OnLeft != nil {
			h.OnLeft(notice)
		}
	case protocol.EventReceiveMessage:
		var msg protocol.ReceiveMessage
		if err := protocol.DecodeData(env, &msg); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad message")
			return
		}
		if h.OnMessage != nil {
			h.OnMessage(msg)
		}
	case protocol.EventSyncVideo:
		var state protocol.SyncVideo
		if err := protocol.DecodeData(env, &state); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad sync")
			return
		}
		var applied playback.Applied
		if syncer != nil {
			applied = syncer.Apply(state)
		}
		if h.OnSync != nil {
			h.OnSync(state, applied)
		}
	case protocol.EventRequestVideoState:
		if syncer != nil {
			syncer.OnStateRequest()
		}
		if h.OnStateRequest != nil {
			h.OnStateRequest()
		}
	case protocol.EventError:
		var e protocol.Error
		if err := protocol.DecodeData(env, &e); err != nil {
			return
		}
		if joinRefused(e.Code) {
			c.forgetRoom()
		}
		if h.OnError != nil {
			h.OnError(e)
		}
	case protocol.EventPong:
		if h.OnPong != nil {
			h.OnPong()
		}
	default:
		log.Debug().Str("module", "client").Str("event", env.Type).Msg("unhandled event")
	}
}
