package app

import (
	"context"
	"sync"

	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/rs/zerolog/log"
)

// Peer is who sits behind a connection: the client token from the HTTP
// session and, when admission is on, the admitted account id.
type Peer struct {
	Token  string
	UserID domain.UserID
}

type sessionEntry struct {
	Peer    Peer
	Conn    core.SignalConnection
	RoomID  domain.RoomID
	Session core.MemberSession
	Cancel  context.CancelFunc
}

// SessionSnapshot is what Unbind hands back for cleanup.
type SessionSnapshot struct {
	SID     core.SessionID
	Peer    Peer
	RoomID  domain.RoomID
	Session core.MemberSession
}

// Registry maps live connections to the room they are bound to.
// A connection is bound to at most one room at a time.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

func (r *Registry) BindSignal(sid core.SessionID, peer Peer, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Peer: peer, Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(peer.UserID)).Msg("bound signal")
}

func (r *Registry) PeerOf(sid core.SessionID) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Peer, true
	}
	return Peer{}, false
}

func (r *Registry) Signal(sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Conn, true
	}
	return nil, false
}

// AttachRoom binds sid to roomID with the given member session.
// It reports false when sid is unknown or already bound to a room.
func (r *Registry) AttachRoom(sid core.SessionID, roomID domain.RoomID, sess core.MemberSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.RoomID != "" {
		return false
	}
	entry.RoomID = roomID
	entry.Session = sess
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(roomID)).Msg("attached room")
	return true
}

// DetachRoom clears the room binding and returns what it was.
func (r *Registry) DetachRoom(sid core.SessionID) (domain.RoomID, core.MemberSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.RoomID == "" {
		return "", nil, false
	}
	roomID, sess := entry.RoomID, entry.Session
	entry.RoomID = ""
	entry.Session = nil
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(roomID)).Msg("detached room")
	return roomID, sess, true
}

func (r *Registry) RoomOf(sid core.SessionID) (domain.RoomID, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.RoomID == "" {
		return "", nil, false
	}
	return entry.RoomID, entry.Session, true
}

// Unbind forgets sid. Only the first call for a sid reports true,
// which makes disconnect cleanup run exactly once.
func (r *Registry) Unbind(sid core.SessionID) (SessionSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok {
		return SessionSnapshot{}, false
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	return SessionSnapshot{SID: sid, Peer: entry.Peer, RoomID: entry.RoomID, Session: entry.Session}, true
}

// Cancel stops the connection bound to sid through its context. The
// connection's own read loop then unbinds it.
func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
