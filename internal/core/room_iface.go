package core

import (
	"time"

	"github.com/dkeye/WatchParty/internal/domain"
)

// PublishResult reports delivery stats/backpressure to the relay.
// Dropped is keyed by the session that could not take the frame.
type PublishResult struct {
	SendTo  int
	Dropped map[SessionID]MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID       domain.UserID `json:"id,omitempty"`
	Username string        `json:"username"`
	JoinedAt time.Time     `json:"joined_at"`
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []MemberDTO
	Has(sid SessionID) bool

	AddMember(sid SessionID, ms MemberSession) bool
	RemoveMember(sid SessionID) (MemberSession, bool)
	// Broadcast fans data out to every member except from.
	// An empty from delivers to everyone.
	Broadcast(from SessionID, data Frame) PublishResult
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"member_count"`
}

// RoomRegistry tracks which rooms exist and who is in them.
// Rooms are created by the first Join and dropped by the last Leave.
type RoomRegistry interface {
	Join(id domain.RoomID, sid SessionID, ms MemberSession) (RoomService, bool)
	Leave(id domain.RoomID, sid SessionID) (MemberSession, bool)
	Get(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
}
