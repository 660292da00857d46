package playback

import (
	"math"
	"sync"

	"github.com/dkeye/WatchParty/internal/domain"
)

const DefaultDriftTolerance = 1.0

// Applied reports which commands Apply issued.
type Applied struct {
	Loaded bool
	Seeked bool
	Action domain.PlaybackAction
}

// Synchronizer applies remote playback state to a local player and turns
// local player events into outbound video actions.
//
// Events caused by its own commands are expected and swallowed, so a
// remote pause does not bounce back to the room as a fresh video-action.
type Synchronizer struct {
	player    Player
	tolerance float64
	emit      func(domain.PlaybackState)

	mu      sync.Mutex
	pending map[EventKind]int
}

// NewSynchronizer wires player to emit. tolerance <= 0 uses DefaultDriftTolerance.
func NewSynchronizer(player Player, tolerance float64, emit func(domain.PlaybackState)) *Synchronizer {
	if tolerance <= 0 {
		tolerance = DefaultDriftTolerance
	}
	return &Synchronizer{
		player:    player,
		tolerance: tolerance,
		emit:      emit,
		pending:   make(map[EventKind]int),
	}
}

func (s *Synchronizer) Tolerance() float64 { return s.tolerance }

// Apply brings the local player to the remote state: switch source, seek
// if drift exceeds the tolerance, then play or pause.
func (s *Synchronizer) Apply(remote domain.PlaybackState) Applied {
	var out Applied

	if remote.Source != "" && remote.Source != s.player.Source() {
		if s.player.State() == Playing {
			s.expect(EventPause)
		}
		s.player.Load(remote.Source)
		out.Loaded = true
	}

	if math.Abs(s.player.Position()-remote.Position) > s.tolerance {
		s.expect(EventSeeked)
		s.player.Seek(remote.Position)
		out.Seeked = true
	}

	switch remote.Action {
	case domain.ActionPlay:
		if s.player.State() != Playing {
			s.expect(EventPlay)
		}
		s.player.Play()
		out.Action = domain.ActionPlay
	case domain.ActionPause:
		if s.player.State() == Playing {
			s.expect(EventPause)
		}
		s.player.Pause()
		out.Action = domain.ActionPause
	}
	return out
}

// OnPlayerEvent is the player's event listener. User-initiated events are
// emitted; events we caused are consumed.
func (s *Synchronizer) OnPlayerEvent(kind EventKind) {
	if s.consume(kind) {
		return
	}
	s.publish()
}

// OnStateRequest answers a peer's request-video-state with our current state.
// An idle player with nothing loaded has nothing to offer.
func (s *Synchronizer) OnStateRequest() bool {
	if s.player.State() == Idle && s.player.Source() == "" {
		return false
	}
	s.publish()
	return true
}

func (s *Synchronizer) publish() {
	if s.emit != nil {
		s.emit(Snapshot(s.player))
	}
}

func (s *Synchronizer) expect(kind EventKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[kind]++
}

func (s *Synchronizer) consume(kind EventKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[kind] == 0 {
		return false
	}
	s.pending[kind]--
	return true
}
