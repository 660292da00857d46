// Package playback keeps a local video player in step with the rest of a
// watch party room. The server only relays; all correction happens here.
package playback

import (
	"sync"

	"github.com/dkeye/WatchParty/internal/domain"
)

type State int

const (
	Idle State = iota
	Playing
	Paused
	Seeking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Seeking:
		return "seeking"
	}
	return "unknown"
}

// EventKind is what a player reports after its state changes.
type EventKind string

const (
	EventPlay   EventKind = "play"
	EventPause  EventKind = "pause"
	EventSeeked EventKind = "seeked"
)

// Player is the local media element being driven.
// Implementations report play/pause/seeked through the listener they were
// given, possibly asynchronously.
type Player interface {
	Source() string
	Position() float64
	State() State
	Load(src string)
	Seek(pos float64)
	Play()
	Pause()
}

// MemoryPlayer is an in-process Player with the same event semantics as a
// browser video element: play/pause fire only on a real state change and
// seeked fires after every seek.
type MemoryPlayer struct {
	mu       sync.Mutex
	src      string
	pos      float64
	state    State
	trace    []State
	listener func(EventKind)
	seeks    int
}

func NewMemoryPlayer(src string) *MemoryPlayer {
	return &MemoryPlayer{src: src}
}

// OnEvent sets the listener; nil disables events.
func (p *MemoryPlayer) OnEvent(fn func(EventKind)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = fn
}

func (p *MemoryPlayer) Source() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.src
}

func (p *MemoryPlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

func (p *MemoryPlayer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Seeks counts completed seeks.
func (p *MemoryPlayer) Seeks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seeks
}

// Load swaps the source and rewinds to 0 in the Idle state.
func (p *MemoryPlayer) Load(src string) {
	p.mu.Lock()
	wasPlaying := p.state == Playing
	p.src = src
	p.pos = 0
	p.setState(Idle)
	fn := p.listener
	p.mu.Unlock()
	if wasPlaying {
		p.emit(fn, EventPause)
	}
}

// Seek moves the playhead. From Playing or Paused it passes through
// Seeking and comes back to the same state.
func (p *MemoryPlayer) Seek(pos float64) {
	p.mu.Lock()
	prev := p.state
	if prev == Playing || prev == Paused {
		p.setState(Seeking)
	}
	p.pos = pos
	p.setState(prev)
	p.seeks++
	fn := p.listener
	p.mu.Unlock()
	p.emit(fn, EventSeeked)
}

func (p *MemoryPlayer) Play() {
	p.mu.Lock()
	if p.state == Playing {
		p.mu.Unlock()
		return
	}
	p.setState(Playing)
	fn := p.listener
	p.mu.Unlock()
	p.emit(fn, EventPlay)
}

func (p *MemoryPlayer) Pause() {
	p.mu.Lock()
	if p.state != Playing {
		p.mu.Unlock()
		return
	}
	p.setState(Paused)
	fn := p.listener
	p.mu.Unlock()
	p.emit(fn, EventPause)
}

// Advance moves the playhead while playing, standing in for wall-clock time.
func (p *MemoryPlayer) Advance(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Playing {
		p.pos += seconds
	}
}

// Stop ends playback and returns to Idle at the current position.
func (p *MemoryPlayer) Stop() {
	p.mu.Lock()
	wasPlaying := p.state == Playing
	p.setState(Idle)
	fn := p.listener
	p.mu.Unlock()
	if wasPlaying {
		p.emit(fn, EventPause)
	}
}

// Transitions lists every state change so far.
func (p *MemoryPlayer) Transitions() []State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]State(nil), p.trace...)
}

// setState records real changes only; callers hold mu.
func (p *MemoryPlayer) setState(s State) {
	if s == p.state {
		return
	}
	p.state = s
	p.trace = append(p.trace, s)
}

func (p *MemoryPlayer) emit(fn func(EventKind), kind EventKind) {
	if fn != nil {
		fn(kind)
	}
}

// Snapshot reads the player as a relayable state.
func Snapshot(p Player) domain.PlaybackState {
	action := domain.ActionPause
	if p.State() == Playing {
		action = domain.ActionPlay
	}
	return domain.PlaybackState{Action: action, Position: p.Position(), Source: p.Source()}
}
