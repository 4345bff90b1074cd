package storyview

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/storyviews/internal/identity"
)

// State of a view session. Transitions are Active -> Committed only.
type State int32

const (
	StateActive State = iota + 1
	StateCommitted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCommitted:
		return "committed"
	}
	return "unknown"
}

// Session is one exposure of a story to one playback surface.
type Session struct {
	id        string
	storyID   string
	media     Media
	identity  *identity.Identity
	existing  *Record
	startedAt time.Time

	state atomic.Int32

	mu     sync.Mutex
	events []PlaybackEvent
}

func newSession(id, storyID string, media Media, ident *identity.Identity, existing *Record, startedAt time.Time) *Session {
	s := &Session{
		id:        id,
		storyID:   storyID,
		media:     media,
		identity:  ident,
		existing:  existing,
		startedAt: startedAt,
	}
	s.state.Store(int32(StateActive))
	return s
}

// committedSession is the placeholder returned for a session that has
// already been committed and released by its controller.
func committedSession(id string) *Session {
	s := &Session{id: id}
	s.state.Store(int32(StateCommitted))
	return s
}

func (s *Session) ID() string                   { return s.id }
func (s *Session) StoryID() string              { return s.storyID }
func (s *Session) Media() Media                 { return s.media }
func (s *Session) Identity() *identity.Identity { return s.identity }
func (s *Session) StartedAt() time.Time         { return s.startedAt }
func (s *Session) State() State                 { return State(s.state.Load()) }

// Existing returns a copy of the record read at begin time, or nil.
func (s *Session) Existing() *Record { return s.existing.Clone() }

// Events returns a copy of the events recorded so far, in call order. Once
// committed the events are handed to the record and Events returns nil.
func (s *Session) Events() []PlaybackEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return AppendEvents(nil, s.events)
}

// record appends e. The state is checked under the same lock that commit
// snapshots events with, so no event is lost or added after commit.
func (s *Session) record(e PlaybackEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateActive {
		return ErrSessionCommitted
	}
	s.events = append(s.events, e)
	return nil
}

// commit moves the session to Committed and returns its events. Only the
// first caller gets ok == true.
func (s *Session) commit() (events []PlaybackEvent, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CompareAndSwap(int32(StateActive), int32(StateCommitted)) {
		return nil, false
	}
	events, s.events = s.events, nil
	return events, true
}
