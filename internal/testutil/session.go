package testutil

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/4xmen/hellochat/internal/events"
)

var sessionSeq atomic.Int64

// FakeSession records every event sent to it.
type FakeSession struct {
	id     string
	userID int64

	mu     sync.Mutex
	events []*events.Event
	full   bool
}

func NewFakeSession(userID int64) *FakeSession {
	return &FakeSession{
		id:     fmt.Sprintf("fake-%d-%d", userID, sessionSeq.Add(1)),
		userID: userID,
	}
}

func (s *FakeSession) ID() string    { return s.id }
func (s *FakeSession) UserID() int64 { return s.userID }

func (s *FakeSession) Send(evt *events.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.events = append(s.events, evt)
	return true
}

// SetFull makes subsequent sends fail, as a saturated queue would.
func (s *FakeSession) SetFull(full bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.full = full
}

func (s *FakeSession) Events() []*events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*events.Event(nil), s.events...)
}

// OfType returns the recorded events with the given type, in arrival order.
func (s *FakeSession) OfType(eventType string) []*events.Event {
	var out []*events.Event
	for _, e := range s.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the most recent event of the given type, or nil.
func (s *FakeSession) Last(eventType string) *events.Event {
	matching := s.OfType(eventType)
	if len(matching) == 0 {
		return nil
	}
	return matching[len(matching)-1]
}

func (s *FakeSession) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
