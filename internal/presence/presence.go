// Package presence tracks which users hold live sessions.
package presence

import (
	"log"
	"slices"
	"sync"

	"github.com/4xmen/hellochat/internal/events"
)

// Session is one live connection bound to an authenticated user.
// Send must not block; it reports false when the event was dropped.
type Session interface {
	ID() string
	UserID() int64
	Send(*events.Event) bool
}

// Observer is notified of registry size changes. Metrics implement it.
type Observer interface {
	SetOnline(users, sessions int)
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]map[Session]struct{}
	count    int
	log      *log.Logger
	observer Observer
}

func NewRegistry(logger *log.Logger, observer Observer) *Registry {
	return &Registry{
		sessions: make(map[int64]map[Session]struct{}),
		log:      logger,
		observer: observer,
	}
}

// Register adds s to the user's session set and broadcasts the online list.
// Registering the same session twice is a no-op.
func (r *Registry) Register(userID int64, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[userID]
	if !ok {
		set = make(map[Session]struct{})
		r.sessions[userID] = set
	}
	if _, dup := set[s]; dup {
		return
	}
	set[s] = struct{}{}
	r.count++

	r.log.Printf("User %d connected session=%s (users: %d, sessions: %d)", userID, s.ID(), len(r.sessions), r.count)
	r.changedLocked()
}

// Unregister removes s from the user's session set. It reports whether the
// session was present; removing an unknown session does nothing, so logout
// followed by disconnect is safe.
func (r *Registry) Unregister(userID int64, s Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[userID]
	if !ok {
		return false
	}
	if _, ok := set[s]; !ok {
		return false
	}
	delete(set, s)
	r.count--
	if len(set) == 0 {
		delete(r.sessions, userID)
	}

	r.log.Printf("User %d disconnected session=%s (users: %d, sessions: %d)", userID, s.ID(), len(r.sessions), r.count)
	r.changedLocked()
	return true
}

// changedLocked enqueues the online snapshot to every session while the
// write lock is held, so each session sees snapshots in mutation order.
func (r *Registry) changedLocked() {
	if r.observer != nil {
		r.observer.SetOnline(len(r.sessions), r.count)
	}

	evt := events.New(events.OnlineUsers, r.onlineLocked())
	for _, set := range r.sessions {
		for s := range set {
			if !s.Send(evt) {
				r.log.Printf("presence: dropped online list for session=%s", s.ID())
			}
		}
	}
}

// SessionsFor returns a copy of the user's live sessions; empty when offline.
func (r *Registry) SessionsFor(userID int64) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.sessions[userID]
	out := make([]Session, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID]) > 0
}

// OnlineUserIDs returns the ids of users with at least one session, sorted.
func (r *Registry) OnlineUserIDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onlineLocked()
}

func (r *Registry) onlineLocked() []int64 {
	ids := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// SendTo delivers evt to every session of userID and returns how many
// accepted it.
func (r *Registry) SendTo(userID int64, evt *events.Event) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sent := 0
	for s := range r.sessions[userID] {
		if s.Send(evt) {
			sent++
		} else {
			r.log.Printf("presence: dropped %s for user %d session=%s", evt.Type, userID, s.ID())
		}
	}
	return sent
}
