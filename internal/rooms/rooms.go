// Package rooms groups sessions by conversation for event fan-out.
package rooms

import (
	"errors"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/4xmen/hellochat/internal/events"
	"github.com/4xmen/hellochat/internal/presence"
)

var ErrInvalidKey = errors.New("invalid room key")

// Key returns the canonical room key for the conversation between a and b.
// Key(a, b) == Key(b, a).
func Key(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return strconv.FormatInt(a, 10) + "_" + strconv.FormatInt(b, 10)
}

// ParseKey splits a canonical key into its participants, lowest id first.
func ParseKey(key string) (int64, int64, error) {
	left, right, ok := strings.Cut(key, "_")
	if !ok {
		return 0, 0, ErrInvalidKey
	}
	a, err := strconv.ParseInt(left, 10, 64)
	if err != nil || a <= 0 {
		return 0, 0, ErrInvalidKey
	}
	b, err := strconv.ParseInt(right, 10, 64)
	if err != nil || b <= 0 {
		return 0, 0, ErrInvalidKey
	}
	if a == b || Key(a, b) != key {
		return 0, 0, ErrInvalidKey
	}
	return a, b, nil
}

// Includes reports whether userID is one of the participants of key.
func Includes(key string, userID int64) bool {
	a, b, err := ParseKey(key)
	if err != nil {
		return false
	}
	return a == userID || b == userID
}

// Router tracks room membership. A session belongs to at most one room.
type Router struct {
	mu      sync.RWMutex
	members map[string]map[presence.Session]struct{}
	current map[presence.Session]string
	log     *log.Logger
}

func NewRouter(logger *log.Logger) *Router {
	return &Router{
		members: make(map[string]map[presence.Session]struct{}),
		current: make(map[presence.Session]string),
		log:     logger,
	}
}

// Join moves s into key, leaving its previous room in the same critical
// section so no publish observes it in both or neither.
func (r *Router) Join(s presence.Session, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.current[s]; ok {
		if prev == key {
			return
		}
		r.removeLocked(s, prev)
	}

	set, ok := r.members[key]
	if !ok {
		set = make(map[presence.Session]struct{})
		r.members[key] = set
	}
	set[s] = struct{}{}
	r.current[s] = key
	r.log.Printf("session=%s joined room %s (members: %d)", s.ID(), key, len(set))
}

// Leave removes s from key. It does nothing if s is in another room.
func (r *Router) Leave(s presence.Session, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current[s] != key {
		return
	}
	r.removeLocked(s, key)
	r.log.Printf("session=%s left room %s", s.ID(), key)
}

// LeaveAll drops s from whatever room it is in. Used on disconnect.
func (r *Router) LeaveAll(s presence.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if key, ok := r.current[s]; ok {
		r.removeLocked(s, key)
	}
}

func (r *Router) removeLocked(s presence.Session, key string) {
	if set, ok := r.members[key]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(r.members, key)
		}
	}
	delete(r.current, s)
}

// Current returns the room s is joined to.
func (r *Router) Current(s presence.Session) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.current[s]
	return key, ok
}

func (r *Router) Members(key string) []presence.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]presence.Session, 0, len(r.members[key]))
	for s := range r.members[key] {
		out = append(out, s)
	}
	return out
}

// Publish sends evt to every session in key and returns how many accepted
// it. An empty room is not an error.
func (r *Router) Publish(key string, evt *events.Event) int {
	return r.PublishExcept(key, evt, nil)
}

// PublishExcept is Publish without skip.
func (r *Router) PublishExcept(key string, evt *events.Event, skip presence.Session) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sent := 0
	for s := range r.members[key] {
		if s == skip {
			continue
		}
		if s.Send(evt) {
			sent++
		} else {
			r.log.Printf("rooms: dropped %s for session=%s in room %s", evt.Type, s.ID(), key)
		}
	}
	return sent
}
