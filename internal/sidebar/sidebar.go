// Package sidebar derives per-user unseen counters and conversation
// membership from the store and pushes them to live sessions.
package sidebar

import (
	"context"
	"fmt"
	"log"

	"github.com/4xmen/hellochat/internal/events"
	"github.com/4xmen/hellochat/internal/metrics"
	"github.com/4xmen/hellochat/internal/models"
)

// Source is the read side of the message store.
type Source interface {
	UnseenCounts(ctx context.Context, receiverID int64) (map[int64]int, error)
	UnseenCountFrom(ctx context.Context, receiverID, senderID int64) (int, error)
	Counterparties(ctx context.Context, userID int64) ([]int64, error)
	UsersByID(ctx context.Context, ids []int64) ([]*models.User, error)
}

// Aggregator computes counters straight from the store on every call.
type Aggregator struct {
	src Source
}

func NewAggregator(src Source) *Aggregator {
	return &Aggregator{src: src}
}

// UnseenCountsFor maps sender id to the number of messages userID has not
// seen from that sender. Senders with zero unseen messages are absent.
func (a *Aggregator) UnseenCountsFor(ctx context.Context, userID int64) (map[int64]int, error) {
	return a.src.UnseenCounts(ctx, userID)
}

func (a *Aggregator) UnseenCountFrom(ctx context.Context, userID, senderID int64) (int, error) {
	return a.src.UnseenCountFrom(ctx, userID, senderID)
}

// ConversationMembersFor lists everyone userID has exchanged a message with.
func (a *Aggregator) ConversationMembersFor(ctx context.Context, userID int64) ([]int64, error) {
	return a.src.Counterparties(ctx, userID)
}

// State is the payload of an updateSidebar event.
type State struct {
	Users          []*models.User `json:"users"`
	UnseenMessages map[int64]int  `json:"unseenMessages"`
	ChatMembers    []int64        `json:"chatMembers"`
}

// State gathers the full sidebar snapshot for userID.
func (a *Aggregator) State(ctx context.Context, userID int64) (*State, error) {
	counts, err := a.UnseenCountsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	members, err := a.ConversationMembersFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	users, err := a.src.UsersByID(ctx, members)
	if err != nil {
		return nil, err
	}
	return &State{Users: users, UnseenMessages: counts, ChatMembers: members}, nil
}

// Sessions is the part of the presence registry the dispatcher needs.
type Sessions interface {
	IsOnline(userID int64) bool
	SendTo(userID int64, evt *events.Event) int
}

type Dispatcher struct {
	agg      *Aggregator
	sessions Sessions
	metrics  *metrics.Metrics
	log      *log.Logger
}

func NewDispatcher(agg *Aggregator, sessions Sessions, m *metrics.Metrics, logger *log.Logger) *Dispatcher {
	return &Dispatcher{agg: agg, sessions: sessions, metrics: m, log: logger}
}

// PushSidebarState sends a fresh snapshot to every session of userID.
// Offline users are skipped without touching the store.
func (d *Dispatcher) PushSidebarState(ctx context.Context, userID int64) error {
	if !d.sessions.IsOnline(userID) {
		return nil
	}

	state, err := d.agg.State(ctx, userID)
	if err != nil {
		return fmt.Errorf("sidebar state for user %d: %w", userID, err)
	}

	n := d.sessions.SendTo(userID, events.New(events.UpdateSidebar, state))
	d.metrics.SidebarPushed(n)
	return nil
}

// PushUnreadDelta tells userID's sessions how many unseen messages remain
// from fromID. The count is absolute.
func (d *Dispatcher) PushUnreadDelta(userID, fromID int64, count int) {
	n := d.sessions.SendTo(userID, events.New(events.UnreadCountUpdate, events.UnreadCountPayload{
		UserID: fromID,
		Count:  count,
	}))
	if n == 0 {
		d.log.Printf("unread count for user %d from %d not delivered (no live session)", userID, fromID)
	}
}
