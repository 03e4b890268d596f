// Package chat validates and executes direct-message operations and derives
// the real-time events each one produces.
package chat

import (
	"context"
	"errors"
	"hash/fnv"
	"log"
	"strings"
	"sync"

	"github.com/4xmen/hellochat/internal/events"
	"github.com/4xmen/hellochat/internal/media"
	"github.com/4xmen/hellochat/internal/metrics"
	"github.com/4xmen/hellochat/internal/models"
	"github.com/4xmen/hellochat/internal/rooms"
	"github.com/4xmen/hellochat/internal/store"
)

// Store is the durable message store.
type Store interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	ListUsersExcept(ctx context.Context, id int64) ([]*models.User, error)
	CreateMessage(ctx context.Context, senderID, receiverID int64, text, imageURL string) (*models.Message, error)
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	DeleteMessage(ctx context.Context, id int64) error
	MarkSeen(ctx context.Context, id int64) (bool, error)
	MarkConversationSeen(ctx context.Context, receiverID, senderID int64) (int64, error)
	Conversation(ctx context.Context, a, b int64) ([]*models.Message, error)
}

// Counters answers unseen-count and membership questions.
type Counters interface {
	UnseenCountsFor(ctx context.Context, userID int64) (map[int64]int, error)
	UnseenCountFrom(ctx context.Context, userID, senderID int64) (int, error)
	ConversationMembersFor(ctx context.Context, userID int64) ([]int64, error)
}

// Pusher delivers refreshed sidebar state to a user's sessions.
type Pusher interface {
	PushSidebarState(ctx context.Context, userID int64) error
	PushUnreadDelta(userID, fromID int64, count int)
}

type Presence interface {
	IsOnline(userID int64) bool
	OnlineUserIDs() []int64
}

type Publisher interface {
	Publish(key string, evt *events.Event) int
}

// OfflineNotifier reaches receivers that have no live session.
type OfflineNotifier interface {
	NotifyNewMessage(ctx context.Context, receiverID int64, senderName string)
}

type Deps struct {
	Store    Store
	Counters Counters
	Pusher   Pusher
	Presence Presence
	Rooms    Publisher
	Media    media.Uploader
	Notifier OfflineNotifier
	Metrics  *metrics.Metrics
	Log      *log.Logger
}

const lockStripes = 64

type Service struct {
	Deps
	locks [lockStripes]sync.Mutex
}

func New(deps Deps) *Service {
	if deps.Log == nil {
		deps.Log = log.Default()
	}
	return &Service{Deps: deps}
}

// conversationLock serializes store commit and room publish for one
// conversation, so room members see events in commit order.
func (s *Service) conversationLock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s.locks[h.Sum32()%lockStripes]
}

type SendInput struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

// Send stores a new unseen message from senderID to receiverID, publishes it
// to the conversation room and refreshes both participants' sidebars.
func (s *Service) Send(ctx context.Context, senderID, receiverID int64, in SendInput) (*models.MessageWithSender, error) {
	msg, err := s.send(ctx, senderID, receiverID, in)
	if err != nil {
		s.Metrics.OperationFailed("send", Kind(err))
	}
	return msg, err
}

func (s *Service) send(ctx context.Context, senderID, receiverID int64, in SendInput) (*models.MessageWithSender, error) {
	if senderID <= 0 {
		return nil, ErrUnauthorized
	}
	text := strings.TrimSpace(in.Text)
	image := strings.TrimSpace(in.Image)
	if text == "" && image == "" {
		return nil, validation("message must have text or an image")
	}
	if senderID == receiverID {
		return nil, validation("cannot send a message to yourself")
	}

	sender, err := s.Store.GetUser(ctx, senderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, upstream("load sender", err)
	}
	if _, err := s.Store.GetUser(ctx, receiverID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound("receiver")
		}
		return nil, upstream("load receiver", err)
	}

	var imageURL string
	if image != "" {
		imageURL, err = s.Media.Upload(ctx, image)
		if err != nil {
			if errors.Is(err, media.ErrInvalidData) || errors.Is(err, media.ErrNotImage) || errors.Is(err, media.ErrTooLarge) {
				return nil, validation(err.Error())
			}
			return nil, upstream("upload image", err)
		}
	}

	key := rooms.Key(senderID, receiverID)
	out, err := func() (*models.MessageWithSender, error) {
		mu := s.conversationLock(key)
		mu.Lock()
		defer mu.Unlock()

		msg, err := s.Store.CreateMessage(ctx, senderID, receiverID, text, imageURL)
		if err != nil {
			s.discardImage(ctx, imageURL)
			return nil, upstream("store message", err)
		}
		out := &models.MessageWithSender{
			Message: msg,
			Sender: models.SenderInfo{
				ID:          sender.ID,
				Username:    sender.Username,
				DisplayName: sender.Name(),
				AvatarURL:   sender.AvatarURL,
			},
		}
		s.Rooms.Publish(key, events.New(events.NewMessage, out))
		return out, nil
	}()
	if err != nil {
		return nil, err
	}
	s.Metrics.MessageOp("send")
	s.Log.Printf("message %d sent from user %d to user %d", out.ID, senderID, receiverID)

	if !s.Presence.IsOnline(receiverID) && s.Notifier != nil {
		s.Notifier.NotifyNewMessage(ctx, receiverID, sender.Name())
	}

	if err := s.refresh(ctx, receiverID, senderID); err != nil {
		return out, err
	}
	return out, nil
}

// refresh pushes sidebar state to each user and reports the first failure.
func (s *Service) refresh(ctx context.Context, userIDs ...int64) error {
	var first error
	for _, id := range userIDs {
		if err := s.Pusher.PushSidebarState(ctx, id); err != nil {
			s.Log.Printf("sidebar refresh for user %d failed: %v", id, err)
			if first == nil {
				first = upstream("refresh sidebar", err)
			}
		}
	}
	return first
}

// MarkSeen flags messageID as seen by its receiver. Repeating it is harmless.
func (s *Service) MarkSeen(ctx context.Context, userID, messageID int64) (*models.Message, error) {
	msg, err := s.markSeen(ctx, userID, messageID)
	if err != nil {
		s.Metrics.OperationFailed("mark_seen", Kind(err))
	}
	return msg, err
}

func (s *Service) markSeen(ctx context.Context, userID, messageID int64) (*models.Message, error) {
	if userID <= 0 {
		return nil, ErrUnauthorized
	}
	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.ReceiverID != userID {
		return nil, forbidden("only the receiver can mark a message as seen")
	}

	changed, err := s.Store.MarkSeen(ctx, messageID)
	if err != nil {
		return nil, upstream("mark seen", err)
	}
	msg.Seen = true
	if changed {
		s.Metrics.MessageOp("mark_seen")
	}

	count, err := s.Counters.UnseenCountFrom(ctx, userID, msg.SenderID)
	if err != nil {
		return msg, upstream("count unseen", err)
	}
	s.Pusher.PushUnreadDelta(userID, msg.SenderID, count)
	return msg, nil
}

// Delete removes a message sent by userID and tells the room about it.
func (s *Service) Delete(ctx context.Context, userID, messageID int64) error {
	err := s.delete(ctx, userID, messageID)
	if err != nil {
		s.Metrics.OperationFailed("delete", Kind(err))
	}
	return err
}

func (s *Service) delete(ctx context.Context, userID, messageID int64) error {
	if userID <= 0 {
		return ErrUnauthorized
	}
	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != userID {
		return forbidden("only the sender can delete a message")
	}

	key := rooms.Key(msg.SenderID, msg.ReceiverID)
	err = func() error {
		mu := s.conversationLock(key)
		mu.Lock()
		defer mu.Unlock()

		if err := s.Store.DeleteMessage(ctx, messageID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return notFound("message")
			}
			return upstream("delete message", err)
		}
		s.Rooms.Publish(key, events.New(events.MessageDeleted, events.MessageDeletedPayload{MessageID: messageID}))
		return nil
	}()
	if err != nil {
		return err
	}
	s.Metrics.MessageOp("delete")
	s.Log.Printf("message %d deleted by user %d", messageID, userID)

	s.discardImage(ctx, msg.ImageURL)

	return s.refresh(ctx, msg.SenderID, msg.ReceiverID)
}

// discardImage removes a stored image no message references any more.
func (s *Service) discardImage(ctx context.Context, url string) {
	if url == "" {
		return
	}
	if err := s.Media.Remove(ctx, url); err != nil {
		s.Log.Printf("failed to remove image %s: %v", url, err)
	}
}

func (s *Service) loadMessage(ctx context.Context, id int64) (*models.Message, error) {
	msg, err := s.Store.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound("message")
		}
		return nil, upstream("load message", err)
	}
	return msg, nil
}

// FetchConversation marks everything otherID sent to userID as seen and
// returns the whole conversation, oldest first.
func (s *Service) FetchConversation(ctx context.Context, userID, otherID int64) ([]*models.Message, error) {
	msgs, err := s.fetchConversation(ctx, userID, otherID)
	if err != nil {
		s.Metrics.OperationFailed("fetch", Kind(err))
	}
	return msgs, err
}

func (s *Service) fetchConversation(ctx context.Context, userID, otherID int64) ([]*models.Message, error) {
	if userID <= 0 {
		return nil, ErrUnauthorized
	}
	if _, err := s.Store.GetUser(ctx, otherID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound("user")
		}
		return nil, upstream("load user", err)
	}

	if _, err := s.Store.MarkConversationSeen(ctx, userID, otherID); err != nil {
		return nil, upstream("mark conversation seen", err)
	}
	msgs, err := s.Store.Conversation(ctx, userID, otherID)
	if err != nil {
		return nil, upstream("load conversation", err)
	}

	if err := s.refresh(ctx, userID); err != nil {
		return msgs, err
	}
	return msgs, nil
}

// Sidebar is the conversation list shown next to the chat window.
type Sidebar struct {
	Users          []models.UserWithOnline `json:"users"`
	UnseenMessages map[int64]int           `json:"unseenMessages"`
	ChatMembers    []int64                 `json:"chatMembers"`
}

// ConversationList returns every other user with online flags, plus the
// caller's unseen counts and conversation members.
func (s *Service) ConversationList(ctx context.Context, userID int64) (*Sidebar, error) {
	if userID <= 0 {
		return nil, ErrUnauthorized
	}
	users, err := s.Store.ListUsersExcept(ctx, userID)
	if err != nil {
		return nil, upstream("list users", err)
	}
	counts, err := s.Counters.UnseenCountsFor(ctx, userID)
	if err != nil {
		return nil, upstream("count unseen", err)
	}
	members, err := s.Counters.ConversationMembersFor(ctx, userID)
	if err != nil {
		return nil, upstream("list conversation members", err)
	}

	out := &Sidebar{
		Users:          make([]models.UserWithOnline, 0, len(users)),
		UnseenMessages: counts,
		ChatMembers:    members,
	}
	for _, u := range users {
		out.Users = append(out.Users, models.UserWithOnline{User: u, IsOnline: s.Presence.IsOnline(u.ID)})
	}
	return out, nil
}

func (s *Service) Profile(ctx context.Context, userID int64) (*models.UserWithOnline, error) {
	u, err := s.Store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound("user")
		}
		return nil, upstream("load user", err)
	}
	return &models.UserWithOnline{User: u, IsOnline: s.Presence.IsOnline(userID)}, nil
}

// OnlineCount is the number of users with a live session.
func (s *Service) OnlineCount() int {
	return len(s.Presence.OnlineUserIDs())
}
