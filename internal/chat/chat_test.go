package chat

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4xmen/hellochat/internal/events"
	"github.com/4xmen/hellochat/internal/media"
	"github.com/4xmen/hellochat/internal/models"
	"github.com/4xmen/hellochat/internal/presence"
	"github.com/4xmen/hellochat/internal/rooms"
	"github.com/4xmen/hellochat/internal/sidebar"
	"github.com/4xmen/hellochat/internal/store"
	"github.com/4xmen/hellochat/internal/testutil"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []int64
}

func (n *recordingNotifier) NotifyNewMessage(_ context.Context, receiverID int64, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, receiverID)
}

type failingUploader struct{}

func (failingUploader) Upload(context.Context, string) (string, error) {
	return "", errors.New("storage unavailable")
}

func (failingUploader) Remove(context.Context, string) error { return nil }

// brokenStore fails every write of a new message.
type brokenStore struct {
	*store.Store
}

func (brokenStore) CreateMessage(context.Context, int64, int64, string, string) (*models.Message, error) {
	return nil, errors.New("disk full")
}

type env struct {
	conn     *sql.DB
	store    *store.Store
	registry *presence.Registry
	router   *rooms.Router
	agg      *sidebar.Aggregator
	media    *media.LocalStore
	notifier *recordingNotifier
	svc      *Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := testutil.TestLogger(t)
	conn := testutil.NewDB(t)
	st := store.New(conn)
	reg := presence.NewRegistry(logger, nil)
	router := rooms.NewRouter(logger)
	agg := sidebar.NewAggregator(st)
	uploads, err := media.NewLocalStore(t.TempDir(), 1<<20)
	require.NoError(t, err)
	notifier := &recordingNotifier{}

	svc := New(Deps{
		Store:    st,
		Counters: agg,
		Pusher:   sidebar.NewDispatcher(agg, reg, nil, logger),
		Presence: reg,
		Rooms:    router,
		Media:    uploads,
		Notifier: notifier,
		Log:      logger,
	})
	return &env{conn: conn, store: st, registry: reg, router: router, agg: agg, media: uploads, notifier: notifier, svc: svc}
}

func (e *env) user(t *testing.T, name string) int64 {
	return testutil.CreateUser(t, e.conn, name)
}

// connect registers a session for userID and joins it to the room with other.
func (e *env) connect(userID, other int64) *testutil.FakeSession {
	s := testutil.NewFakeSession(userID)
	e.registry.Register(userID, s)
	if other != 0 {
		e.router.Join(s, rooms.Key(userID, other))
	}
	return s
}

func (e *env) unseen(t *testing.T, receiver, sender int64) int {
	t.Helper()
	n, err := e.agg.UnseenCountFrom(context.Background(), receiver, sender)
	require.NoError(t, err)
	return n
}

func TestSendThenCount(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, b := e.user(t, "alice"), e.user(t, "bob")
	bSession := e.connect(b, a)

	assert.Equal(t, 0, e.unseen(t, b, a))

	msg, err := e.svc.Send(ctx, a, b, SendInput{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Text)
	assert.False(t, msg.Seen)
	assert.Equal(t, "alice display", msg.Sender.DisplayName)

	assert.Equal(t, 1, e.unseen(t, b, a))

	got := bSession.Last(events.NewMessage)
	require.NotNil(t, got)
	assert.Equal(t, msg.ID, got.Data.(*models.MessageWithSender).ID)

	sb := bSession.Last(events.UpdateSidebar)
	require.NotNil(t, sb)
	assert.Equal(t, map[int64]int{a: 1}, sb.Data.(*sidebar.State).UnseenMessages)

	msgs, err := e.svc.FetchConversation(ctx, b, a)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Seen)
	assert.Equal(t, 0, e.unseen(t, b, a))
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, b := e.user(t, "alice"), e.user(t, "bob")
	bSession := e.connect(b, a)

	tests := []struct {
		name     string
		sender   int64
		receiver int64
		in       SendInput
		want     error
	}{
		{"empty body", a, b, SendInput{}, ErrValidation},
		{"whitespace only", a, b, SendInput{Text: "  \n\t"}, ErrValidation},
		{"to self", a, a, SendInput{Text: "me"}, ErrValidation},
		{"unknown receiver", a, 999, SendInput{Text: "hi"}, ErrNotFound},
		{"no identity", 0, b, SendInput{Text: "hi"}, ErrUnauthorized},
		{"deleted sender", 999, b, SendInput{Text: "hi"}, ErrUnauthorized},
		{"not an image", a, b, SendInput{Image: "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("plain"))}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.Send(ctx, tt.sender, tt.receiver, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	members, err := e.agg.ConversationMembersFor(ctx, b)
	require.NoError(t, err)
	assert.Empty(t, members, "failed sends must not store anything")
	assert.Empty(t, bSession.OfType(events.NewMessage), "failed sends must not publish")
}

func TestSendUploadFailureIsUpstream(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.svc.Media = failingUploader{}
	a, b := e.user(t, "alice"), e.user(t, "bob")
	bSession := e.connect(b, a)

	_, err := e.svc.Send(ctx, a, b, SendInput{Text: "look", Image: "data:image/png;base64,AAAA"})
	require.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, "upstream_failure", Kind(err))

	assert.Equal(t, 0, e.unseen(t, b, a))
	assert.Empty(t, bSession.OfType(events.NewMessage))
}

func TestSendStoreFailureDiscardsUpload(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.svc.Store = brokenStore{Store: e.store}
	a, b := e.user(t, "alice"), e.user(t, "bob")
	bSession := e.connect(b, a)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	_, err := e.svc.Send(ctx, a, b, SendInput{Image: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)})
	require.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "disk full")

	entries, err := os.ReadDir(e.media.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, bSession.OfType(events.NewMessage))
}

func TestSendImageAndDeleteRemovesFile(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, b := e.user(t, "alice"), e.user(t, "bob")

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	msg, err := e.svc.Send(ctx, a, b, SendInput{Image: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(msg.ImageURL, media.URLPrefix))

	path := filepath.Join(e.media.Dir(), strings.TrimPrefix(msg.ImageURL, media.URLPrefix))
	_, err = os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, e.svc.Delete(ctx, a, msg.ID))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteRemovesEventAndCounter(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, b := e.user(t, "alice"), e.user(t, "bob")
	bSession := e.connect(b, a)

	msg, err := e.svc.Send(ctx, a, b, SendInput{Text: "oops"})
	require.NoError(t, err)
	require.Equal(t, 1, e.unseen(t, b, a))

	require.NoError(t, e.svc.Delete(ctx, a, msg.ID))

	assert.Equal(t, 0, e.unseen(t, b, a))
	deleted := bSession.Last(events.MessageDeleted)
	require.NotNil(t, deleted)
	assert.Equal(t, events.MessageDeletedPayload{MessageID: msg.ID}, deleted.Data)

	// it was the only message, so the conversation is gone from both sidebars
	state := bSession.Last(events.UpdateSidebar).Data.(*sidebar.State)
	assert.Empty(t, state.ChatMembers)
	assert.Empty(t, state.UnseenMessages)

	assert.ErrorIs(t, e.svc.Delete(ctx, a, msg.ID), ErrNotFound)
}

func TestDeleteAuthorization(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	users := []int64{e.user(t, "alice"), e.user(t, "bob"), e.user(t, "carol")}

	var msgs []*models.MessageWithSender
	for _, from := range users {
		for _, to := range users {
			if from == to {
				continue
			}
			m, err := e.svc.Send(ctx, from, to, SendInput{Text: "x"})
			require.NoError(t, err)
			msgs = append(msgs, m)
		}
	}

	for _, m := range msgs {
		for _, actor := range users {
			if actor == m.SenderID {
				continue
			}
			err := e.svc.Delete(ctx, actor, m.ID)
			assert.ErrorIs(t, err, ErrForbidden, "user %d deleting message %d", actor, m.ID)
		}
	}

	for _, m := range msgs {
		_, err := e.store.GetMessage(ctx, m.ID)
		assert.NoError(t, err, "forbidden delete must not remove message %d", m.ID)
	}
}

func TestMarkSeen(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, b := e.user(t, "alice"), e.user(t, "bob")
	bSession := e.connect(b, 0)

	first, err := e.svc.Send(ctx, a, b, SendInput{Text: "one"})
	require.NoError(t, err)
	_, err = e.svc.Send(ctx, a, b, SendInput{Text: "two"})
	require.NoError(t, err)
	require.Equal(t, 2, e.unseen(t, b, a))

	_, err = e.svc.MarkSeen(ctx, a, first.ID)
	assert.ErrorIs(t, err, ErrForbidden, "sender cannot mark seen")
	_, err = e.svc.MarkSeen(ctx, b, 12345)
	assert.ErrorIs(t, err, ErrNotFound)

	for i := 0; i < 2; i++ {
		seen, err := e.svc.MarkSeen(ctx, b, first.ID)
		require.NoError(t, err)
		assert.True(t, seen.Seen)
		assert.Equal(t, 1, e.unseen(t, b, a))
	}

	update := bSession.Last(events.UnreadCountUpdate)
	require.NotNil(t, update)
	assert.Equal(t, events.UnreadCountPayload{UserID: a, Count: 1}, update.Data)
}

func TestFetchConversationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, b := e.user(t, "alice"), e.user(t, "bob")

	for _, text := range []string{"1", "2", "3"} {
		_, err := e.svc.Send(ctx, a, b, SendInput{Text: text})
		require.NoError(t, err)
	}
	_, err := e.svc.Send(ctx, b, a, SendInput{Text: "reply"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		msgs, err := e.svc.FetchConversation(ctx, b, a)
		require.NoError(t, err)
		require.Len(t, msgs, 4)
		assert.Equal(t, "1", msgs[0].Text)
		assert.Equal(t, "reply", msgs[3].Text)
		assert.Equal(t, 0, e.unseen(t, b, a))
	}

	// b's fetch leaves a's own unseen counter alone
	assert.Equal(t, 1, e.unseen(t, a, b))

	_, err = e.svc.FetchConversation(ctx, b, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMultiDeviceSidebarPush(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, b := e.user(t, "alice"), e.user(t, "bob")

	phone := e.connect(a, b)
	laptop := e.connect(a, 0)

	_, err := e.svc.Send(ctx, a, b, SendInput{Text: "from my phone"})
	require.NoError(t, err)

	for _, s := range []*testutil.FakeSession{phone, laptop} {
		evt := s.Last(events.UpdateSidebar)
		require.NotNil(t, evt, "session %s", s.ID())
		assert.Equal(t, []int64{b}, evt.Data.(*sidebar.State).ChatMembers)
	}
}

func TestOfflineReceiverIsNotified(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, b := e.user(t, "alice"), e.user(t, "bob")

	_, err := e.svc.Send(ctx, a, b, SendInput{Text: "are you there"})
	require.NoError(t, err)

	e.connect(b, 0)
	_, err = e.svc.Send(ctx, a, b, SendInput{Text: "now you are"})
	require.NoError(t, err)

	assert.Equal(t, []int64{b}, e.notifier.calls)
}

func TestRoomEventsFollowCommitOrder(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, b := e.user(t, "alice"), e.user(t, "bob")
	watcher := e.connect(b, a)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := a, b
			if i%2 == 1 {
				from, to = b, a
			}
			_, err := e.svc.Send(ctx, from, to, SendInput{Text: "race"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got := watcher.OfType(events.NewMessage)
	require.Len(t, got, 20)
	for i := 1; i < len(got); i++ {
		prev := got[i-1].Data.(*models.MessageWithSender).ID
		cur := got[i].Data.(*models.MessageWithSender).ID
		assert.Less(t, prev, cur, "room events out of commit order")
	}
}

func TestConversationListAndProfile(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, b, c := e.user(t, "alice"), e.user(t, "bob"), e.user(t, "carol")
	e.connect(c, 0)

	_, err := e.svc.Send(ctx, b, a, SendInput{Text: "hey"})
	require.NoError(t, err)

	list, err := e.svc.ConversationList(ctx, a)
	require.NoError(t, err)
	require.Len(t, list.Users, 2)
	assert.Equal(t, "bob", list.Users[0].Username)
	assert.False(t, list.Users[0].IsOnline)
	assert.Equal(t, "carol", list.Users[1].Username)
	assert.True(t, list.Users[1].IsOnline)
	assert.Equal(t, map[int64]int{b: 1}, list.UnseenMessages)
	assert.Equal(t, []int64{b}, list.ChatMembers)

	p, err := e.svc.Profile(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "carol", p.Username)
	assert.True(t, p.IsOnline)

	_, err = e.svc.Profile(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 1, e.svc.OnlineCount())

	_, err = e.svc.ConversationList(ctx, 0)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "forbidden", Kind(forbidden("x")))
	assert.Equal(t, "not_found", Kind(notFound("x")))
	assert.Equal(t, "validation_failed", Kind(validation("x")))
	assert.Equal(t, "unauthorized", Kind(ErrUnauthorized))
	assert.Equal(t, "internal", Kind(errors.New("boom")))

	err := upstream("store", store.ErrNotFound)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.False(t, errors.Is(err, store.ErrNotFound))
}
