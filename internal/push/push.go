package push

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"
)

var (
	ErrDisabled            = errors.New("push notifications are not configured")
	ErrInvalidSubscription = errors.New("subscription endpoint and keys are required")
)

// Notifier sends Web Push notifications to users that have no live session.
type Notifier struct {
	db              *sql.DB
	vapidPublicKey  string
	vapidPrivateKey string
	subscriber      string
	log             *log.Logger

	send func(ctx context.Context, msg []byte, s *webpush.Subscription, o *webpush.Options) (*http.Response, error)
	wg   sync.WaitGroup
}

// Subscription is a browser push subscription as posted by the frontend.
type Subscription struct {
	Endpoint  string `json:"endpoint"`
	KeyP256dh string `json:"p256dh"`
	KeyAuth   string `json:"auth"`
}

// NewNotifier returns nil if either VAPID key is empty. A nil Notifier is
// valid and sends nothing.
func NewNotifier(db *sql.DB, vapidPublicKey, vapidPrivateKey, subscriber string, logger *log.Logger) *Notifier {
	if vapidPublicKey == "" || vapidPrivateKey == "" {
		return nil
	}
	return &Notifier{
		db:              db,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
		subscriber:      subscriber,
		log:             logger,
		send:            webpush.SendNotificationWithContext,
	}
}

// GenerateKeys returns a fresh VAPID key pair, public key first.
func GenerateKeys() (string, string, error) {
	private, public, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate VAPID keys: %w", err)
	}
	return public, private, nil
}

func (n *Notifier) VAPIDPublicKey() string {
	if n == nil {
		return ""
	}
	return n.vapidPublicKey
}

// Subscribe stores sub for userID. Re-posting a known endpoint moves it to
// userID and clears any revocation.
func (n *Notifier) Subscribe(ctx context.Context, userID int64, sub Subscription) error {
	if n == nil {
		return ErrDisabled
	}
	if sub.Endpoint == "" || sub.KeyP256dh == "" || sub.KeyAuth == "" {
		return ErrInvalidSubscription
	}
	_, err := n.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			user_id = excluded.user_id,
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			revoked_at = NULL
	`, userID, sub.Endpoint, sub.KeyP256dh, sub.KeyAuth)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

type payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// NotifyNewMessage fans a notification out to every active subscription of
// receiverID. Delivery happens in the background; failures are only logged.
func (n *Notifier) NotifyNewMessage(ctx context.Context, receiverID int64, senderName string) {
	if n == nil {
		return
	}

	rows, err := n.db.QueryContext(ctx,
		"SELECT endpoint, p256dh, auth FROM push_subscriptions WHERE user_id = ? AND revoked_at IS NULL",
		receiverID,
	)
	if err != nil {
		n.log.Printf("push: failed to query subscriptions for user %d: %v", receiverID, err)
		return
	}

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.Endpoint, &sub.KeyP256dh, &sub.KeyAuth); err != nil {
			continue
		}
		subs = append(subs, sub)
	}
	rows.Close()

	if len(subs) == 0 {
		return
	}

	data, _ := json.Marshal(payload{
		Title: "New message",
		Body:  "New message from " + senderName,
		URL:   "/",
	})

	n.log.Printf("push: sending notification to %d subscription(s) for user %d", len(subs), receiverID)
	for _, sub := range subs {
		n.wg.Add(1)
		go func(sub Subscription) {
			defer n.wg.Done()
			n.sendToSubscription(sub, data)
		}(sub)
	}
}

// Wait blocks until in-flight deliveries finish.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

func (n *Notifier) sendToSubscription(sub Subscription, data []byte) {
	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.KeyP256dh,
			Auth:   sub.KeyAuth,
		},
	}

	resp, err := n.send(context.Background(), data, s, &webpush.Options{
		VAPIDPublicKey:  n.vapidPublicKey,
		VAPIDPrivateKey: n.vapidPrivateKey,
		Subscriber:      n.subscriber,
		TTL:             86400,
	})
	if err != nil {
		n.log.Printf("push: failed to send to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// expired subscriptions answer 404 or 410
	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		if _, err := n.db.Exec("DELETE FROM push_subscriptions WHERE endpoint = ?", sub.Endpoint); err != nil {
			n.log.Printf("push: failed to remove expired subscription %s: %v", sub.Endpoint, err)
			return
		}
		n.log.Printf("push: removed expired subscription %s (status %d)", sub.Endpoint, resp.StatusCode)
	}
}
