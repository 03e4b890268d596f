package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/4xmen/hellochat/internal/chat"
	"github.com/4xmen/hellochat/internal/events"
	"github.com/4xmen/hellochat/internal/metrics"
	"github.com/4xmen/hellochat/internal/models"
	"github.com/4xmen/hellochat/internal/presence"
	"github.com/4xmen/hellochat/internal/rooms"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// SeenMarker is the message operation sessions may trigger directly.
type SeenMarker interface {
	MarkSeen(ctx context.Context, userID, messageID int64) (*models.Message, error)
}

type Hub struct {
	registry *presence.Registry
	router   *rooms.Router
	chat     SeenMarker
	metrics  *metrics.Metrics
	log      *log.Logger

	eventRate  rate.Limit
	eventBurst int

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
}

// Client is one websocket connection. It implements presence.Session.
type Client struct {
	id      string
	userID  int64
	conn    *websocket.Conn
	hub     *Hub
	send    chan *events.Event
	limiter *rate.Limiter

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// origins are enforced by the CORS middleware
		return true
	},
}

// NewHub wires sessions into presence and rooms. Each session may send
// eventsPerSecond inbound events with bursts of up to burst.
func NewHub(registry *presence.Registry, router *rooms.Router, marker SeenMarker, m *metrics.Metrics, logger *log.Logger, eventsPerSecond float64, burst int) *Hub {
	if eventsPerSecond <= 0 {
		eventsPerSecond = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &Hub{
		registry:   registry,
		router:     router,
		chat:       marker,
		metrics:    m,
		log:        logger,
		eventRate:  rate.Limit(eventsPerSecond),
		eventBurst: burst,
		clients:    make(map[*Client]struct{}),
	}
}

// HandleWebSocket upgrades an authenticated request.
// WebSocketAuthMiddleware must have stored user_id.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	userID := c.GetInt64("user_id")
	if userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "code": "unauthorized", "message": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Printf("Upgrade error: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		id:      uuid.NewString(),
		userID:  userID,
		conn:    conn,
		hub:     h,
		send:    make(chan *events.Event, sendBuffer),
		limiter: rate.NewLimiter(h.eventRate, h.eventBurst),
		ctx:     ctx,
		cancel:  cancel,
	}

	// registration happens under mu so Close either sees this client or
	// the client sees closed
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	go client.writePump()
	h.registry.Register(userID, client)
	h.mu.Unlock()

	go client.readPump()
}

// Close disconnects every session and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.disconnect()
	}
}

func (c *Client) ID() string    { return c.id }
func (c *Client) UserID() int64 { return c.userID }

// Send enqueues evt without blocking. It reports false when the session is
// closed or its queue is full.
func (c *Client) Send(evt *events.Event) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	select {
	case c.send <- evt:
		return true
	default:
		c.hub.metrics.EventDropped(evt.Type)
		return false
	}
}

// disconnect runs the cleanup path once, whether triggered by logout, a
// read error or a missed pong.
func (c *Client) disconnect() {
	c.closeOnce.Do(func() {
		c.hub.registry.Unregister(c.userID, c)
		c.hub.router.LeaveAll(c)
		c.cancel()

		c.hub.mu.Lock()
		delete(c.hub.clients, c)
		c.hub.mu.Unlock()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.disconnect()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Printf("WebSocket error: %v", err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.sendError("rate_limited", "too many events")
			continue
		}

		var in events.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.sendError("validation_failed", "malformed event")
			continue
		}

		if !c.handle(in) {
			return
		}
	}
}

// handle processes one inbound event and reports whether the session should
// keep reading.
func (c *Client) handle(in events.Inbound) bool {
	switch in.Type {
	case events.JoinRoom:
		var req events.RoomRequest
		if !c.decode(in.Data, &req) {
			return true
		}
		if !rooms.Includes(req.RoomKey, c.userID) {
			c.sendError("forbidden", "not a participant of this conversation")
			return true
		}
		c.hub.router.Join(c, req.RoomKey)

	case events.LeaveRoom:
		var req events.RoomRequest
		if !c.decode(in.Data, &req) {
			return true
		}
		c.hub.router.Leave(c, req.RoomKey)

	case events.Typing:
		var req events.TypingRequest
		if !c.decode(in.Data, &req) {
			return true
		}
		if current, ok := c.hub.router.Current(c); !ok || current != req.RoomKey {
			c.sendError("forbidden", "join the room before typing")
			return true
		}
		c.hub.router.PublishExcept(req.RoomKey, events.New(events.UserTyping, events.TypingPayload{
			UserID:   c.userID,
			RoomKey:  req.RoomKey,
			IsTyping: req.IsTyping,
		}), c)

	case events.MarkSeen:
		var req events.MarkSeenRequest
		if !c.decode(in.Data, &req) {
			return true
		}
		if _, err := c.hub.chat.MarkSeen(c.ctx, c.userID, req.MessageID); err != nil {
			c.sendError(chat.Kind(err), err.Error())
		}

	case events.UserLogout:
		c.hub.log.Printf("User %d logged out session=%s", c.userID, c.id)
		c.disconnect()
		return false

	default:
		c.sendError("validation_failed", "unknown event type "+in.Type)
	}
	return true
}

func (c *Client) decode(raw json.RawMessage, v any) bool {
	if len(raw) == 0 || json.Unmarshal(raw, v) != nil {
		c.sendError("validation_failed", "malformed event data")
		return false
	}
	return true
}

func (c *Client) sendError(code, message string) {
	c.Send(events.New(events.Error, events.ErrorPayload{Code: code, Message: message}))
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case evt := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(evt); err != nil {
				c.disconnect()
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.disconnect()
				return
			}
		}
	}
}
