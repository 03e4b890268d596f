// Package events defines the JSON frames exchanged over the websocket.
package events

import "encoding/json"

// Outbound event names.
const (
	OnlineUsers       = "getOnlineUsers"
	NewMessage        = "newMessage"
	MessageDeleted    = "messageDeleted"
	UpdateSidebar     = "updateSidebar"
	UnreadCountUpdate = "unreadCountUpdate"
	UserTyping        = "userTyping"
	Error             = "error"
)

// Inbound event names.
const (
	JoinRoom   = "joinRoom"
	LeaveRoom  = "leaveRoom"
	UserLogout = "userLogout"
	Typing     = "typing"
	MarkSeen   = "markSeen"
)

// Event is a single frame. Outbound frames carry any JSON-encodable Data;
// inbound frames keep Data raw until the handler knows its shape.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func New(eventType string, data any) *Event {
	return &Event{Type: eventType, Data: data}
}

type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type RoomRequest struct {
	RoomKey string `json:"roomKey"`
}

type TypingRequest struct {
	RoomKey  string `json:"roomKey"`
	IsTyping bool   `json:"isTyping"`
}

type MarkSeenRequest struct {
	MessageID int64 `json:"messageId"`
}

type MessageDeletedPayload struct {
	MessageID int64 `json:"messageId"`
}

type UnreadCountPayload struct {
	UserID int64 `json:"userId"`
	Count  int   `json:"count"`
}

type TypingPayload struct {
	UserID   int64  `json:"userId"`
	RoomKey  string `json:"roomKey"`
	IsTyping bool   `json:"isTyping"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
