package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/hellochat/internal/chat"
)

type MessageHandler struct {
	chat *chat.Service
}

func NewMessageHandler(svc *chat.Service) *MessageHandler {
	return &MessageHandler{chat: svc}
}

// Users returns the sidebar: every other user, unseen counts and
// conversation members.
func (h *MessageHandler) Users(c *gin.Context) {
	sidebar, err := h.chat.ConversationList(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"users":          sidebar.Users,
		"unseenMessages": sidebar.UnseenMessages,
		"chatMembers":    sidebar.ChatMembers,
	})
}

func (h *MessageHandler) UserData(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		fail(c, http.StatusBadRequest, "validation_failed", "invalid user id")
		return
	}
	user, err := h.chat.Profile(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
}

// Conversation marks the other user's messages as seen and returns the
// full history.
func (h *MessageHandler) Conversation(c *gin.Context) {
	otherID, ok := pathID(c, "id")
	if !ok {
		fail(c, http.StatusBadRequest, "validation_failed", "invalid user id")
		return
	}
	msgs, err := h.chat.FetchConversation(c.Request.Context(), currentUserID(c), otherID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messages": msgs})
}

func (h *MessageHandler) MarkSeen(c *gin.Context) {
	messageID, ok := pathID(c, "id")
	if !ok {
		fail(c, http.StatusBadRequest, "validation_failed", "invalid message id")
		return
	}
	msg, err := h.chat.MarkSeen(c.Request.Context(), currentUserID(c), messageID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg})
}

// Send stores a message. Clients append it when the newMessage event
// arrives; the response only confirms the stored id.
func (h *MessageHandler) Send(c *gin.Context) {
	receiverID, ok := pathID(c, "id")
	if !ok {
		fail(c, http.StatusBadRequest, "validation_failed", "invalid user id")
		return
	}
	var req chat.SendInput
	if !bindJSON(c, &req) {
		return
	}

	msg, err := h.chat.Send(c.Request.Context(), currentUserID(c), receiverID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": msg})
}

func (h *MessageHandler) Delete(c *gin.Context) {
	messageID, ok := pathID(c, "id")
	if !ok {
		fail(c, http.StatusBadRequest, "validation_failed", "invalid message id")
		return
	}
	if err := h.chat.Delete(c.Request.Context(), currentUserID(c), messageID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messageId": messageID})
}

// Status reports that the server is live and how many users are online.
func (h *MessageHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"status":      "live",
		"onlineUsers": h.chat.OnlineCount(),
	})
}
