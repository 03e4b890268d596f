package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/hellochat/internal/push"
)

type PushHandler struct {
	notifier *push.Notifier
}

func NewPushHandler(notifier *push.Notifier) *PushHandler {
	return &PushHandler{notifier: notifier}
}

func (h *PushHandler) VAPIDPublicKey(c *gin.Context) {
	key := h.notifier.VAPIDPublicKey()
	if key == "" {
		writeError(c, push.ErrDisabled)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "publicKey": key})
}

func (h *PushHandler) Subscribe(c *gin.Context) {
	var req push.Subscription
	if !bindJSON(c, &req) {
		return
	}
	if err := h.notifier.Subscribe(c.Request.Context(), currentUserID(c), req); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true})
}
