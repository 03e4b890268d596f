package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/hellochat/internal/auth"
	"github.com/4xmen/hellochat/internal/chat"
	"github.com/4xmen/hellochat/internal/media"
	"github.com/4xmen/hellochat/internal/push"
	"github.com/4xmen/hellochat/pkg/i18n"
)

// fail writes the error envelope with a message localized for the request.
func fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"code":    code,
		"message": i18n.Localize(c.GetHeader("Accept-Language"), message),
	})
}

// writeError maps err onto an HTTP status and error code.
func writeError(c *gin.Context, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		message = "internal server error"
	}
	fail(c, status, code, message)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, chat.ErrUnauthorized),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrUserNotFound):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, auth.ErrUsernameTaken):
		return http.StatusConflict, "username_taken"
	case errors.Is(err, chat.ErrValidation),
		errors.Is(err, auth.ErrInvalidUsername),
		errors.Is(err, auth.ErrUsernameCharset),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrProfileTooLong),
		errors.Is(err, media.ErrInvalidData),
		errors.Is(err, media.ErrNotImage),
		errors.Is(err, media.ErrTooLarge),
		errors.Is(err, push.ErrInvalidSubscription):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, chat.ErrUpstream):
		return http.StatusBadGateway, "upstream_failure"
	case errors.Is(err, push.ErrDisabled):
		return http.StatusServiceUnavailable, "push_disabled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// MaxBodySize is the request body cap for a given decoded upload limit: a
// base64 data URL is 4/3 of its payload, plus room for the JSON around it.
func MaxBodySize(maxUpload int64) int64 {
	return maxUpload/3*4 + 64<<10
}

// BodyLimit caps request bodies at n bytes.
func BodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// bindJSON decodes the body into v and writes the error response itself
// when that fails.
func bindJSON(c *gin.Context, v any) bool {
	err := c.ShouldBindJSON(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		fail(c, http.StatusRequestEntityTooLarge, "request_too_large", "request body too large")
		return false
	}
	fail(c, http.StatusBadRequest, "validation_failed", "invalid request")
	return false
}

func currentUserID(c *gin.Context) int64 {
	return c.GetInt64("user_id")
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
