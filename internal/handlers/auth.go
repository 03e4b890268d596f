package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/hellochat/internal/auth"
	"github.com/4xmen/hellochat/internal/models"
)

type AuthHandler struct {
	authSvc *auth.Service
}

func NewAuthHandler(authSvc *auth.Service) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

type SignupRequest struct {
	Username    string `json:"username" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Success bool         `json:"success"`
	Token   string       `json:"token"`
	User    *models.User `json:"user"`
}

// Signup creates a new user account and logs it in.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req SignupRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.authSvc.Register(c.Request.Context(), req.Username, req.Password, req.DisplayName)
	if err != nil {
		writeError(c, err)
		return
	}

	token, err := h.authSvc.GenerateToken(user.ID, user.Username)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, AuthResponse{Success: true, Token: token, User: user})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	token, user, err := h.authSvc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, AuthResponse{Success: true, Token: token, User: user})
}

// Check returns the authenticated user.
func (h *AuthHandler) Check(c *gin.Context) {
	user, err := h.authSvc.CurrentUser(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
}

func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	var req auth.ProfileInput
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.authSvc.UpdateProfile(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
}

// AuthMiddleware validates the bearer JWT and stores user_id (int64) and
// username.
func (h *AuthHandler) AuthMiddleware() gin.HandlerFunc {
	return h.authenticate(false)
}

// WebSocketAuthMiddleware is AuthMiddleware that also accepts ?token=,
// since browsers cannot set headers on websocket upgrades.
func (h *AuthHandler) WebSocketAuthMiddleware() gin.HandlerFunc {
	return h.authenticate(true)
}

func (h *AuthHandler) authenticate(allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if header := c.GetHeader("Authorization"); header != "" {
			token, _ = strings.CutPrefix(header, "Bearer ")
			if token == header {
				token = ""
			}
		}
		if token == "" && allowQuery {
			token = c.Query("token")
		}

		if token == "" {
			fail(c, http.StatusUnauthorized, "unauthorized", "missing authorization token")
			return
		}

		claims, err := h.authSvc.Authenticate(c.Request.Context(), token)
		if err != nil {
			writeError(c, err)
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Next()
	}
}
