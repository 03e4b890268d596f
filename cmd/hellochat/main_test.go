package main

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/4xmen/hellochat/pkg/config"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	cfg := &config.Config{
		Port:              "0",
		Environment:       "test",
		DatabasePath:      filepath.Join(dir, "data", "hellochat.db"),
		JWTSecret:         "test-secret",
		TokenTTL:          time.Hour,
		CORSOrigins:       "https://chat.example",
		MaxUploadSize:     1 << 20,
		FileStoragePath:   filepath.Join(dir, "uploads"),
		WSEventsPerSecond: 10,
		WSEventBurst:      20,
	}

	a, err := newApp(cfg, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.close() })
	return a
}

func serve(a *app, method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func TestAppRoutes(t *testing.T) {
	a := newTestApp(t)

	w := serve(a, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = serve(a, http.MethodGet, "/api/status", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"onlineUsers":0`)

	w = serve(a, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hellochat_online_users")

	w = serve(a, http.MethodGet, "/api/messages/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(a, http.MethodGet, "/ws", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(a, http.MethodPost, "/api/auth/login", `{"username":"`+strings.Repeat("a", 2<<20)+`"}`, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"request_too_large"`)

	w = serve(a, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"not_found"`)

	// push is disabled without VAPID keys
	w = serve(a, http.MethodPost, "/api/auth/signup", `{"username":"alice","password":"password123"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	token := between(w.Body.String(), `"token":"`, `"`)
	w = serve(a, http.MethodGet, "/api/push/vapid-public-key", "", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAppCORS(t *testing.T) {
	a := newTestApp(t)

	w := serve(a, http.MethodOptions, "/api/auth/login", "", map[string]string{
		"Origin":                        "https://chat.example",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://chat.example", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(a, http.MethodGet, "/health", "", map[string]string{"Origin": "https://evil.example"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSignupIsRateLimited(t *testing.T) {
	a := newTestApp(t)

	codes := make([]int, 0, 3)
	for _, name := range []string{"alice", "bobby", "carol"} {
		w := serve(a, http.MethodPost, "/api/auth/signup", `{"username":"`+name+`","password":"password123"}`, nil)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests}, codes)
}

func TestRateLimitMiddlewareHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	lim := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 1})
	router.GET("/", rateLimitMiddleware(lim), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "fa")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "تعداد درخواست ها بیش از حد مجاز است")
}

func TestPanicRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var logs bytes.Buffer
	logger := log.New(&logs, "", 0)

	router := gin.New()
	router.Use(serverErrorLogger(logger), panicRecovery(logger))
	router.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"internal"`)
	assert.Contains(t, logs.String(), "panic recovered")
	assert.Contains(t, logs.String(), "HTTP 500 GET /boom")
}

func TestAccessLogRedactsToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var logs bytes.Buffer

	router := gin.New()
	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{Output: &logs, Formatter: accessLogFormatter}))
	router.GET("/ws", func(c *gin.Context) { c.Status(http.StatusUnauthorized) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?token=eyJhbGciOiJIUzI1NiJ9.secret.sig&v=2", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, logs.String(), "token=REDACTED")
	assert.Contains(t, logs.String(), "v=2")
	assert.NotContains(t, logs.String(), "secret")
}

func TestRedactToken(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/ws", "/ws"},
		{"/ws?token=abc", "/ws?token=REDACTED"},
		{"/ws?b=1&token=abc&token=def", "/ws?b=1&token=REDACTED"},
		{"/api/messages/users?page=2", "/api/messages/users?page=2"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, redactToken(tt.path), tt.path)
	}
}

func TestCORSConfig(t *testing.T) {
	cfg := corsConfig("*")
	assert.True(t, cfg.AllowAllOrigins)
	assert.False(t, cfg.AllowCredentials)

	cfg = corsConfig("https://a.example, https://b.example")
	assert.False(t, cfg.AllowAllOrigins)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowOrigins)
	assert.True(t, cfg.AllowCredentials)
}

func TestRunCommand(t *testing.T) {
	cfg := &config.Config{}

	var out bytes.Buffer
	require.NoError(t, runCommand(cfg, &out, []string{"help"}))
	assert.Contains(t, out.String(), "hellochat status")

	out.Reset()
	require.NoError(t, runCommand(cfg, &out, []string{"vapid-keys"}))
	assert.Contains(t, out.String(), "VAPID_PUBLIC_KEY=")
	assert.Contains(t, out.String(), "VAPID_PRIVATE_KEY=")

	assert.Error(t, runCommand(cfg, io.Discard, []string{"bogus"}))
}

func between(s, start, end string) string {
	_, rest, ok := strings.Cut(s, start)
	if !ok {
		return ""
	}
	value, _, _ := strings.Cut(rest, end)
	return value
}
