package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/4xmen/hellochat/internal/auth"
	"github.com/4xmen/hellochat/internal/chat"
	"github.com/4xmen/hellochat/internal/db"
	"github.com/4xmen/hellochat/internal/handlers"
	"github.com/4xmen/hellochat/internal/media"
	"github.com/4xmen/hellochat/internal/metrics"
	"github.com/4xmen/hellochat/internal/presence"
	"github.com/4xmen/hellochat/internal/push"
	"github.com/4xmen/hellochat/internal/rooms"
	"github.com/4xmen/hellochat/internal/sidebar"
	"github.com/4xmen/hellochat/internal/store"
	"github.com/4xmen/hellochat/internal/ws"
	"github.com/4xmen/hellochat/pkg/config"
)

func main() {
	cfg := config.Load()

	if len(os.Args) > 1 {
		if err := runCommand(cfg, os.Stdout, os.Args[1:]); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	if err := runServer(cfg); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func runCommand(cfg *config.Config, out io.Writer, args []string) error {
	command := args[0]

	switch command {
	case "status":
		return runStatus(cfg, out, args[1:])
	case "vapid-keys":
		public, private, err := push.GenerateKeys()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", public, private)
		return nil
	case "-h", "--help", "help":
		printUsage(out)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  hellochat             Start the web server")
	fmt.Fprintln(out, "  hellochat status      Show application statistics")
	fmt.Fprintln(out, "  hellochat status --json")
	fmt.Fprintln(out, "  hellochat vapid-keys  Generate a web push key pair")
}

// app holds the wired server and the pieces that need shutting down.
type app struct {
	router   *gin.Engine
	database *db.DB
	hub      *ws.Hub
	notifier *push.Notifier
}

func newApp(cfg *config.Config, logger *log.Logger) (*app, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	conn := database.GetConn()

	uploads, err := media.NewLocalStore(cfg.FileStoragePath, cfg.MaxUploadSize)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize file storage: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st := store.New(conn)
	registry := presence.NewRegistry(logger, m)
	roomRouter := rooms.NewRouter(logger)
	agg := sidebar.NewAggregator(st)
	dispatcher := sidebar.NewDispatcher(agg, registry, m, logger)

	notifier := push.NewNotifier(conn, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubscriber, logger)
	if notifier == nil {
		logger.Println("web push disabled: VAPID keys not configured")
	}

	deps := chat.Deps{
		Store:    st,
		Counters: agg,
		Pusher:   dispatcher,
		Presence: registry,
		Rooms:    roomRouter,
		Media:    uploads,
		Metrics:  m,
		Log:      logger,
	}
	if notifier != nil {
		deps.Notifier = notifier
	}
	chatSvc := chat.New(deps)
	authSvc := auth.New(conn, st, uploads, cfg.JWTSecret, cfg.TokenTTL)
	hub := ws.NewHub(registry, roomRouter, chatSvc, m, logger, cfg.WSEventsPerSecond, cfg.WSEventBurst)

	authHandler := handlers.NewAuthHandler(authSvc)
	msgHandler := handlers.NewMessageHandler(chatSvc)
	pushHandler := handlers.NewPushHandler(notifier)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(serverErrorLogger(logger))
	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{Output: logger.Writer(), Formatter: accessLogFormatter}))
	router.Use(panicRecovery(logger))
	router.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	api := router.Group("/api")
	api.Use(handlers.BodyLimit(handlers.MaxBodySize(cfg.MaxUploadSize)))
	{
		loginLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 5})
		signupLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 2})

		api.POST("/auth/signup", rateLimitMiddleware(signupLimiter), authHandler.Signup)
		api.POST("/auth/login", rateLimitMiddleware(loginLimiter), authHandler.Login)
		api.GET("/status", msgHandler.Status)
	}

	protected := api.Group("")
	protected.Use(authHandler.AuthMiddleware())
	{
		protected.GET("/auth/check", authHandler.Check)
		protected.PUT("/auth/update-profile", authHandler.UpdateProfile)

		protected.GET("/messages/users", msgHandler.Users)
		protected.GET("/messages/user-data/:id", msgHandler.UserData)
		protected.GET("/messages/:id", msgHandler.Conversation)
		protected.PUT("/messages/mark/:id", msgHandler.MarkSeen)
		protected.POST("/messages/send/:id", msgHandler.Send)
		protected.DELETE("/messages/:id", msgHandler.Delete)

		protected.GET("/push/vapid-public-key", pushHandler.VAPIDPublicKey)
		protected.POST("/push/subscribe", pushHandler.Subscribe)
	}

	router.Static("/api/files", uploads.Dir())
	router.GET("/ws", authHandler.WebSocketAuthMiddleware(), hub.HandleWebSocket)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorBody(c, "not_found", "not found"))
	})

	return &app{router: router, database: database, hub: hub, notifier: notifier}, nil
}

// close drops live sessions, waits for pending pushes and closes the store.
func (a *app) close() error {
	a.hub.Close()
	a.notifier.Wait()
	return a.database.Close()
}

func runServer(cfg *config.Config) error {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%s", cfg.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("Starting server on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Println("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// hijacked websocket connections are not tracked by Shutdown
	a.hub.Close()
	return srv.Shutdown(shutdownCtx)
}
