package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/talmuskatel1/ChatServer/internal/api"
	"github.com/talmuskatel1/ChatServer/internal/cache"
	"github.com/talmuskatel1/ChatServer/internal/chat"
	"github.com/talmuskatel1/ChatServer/internal/config"
	"github.com/talmuskatel1/ChatServer/internal/db"
	"github.com/talmuskatel1/ChatServer/internal/middleware"
	"github.com/talmuskatel1/ChatServer/internal/observ"
	"github.com/talmuskatel1/ChatServer/internal/repository/postgres"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	database, err := db.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(context.Background()); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	// The history cache is an optimization; a missing Redis degrades every
	// read to Postgres instead of failing startup.
	var history *cache.HistoryCache
	redisClient, err := cache.NewClient(context.Background(), cfg.RedisURL)
	if err != nil {
		logger.Warn("redis unavailable, history cache disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		history = cache.NewHistoryCache(redisClient, cfg.HistoryCacheTTL, logger)
	}

	pool := database.Pool()
	groupRepo := postgres.NewGroupStore(pool)
	messageRepo := postgres.NewMessageStore(pool)
	userRepo := postgres.NewUserStore(pool)

	registry := chat.NewRegistry()
	dispatcher := chat.NewDispatcher(registry, logger)
	coordinator := chat.NewCoordinator(groupRepo, userRepo, messageRepo, history, cfg.OpTimeout, logger)
	gateway := chat.NewGateway(coordinator, registry, dispatcher, cfg.JWTSecret, cfg.WriteTimeout, logger)

	authHandler := api.NewAuthHandler(userRepo, cfg.JWTSecret, logger)
	groupHandler := api.NewGroupHandler(coordinator, dispatcher, logger)
	userHandler := api.NewUserHandler(userRepo, groupRepo, coordinator, dispatcher, logger)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := gin.New()
	srv.Use(gin.Logger(), gin.Recovery())

	srv.GET("/v1/health", func(c *gin.Context) {
		if err := database.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv.POST("/v1/auth/signup", authHandler.Signup)
	srv.POST("/v1/auth/login", authHandler.Login)

	// The websocket gateway authenticates at upgrade time itself (browsers
	// cannot set headers on websocket requests).
	srv.GET("/ws", gateway.Handle)

	v1 := srv.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	v1.POST("/groups", groupHandler.Create)
	v1.POST("/groups/join", groupHandler.Join)
	v1.GET("/groups/:id", groupHandler.GetByID)
	v1.GET("/groups/:id/members", groupHandler.Members)
	v1.GET("/groups/:id/messages", groupHandler.Messages)

	v1.GET("/users/:id", userHandler.Get)
	v1.GET("/users/:id/group-ids", userHandler.GroupIDs)
	v1.GET("/users/:id/groups", userHandler.Groups)
	v1.DELETE("/users/:id", userHandler.Delete)

	logger.Info("starting ChatServer",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
	)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
