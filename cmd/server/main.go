package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/agent-studio/collab/api/handlers"
	"github.com/agent-studio/collab/internal/config"
	"github.com/agent-studio/collab/internal/db"
	"github.com/agent-studio/collab/internal/logging"
	"github.com/agent-studio/collab/internal/relay"
	"github.com/agent-studio/collab/internal/repository"
	"github.com/agent-studio/collab/internal/session"
	"github.com/agent-studio/collab/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		slog.Error("invalid logging configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionCfg := session.Config{
		MaxRecentChanges: cfg.MaxRecentChanges,
		MaxChangeAge:     cfg.MaxChangeAge,
		GracePeriod:      cfg.SessionGracePeriod,
		Logger:           logger,
	}

	// Activity journal
	var (
		activity handlers.ActivityLister
		journal  *repository.Journal
	)
	if cfg.JournalEnabled() {
		database, err := db.InitDB(cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			return err
		}
		defer db.CloseDB()

		repo := repository.NewActivityRepository(database, cfg.DBDriver)
		journal = repository.NewJournal(repo, 0, logger)
		sessionCfg.OnActivity = journal.Record
		activity = repo
		logger.Info("activity journal enabled", "driver", cfg.DBDriver)
	}

	// Cross-process relay
	var rel *relay.Relay
	if cfg.RelayEnabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return err
		}

		rel = relay.New(rdb, relay.Options{ChannelPrefix: cfg.RedisChannelPrefix, Logger: logger})
		sessionCfg.OnBroadcast = rel.Publish
		logger.Info("redis relay enabled", "addr", cfg.RedisAddr)
	}

	wsService := ws.NewService(ws.Config{
		Hub: ws.HubConfig{
			Session:       sessionCfg,
			SweepInterval: cfg.SweepInterval,
		},
		Handler: ws.HandlerOptions{
			AllowedOrigins: cfg.AllowedOrigins,
			MaxMessageSize: cfg.MaxMessageBytes,
			SendBuffer:     cfg.ClientSendBuffer,
		},
		Logger: logger,
	})

	go wsService.Run(ctx)
	if journal != nil {
		go journal.Run(ctx)
	}
	if rel != nil {
		go func() {
			if err := rel.Run(ctx, wsService.DeliverRemote); err != nil {
				logger.Error("redis relay stopped", "error", err)
			}
		}()
	}

	// Initialize handlers
	sessionHandler := handlers.NewSessionHandler(wsService, activity)
	wsHandler := handlers.NewWebSocketHandler(wsService.Handler())

	// Initialize Gin router
	r := gin.Default()
	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"journal": journal != nil,
			"relay":   rel != nil,
		})
	})

	api := r.Group("/api")
	{
		sessionHandler.RegisterRoutes(api)
	}
	wsHandler.RegisterRoutes(r, cfg.WSPath)

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr, "ws_path", cfg.WSPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	select {
	case err := <-errCh:
		if err != nil {
			stop()
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}

	<-wsService.Hub().Done()
	if journal != nil {
		<-journal.Done()
	}
	return nil
}

// corsMiddleware returns a CORS middleware for the introspection API.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
