// Package main is the entry point for the TickerDesk conversation stream
// service.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tickerdesk/tickerdesk/internal/common/config"
	"github.com/tickerdesk/tickerdesk/internal/common/httpmw"
	"github.com/tickerdesk/tickerdesk/internal/common/logger"
	"github.com/tickerdesk/tickerdesk/internal/events/bus"
	gatewayws "github.com/tickerdesk/tickerdesk/internal/gateway/websocket"
	"github.com/tickerdesk/tickerdesk/internal/history"
	"github.com/tickerdesk/tickerdesk/internal/session"
	"github.com/tickerdesk/tickerdesk/internal/tracing"
	ws "github.com/tickerdesk/tickerdesk/pkg/websocket"
)

func main() {
	configPath := flag.String("config", "", "config file directory")
	fixturePath := flag.String("fixture", "", "seed the history store from a YAML scenario file")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadWithPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting TickerDesk stream service...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Open the history store
	var store history.Store
	switch cfg.History.Driver {
	case "postgres":
		store, err = history.NewPostgresStore(cfg.History.DSN)
	default:
		store, err = history.NewSQLiteStore(cfg.History.Path)
	}
	if err != nil {
		log.Fatal("Failed to open history store", zap.Error(err))
	}
	defer store.Close()
	log.Info("History store ready", zap.String("driver", cfg.History.Driver))

	// 4. Optionally seed a demo scenario
	if *fixturePath != "" {
		fixture, err := history.LoadFixture(*fixturePath)
		if err != nil {
			log.Fatal("Failed to load fixture", zap.Error(err))
		}
		if err := fixture.Seed(ctx, store); err != nil {
			log.Fatal("Failed to seed fixture", zap.Error(err))
		}
		log.Info("Seeded fixture", zap.String("session_id", fixture.SessionID))
	}

	// 5. Connect the event bus: NATS when configured, in-memory otherwise
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsBus
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		eventBus = bus.NewMemoryEventBus(log)
		log.Info("Using in-memory event bus")
	}
	defer eventBus.Close()

	// 6. Create WebSocket hub
	dispatcher := ws.NewDispatcher()
	hub := gatewayws.NewHub(dispatcher, log)
	go hub.Run(ctx)

	// 7. Create and start the session service
	svc := session.NewService(store, eventBus, hub, cfg.Stream, log)
	if err := svc.Start(ctx); err != nil {
		log.Fatal("Failed to start session service", zap.Error(err))
	}

	hub.SetSnapshotProvider(func(ctx context.Context, sessionID string) (*ws.Message, error) {
		snap, err := svc.Snapshot(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return ws.NewNotification(ws.ActionSessionSnapshot, snap)
	})

	// 8. Setup HTTP server with Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(log, "tickerdesk"))
	router.Use(httpmw.OtelTracing("tickerdesk"))

	prefs := session.NewPreferences()
	session.RegisterRoutes(router, dispatcher, svc, prefs, log)
	gatewayws.RegisterHealthHandler(dispatcher)

	wsHandler := gatewayws.NewHandler(hub, log)
	router.GET("/ws", wsHandler.HandleConnection)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 9. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down TickerDesk stream service...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	svc.Stop()

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracer shutdown error", zap.Error(err))
	}

	log.Info("TickerDesk stream service stopped")
}
