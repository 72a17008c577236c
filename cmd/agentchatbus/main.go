// Package main is the entry point for the AgentChatBus server. A single
// binary serves the HTTP API, the WebSocket event stream, and the MCP
// transports on top of one SQLite-backed bus.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentchatbus/agentchatbus/internal/bus/handlers"
	"github.com/agentchatbus/agentchatbus/internal/bus/policy"
	sqliterepo "github.com/agentchatbus/agentchatbus/internal/bus/repository/sqlite"
	"github.com/agentchatbus/agentchatbus/internal/bus/service"
	"github.com/agentchatbus/agentchatbus/internal/bus/session"
	"github.com/agentchatbus/agentchatbus/internal/common/config"
	"github.com/agentchatbus/agentchatbus/internal/common/logger"
	"github.com/agentchatbus/agentchatbus/internal/db"
	eventbus "github.com/agentchatbus/agentchatbus/internal/events/bus"
	gateways "github.com/agentchatbus/agentchatbus/internal/gateway/websocket"
	"github.com/agentchatbus/agentchatbus/internal/mcpserver"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
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

	log.Info("Starting AgentChatBus...", zap.String("version", config.Version))

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Initialize event bus (in-memory by default, NATS if configured)
	var eventBus eventbus.EventBus
	if cfg.NATS.URL != "" {
		log.Info("Connecting to NATS...", zap.String("url", cfg.NATS.URL))
		natsEventBus, err := eventbus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsEventBus
		defer natsEventBus.Close()
		log.Info("Connected to NATS event bus")
	} else {
		log.Info("Using in-memory event bus")
		eventBus = eventbus.NewMemoryEventBus(log)
	}

	// 5. Open the bus database
	pool, err := db.Open(cfg.Database.Path, time.Duration(cfg.Database.BusyTimeout)*time.Millisecond)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err), zap.String("db_path", cfg.Database.Path))
	}
	defer pool.Close()
	log.Info("SQLite database initialized", zap.String("db_path", cfg.Database.Path))

	repo, err := sqliterepo.NewWithDB(pool.Writer(), pool.Reader())
	if err != nil {
		log.Fatal("Failed to initialize repository", zap.Error(err))
	}

	// 6. Core bus service
	svc := service.NewService(repo, eventBus, log, cfg)
	sessions := session.NewRegistry()

	// 7. WebSocket gateway: committed bus events fan out as notifications
	gateway := gateways.NewGateway(sessions, log)
	go gateway.Hub.Run(ctx)
	if _, err := gateway.Hub.AttachEventBus(eventBus); err != nil {
		log.Fatal("Failed to attach event bus to gateway", zap.Error(err))
	}
	handlers.NewWSHandlers(svc, sessions, log).Register(gateway.Dispatcher)

	// 8. HTTP router
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	gateway.SetupRoutes(router)
	handlers.NewThreadHandlers(svc, log).Register(router)
	handlers.NewMessageHandlers(svc, log).Register(router)
	handlers.NewAgentHandlers(svc, log).Register(router)
	handlers.NewBusHandlers(svc, log).Register(router)

	// 9. MCP server (SSE + Streamable HTTP)
	if cfg.MCP.Enabled {
		mcpSrv, mcpCleanup, err := mcpserver.Provide(ctx, cfg.MCP, svc, log)
		if err != nil {
			log.Fatal("Failed to start MCP server", zap.Error(err))
		}
		defer func() { _ = mcpCleanup() }()
		log.Info("MCP server started",
			zap.String("sse", mcpSrv.SSEEndpoint()),
			zap.String("streamable_http", mcpSrv.StreamableHTTPEndpoint()))
	}

	// 10. Background jobs
	sweeper := policy.NewSweeper(repo, eventBus, log,
		int(cfg.Policy.ConversationExpiryDuration().Minutes()),
		cfg.Policy.SweepIntervalDuration())
	sweeper.Start(ctx)

	jobs, jobCtx := errgroup.WithContext(ctx)
	jobs.Go(func() error {
		ticker := time.NewTicker(cfg.Events.PruneIntervalDuration())
		defer ticker.Stop()
		for {
			select {
			case <-jobCtx.Done():
				return nil
			case <-ticker.C:
				pruned, err := repo.PruneEvents(jobCtx, cfg.Events.MaxAgeDuration())
				if err != nil {
					log.Warn("event prune failed", zap.Error(err))
				} else if pruned > 0 {
					log.Debug("pruned fan-out events", zap.Int64("count", pruned))
				}
			}
		}
	})

	// 11. HTTP server. The bus binds to loopback only.
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("AgentChatBus listening",
			zap.String("endpoint", cfg.Server.Endpoint()),
			zap.String("websocket", "/ws"),
			zap.String("http", "/api/v1"))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 12. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down AgentChatBus...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := jobs.Wait(); err != nil {
		log.Error("background job error", zap.Error(err))
	}

	log.Info("AgentChatBus stopped")
}

// corsMiddleware allows browser-based UIs to talk to the loopback bus.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version, Sec-WebSocket-Protocol")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
