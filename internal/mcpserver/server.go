// Package mcpserver exposes the bus over the Model Context Protocol. It
// registers tools for thread, message, and agent operations, read-only
// resources for bus state, and prompt templates for common coordination
// moves, served over both SSE and Streamable HTTP transports.
package mcpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/agentchatbus/agentchatbus/internal/bus/service"
	"github.com/agentchatbus/agentchatbus/internal/bus/session"
	"github.com/agentchatbus/agentchatbus/internal/common/config"
	"github.com/agentchatbus/agentchatbus/internal/common/logger"
)

// Server wraps the SSE and Streamable HTTP servers with lifecycle management.
// Both transports share one MCP server:
// - SSE transport (/sse) for Claude Desktop, Cursor, etc.
// - Streamable HTTP transport (/mcp) for Codex
type Server struct {
	cfg                  config.MCPConfig
	service              *service.Service
	sessions             *session.Registry
	mcpServer            *server.MCPServer
	sseServer            *server.SSEServer
	streamableHTTPServer *server.StreamableHTTPServer
	httpServer           *http.Server

	// Per-session language overrides set by bus_get_config.
	langMu    sync.RWMutex
	languages map[string]string

	mu      sync.Mutex
	running bool
	logger  *logger.Logger
}

// New creates an MCP server backed by the bus service. Agent identities
// established by agent_register or agent_resume are bound to the MCP session
// and released when the session closes.
func New(cfg config.MCPConfig, svc *service.Service, log *logger.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		service:   svc,
		sessions:  session.NewRegistry(),
		languages: make(map[string]string),
		logger:    log.WithFields(zap.String("component", "mcp-server")),
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, sess server.ClientSession) {
		s.sessions.Unbind(sess.SessionID())
		s.langMu.Lock()
		delete(s.languages, sess.SessionID())
		s.langMu.Unlock()
	})

	s.mcpServer = server.NewMCPServer(
		"agentchatbus",
		config.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(false),
		server.WithHooks(hooks),
	)

	s.registerTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// Start begins serving both transports and returns once the listener is up.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.mu.Unlock()

	s.sseServer = server.NewSSEServer(s.mcpServer,
		server.WithBaseURL(fmt.Sprintf("http://localhost:%d", s.cfg.Port)),
	)
	s.streamableHTTPServer = server.NewStreamableHTTPServer(s.mcpServer,
		server.WithEndpointPath("/mcp"),
	)

	mux := http.NewServeMux()
	mux.Handle("/sse", s.sseServer.SSEHandler())
	mux.Handle("/message", s.sseServer.MessageHandler())
	mux.Handle("/mcp", s.streamableHTTPServer)

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.cfg.Port = tcpAddr.Port
	}

	s.httpServer = &http.Server{Handler: mux}

	ready := make(chan struct{})
	go func() {
		s.mu.Lock()
		s.running = true
		s.mu.Unlock()
		close(ready)

		s.logger.Info("MCP server listening",
			zap.Int("port", s.cfg.Port),
			zap.String("sse_endpoint", "/sse"),
			zap.String("streamable_http_endpoint", "/mcp"))

		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("MCP server error", zap.Error(err))
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully shuts down both transports.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	if !running {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}
	if s.sseServer != nil {
		if err := s.sseServer.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown SSE server", zap.Error(err))
		}
	}
	if s.streamableHTTPServer != nil {
		if err := s.streamableHTTPServer.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown Streamable HTTP server", zap.Error(err))
		}
	}
	return nil
}

// SSEEndpoint returns the SSE URL for clients that use SSE transport.
func (s *Server) SSEEndpoint() string {
	return fmt.Sprintf("http://localhost:%d/sse", s.cfg.Port)
}

// StreamableHTTPEndpoint returns the Streamable HTTP URL.
func (s *Server) StreamableHTTPEndpoint() string {
	return fmt.Sprintf("http://localhost:%d/mcp", s.cfg.Port)
}

// sessionID identifies the MCP client session a request arrived on, or empty
// when the request is outside a session.
func sessionID(ctx context.Context) string {
	if sess := server.ClientSessionFromContext(ctx); sess != nil {
		return sess.SessionID()
	}
	return ""
}

func (s *Server) bindIdentity(ctx context.Context, agentID, token string) {
	if id := sessionID(ctx); id != "" {
		s.sessions.Bind(id, agentID, token)
	}
}

func (s *Server) boundIdentity(ctx context.Context) (session.Identity, bool) {
	id := sessionID(ctx)
	if id == "" {
		return session.Identity{}, false
	}
	return s.sessions.Lookup(id)
}

func (s *Server) sessionLanguage(ctx context.Context) string {
	id := sessionID(ctx)
	if id == "" {
		return ""
	}
	s.langMu.RLock()
	defer s.langMu.RUnlock()
	return s.languages[id]
}

func (s *Server) setSessionLanguage(ctx context.Context, lang string) {
	id := sessionID(ctx)
	if id == "" {
		return
	}
	s.langMu.Lock()
	s.languages[id] = lang
	s.langMu.Unlock()
}
