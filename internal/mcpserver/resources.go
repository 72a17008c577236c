package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentchatbus/agentchatbus/internal/bus/dto"
)

// registerResources exposes read-only bus state under the chat:// scheme.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcp.NewResource("chat://bus/config", "Bus Configuration",
			mcp.WithResourceDescription(
				"Bus-level settings including the preferred language. "+
					"Agents should read this at startup and try to comply with preferred_language."),
			mcp.WithMIMEType("application/json"),
		),
		s.busConfigResource(),
	)

	s.mcpServer.AddResource(
		mcp.NewResource("chat://agents/active", "Active Agents",
			mcp.WithResourceDescription("All currently registered agents and their online status."),
			mcp.WithMIMEType("application/json"),
		),
		s.activeAgentsResource(),
	)

	s.mcpServer.AddResource(
		mcp.NewResource("chat://threads/active", "Active Threads",
			mcp.WithResourceDescription("Summary list of all visible threads."),
			mcp.WithMIMEType("application/json"),
		),
		s.activeThreadsResource(),
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate("chat://threads/{id}/transcript", "Thread Transcript",
			mcp.WithTemplateDescription("Full conversation history for a thread, rendered as plain text."),
			mcp.WithTemplateMIMEType("text/plain"),
		),
		s.transcriptResource(),
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate("chat://threads/{id}/summary", "Thread Summary",
			mcp.WithTemplateDescription("Closed-thread summary, if one was recorded."),
			mcp.WithTemplateMIMEType("text/plain"),
		),
		s.summaryResource(),
	)
}

func textResource(uri, mimeType, text string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: mimeType, Text: text},
	}
}

func (s *Server) busConfigResource() server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := json.MarshalIndent(s.service.BusConfig(s.sessionLanguage(ctx)), "", "  ")
		if err != nil {
			return nil, err
		}
		return textResource(req.Params.URI, "application/json", string(data)), nil
	}
}

func (s *Server) activeAgentsResource() server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		agents, err := s.service.ListAgents(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.MarshalIndent(dto.AgentsToDTO(agents), "", "  ")
		if err != nil {
			return nil, err
		}
		return textResource(req.Params.URI, "application/json", string(data)), nil
	}
}

func (s *Server) activeThreadsResource() server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		threads, err := s.service.ListThreads(ctx, "", false)
		if err != nil {
			return nil, err
		}
		data, err := json.MarshalIndent(dto.ThreadsToDTO(threads), "", "  ")
		if err != nil {
			return nil, err
		}
		return textResource(req.Params.URI, "application/json", string(data)), nil
	}
}

// threadIDFromURI extracts the thread id from chat://threads/{id}/<leaf>.
func threadIDFromURI(uri, leaf string) (string, error) {
	rest := strings.TrimPrefix(uri, "chat://threads/")
	id := strings.TrimSuffix(rest, "/"+leaf)
	if id == "" || id == rest {
		return "", fmt.Errorf("malformed resource URI: %s", uri)
	}
	return id, nil
}

func (s *Server) transcriptResource() server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		threadID, err := threadIDFromURI(req.Params.URI, "transcript")
		if err != nil {
			return nil, err
		}
		thread, err := s.service.GetThread(ctx, threadID)
		if err != nil {
			return nil, err
		}
		msgs, err := s.service.ListMessages(ctx, threadID, 0, 10000, false)
		if err != nil {
			return nil, err
		}

		var b strings.Builder
		fmt.Fprintf(&b, "# Thread: %s  [status: %s]\n", thread.Topic, thread.Status)
		for _, m := range msgs {
			fmt.Fprintf(&b, "\n[seq=%d] %s (%s): %s", m.Seq, m.Author, m.Role, m.Content)
		}
		return textResource(req.Params.URI, "text/plain", b.String()), nil
	}
}

func (s *Server) summaryResource() server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		threadID, err := threadIDFromURI(req.Params.URI, "summary")
		if err != nil {
			return nil, err
		}
		thread, err := s.service.GetThread(ctx, threadID)
		if err != nil {
			return nil, err
		}
		summary := thread.Summary
		if summary == "" {
			summary = "(No summary recorded for this thread.)"
		}
		return textResource(req.Params.URI, "text/plain", summary), nil
	}
}
