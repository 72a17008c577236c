package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/agentchatbus/agentchatbus/internal/bus/dto"
	"github.com/agentchatbus/agentchatbus/internal/common/errdefs"
)

// registerTools registers the bus tool surface on the MCP server.
func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("thread_create",
			mcp.WithDescription("Create a new conversation thread (topic / task context) on the bus. Creating an existing topic returns the existing thread."),
			mcp.WithString("topic", mcp.Required(), mcp.Description("Short description of the thread's purpose.")),
			mcp.WithObject("metadata", mcp.Description("Optional arbitrary key-value metadata.")),
			mcp.WithString("system_prompt", mcp.Description("Optional system prompt defining collaboration rules for this thread.")),
		),
		s.threadCreateHandler(),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("thread_list",
			mcp.WithDescription("List threads, optionally filtered by status. Archived threads are hidden unless include_archived is set."),
			mcp.WithString("status", mcp.Description("Filter by lifecycle state: discuss, implement, review, done, closed, archived. Omit for all visible threads.")),
			mcp.WithBoolean("include_archived", mcp.Description("Include archived threads in the listing.")),
		),
		s.threadListHandler(),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("thread_get",
			mcp.WithDescription("Get details of a single thread by ID."),
			mcp.WithString("thread_id", mcp.Required(), mcp.Description("The thread ID.")),
		),
		s.threadGetHandler(),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("thread_set_state",
			mcp.WithDescription("Advance the thread state machine: discuss -> implement -> review -> done."),
			mcp.WithString("thread_id", mcp.Required(), mcp.Description("The thread ID.")),
			mcp.WithString("state", mcp.Required(), mcp.Description("New state: discuss, implement, review, done, or closed.")),
		),
		s.threadSetStateHandler(),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("thread_close",
			mcp.WithDescription("Close a thread and optionally write a final summary for future checkpoint reads."),
			mcp.WithString("thread_id", mcp.Required(), mcp.Description("The thread ID.")),
			mcp.WithString("summary", mcp.Description("Summary of conclusions reached in this thread.")),
		),
		s.threadCloseHandler(),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("thread_archive",
			mcp.WithDescription("Archive a thread, hiding it from default listings while preserving its history."),
			mcp.WithString("thread_id", mcp.Required(), mcp.Description("The thread ID.")),
		),
		s.threadArchiveHandler(),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("thread_unarchive",
			mcp.WithDescription("Restore an archived thread back to the discuss state."),
			mcp.WithString("thread_id", mcp.Required(), mcp.Description("The thread ID.")),
		),
		s.threadUnarchiveHandler(),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("thread_delete",
			mcp.WithDescription("Permanently delete a thread and all its messages. This cannot be undone; confirm must be true."),
			mcp.WithString("thread_id", mcp.Required(), mcp.Description("The thread ID.")),
			mcp.WithBoolean("confirm", mcp.Required(), mcp.Description("Must be true to actually delete.")),
		),
		s.threadDeleteHandler(),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("msg_post",
			mcp.WithDescription("Post a message to a thread. Returns the new message ID and global seq number."),
			mcp.WithString("thread_id", mcp.Required(), mcp.Description("The thread ID.")),
			mcp.WithString("author", mcp.Description("Agent ID, 'system', or 'human'. Optional when this session has registered an agent.")),
			mcp.WithString("content", mcp.Required(), mcp.Description("The message body.")),
			mcp.WithString("role", mcp.Description("Message role: user, assistant, or system. Defaults to user.")),
			mcp.WithObject("metadata", mcp.Description("Optional arbitrary key-value metadata.")),
		),
		s.msgPostHandler(),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("msg_list",
			mcp.WithDescription("Fetch messages in a thread after a given seq cursor."),
			mcp.WithString("thread_id", mcp.Required(), mcp.Description("The thread ID.")),
			mcp.WithNumber("after_seq", mcp.Description("Return messages with seq > this value. Defaults to 0.")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of messages to return. Defaults to 100.")),
		),
		s.msgListHandler(),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("msg_wait",
			mcp.WithDescription(
				"Block until at least one new message arrives in the thread after `after_seq`. "+
					"Returns immediately if messages are already available. "+
					"CRITICAL BEHAVIOR: If this tool returns an empty list (timeout), "+
					"DO NOT post a message to the thread saying you are 'waiting' or 'polling'. "+
					"REMAIN SILENT. Just call this tool again to continue listening."),
			mcp.WithString("thread_id", mcp.Required(), mcp.Description("The thread ID.")),
			mcp.WithNumber("after_seq", mcp.Required(), mcp.Description("Return messages with seq > this value.")),
			mcp.WithNumber("timeout_ms", mcp.Description("Max wait in milliseconds. Defaults to 30000.")),
			mcp.WithString("agent_id", mcp.Description("Agent ID for activity tracking. Defaults to the session's registered agent.")),
			mcp.WithString("token", mcp.Description("Agent token matching agent_id.")),
		),
		s.msgWaitHandler(),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("agent_register",
			mcp.WithDescription(
				"Register an agent onto the bus. The machine name is auto-generated as "+
					"'IDE (Model)', with a numeric suffix when the same pair is already "+
					"registered: 'Cursor (GPT-4) 2'. Returns agent_id and a secret token "+
					"for subsequent calls."),
			mcp.WithString("ide", mcp.Required(), mcp.Description("Name of the IDE or client, e.g. 'Cursor', 'Claude Desktop', 'CLI'.")),
			mcp.WithString("model", mcp.Required(), mcp.Description("Model name, e.g. 'claude-3-5-sonnet-20241022', 'GPT-4'.")),
			mcp.WithString("description", mcp.Description("Optional short description of this agent's role.")),
			mcp.WithArray("capabilities", mcp.Description("List of capability tags, e.g. ['code', 'review'].")),
			mcp.WithString("display_name", mcp.Description("Optional friendly alias shown alongside the machine name.")),
		),
		s.agentRegisterHandler(),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("agent_heartbeat",
			mcp.WithDescription("Send a keep-alive ping. Agents that miss the heartbeat window are marked offline."),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("The agent ID.")),
			mcp.WithString("token", mcp.Required(), mcp.Description("The agent's secret token.")),
		),
		s.agentHeartbeatHandler(),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("agent_resume",
			mcp.WithDescription("Resume a previously registered agent identity, keeping its name and alias."),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("The agent ID.")),
			mcp.WithString("token", mcp.Required(), mcp.Description("The agent's secret token.")),
		),
		s.agentResumeHandler(),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("agent_unregister",
			mcp.WithDescription("Gracefully deregister an agent from the bus. The identity can be resumed later."),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("The agent ID.")),
			mcp.WithString("token", mcp.Required(), mcp.Description("The agent's secret token.")),
		),
		s.agentUnregisterHandler(),
	)

	// Raw schema keeps "properties": {} in the JSON for parameter-less
	// tools; the typed builder drops empty maps via omitempty, which some
	// clients reject.
	s.mcpServer.AddTool(
		mcp.NewToolWithRawSchema("agent_list",
			"List all registered agents and their online status.",
			json.RawMessage(`{"type":"object","properties":{}}`),
		),
		s.agentListHandler(),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("agent_set_alias",
			mcp.WithDescription("Set a friendly display name for an agent, shown alongside its machine name."),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("The agent ID.")),
			mcp.WithString("token", mcp.Required(), mcp.Description("The agent's secret token.")),
			mcp.WithString("display_name", mcp.Required(), mcp.Description("The new display name.")),
		),
		s.agentSetAliasHandler(),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("agent_set_typing",
			mcp.WithDescription("Broadcast an 'is typing' signal for a thread (optional, for UI feedback)."),
			mcp.WithString("thread_id", mcp.Required(), mcp.Description("The thread ID.")),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("The agent ID.")),
			mcp.WithBoolean("is_typing", mcp.Required(), mcp.Description("Whether the agent is currently composing.")),
		),
		s.agentSetTypingHandler(),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("bus_get_config",
			mcp.WithDescription(
				"Get the bus-level configuration. Agents SHOULD call this once at startup. "+
					"The most important field is `preferred_language`: agents are expected to "+
					"try to communicate in that language whenever possible. This is a SOFT "+
					"recommendation, no enforcement is done by the server."),
			mcp.WithString("language", mcp.Description("Optional language override for this session, e.g. 'Japanese'.")),
		),
		s.busGetConfigHandler(),
	)

	s.logger.Info("registered MCP tools", zap.Int("count", 19))
}

// toolJSON renders a value as an indented JSON tool result.
func toolJSON(v interface{}) (*mcp.CallToolResult, error) {
	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(formatted)), nil
}

// toolError renders a bus error as a tool error, surfacing policy details
// the agent can act on.
func toolError(err error) *mcp.CallToolResult {
	var rl *errdefs.RateLimitedError
	if errors.As(err, &rl) {
		return mcp.NewToolResultError(fmt.Sprintf(
			"Rate limit exceeded: at most %d messages per %d seconds per %s. Retry after %d seconds.",
			rl.Limit, rl.WindowSecs, rl.Scope, rl.RetryAfter))
	}
	var blocked *errdefs.ContentBlockedError
	if errors.As(err, &blocked) {
		return mcp.NewToolResultError(fmt.Sprintf(
			"Message blocked: content matches a %s pattern. Remove the secret and repost.",
			blocked.PatternLabel))
	}
	return mcp.NewToolResultError(err.Error())
}

func objectArg(req mcp.CallToolRequest, key string) map[string]interface{} {
	if raw, ok := req.GetArguments()[key]; ok {
		if m, ok := raw.(map[string]interface{}); ok {
			return m
		}
	}
	return nil
}

func (s *Server) threadCreateHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		topic, err := req.RequireString("topic")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		thread, created, err := s.service.CreateThread(ctx, topic, objectArg(req, "metadata"), req.GetString("system_prompt", ""))
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(map[string]interface{}{
			"thread":  dto.ThreadToDTO(thread),
			"created": created,
		})
	}
}

func (s *Server) threadListHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threads, err := s.service.ListThreads(ctx, req.GetString("status", ""), req.GetBool("include_archived", false))
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(dto.ThreadsToDTO(threads))
	}
}

func (s *Server) threadGetHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threadID, err := req.RequireString("thread_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		thread, err := s.service.GetThread(ctx, threadID)
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(dto.ThreadToDTO(thread))
	}
}

func (s *Server) threadSetStateHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threadID, err := req.RequireString("thread_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		state, err := req.RequireString("state")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := s.service.SetThreadState(ctx, threadID, state); err != nil {
			return toolError(err), nil
		}
		return toolJSON(map[string]interface{}{"ok": true})
	}
}

func (s *Server) threadCloseHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threadID, err := req.RequireString("thread_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := s.service.CloseThread(ctx, threadID, req.GetString("summary", "")); err != nil {
			return toolError(err), nil
		}
		return toolJSON(map[string]interface{}{"ok": true})
	}
}

func (s *Server) threadArchiveHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threadID, err := req.RequireString("thread_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := s.service.ArchiveThread(ctx, threadID); err != nil {
			return toolError(err), nil
		}
		return toolJSON(map[string]interface{}{"ok": true})
	}
}

func (s *Server) threadUnarchiveHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threadID, err := req.RequireString("thread_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := s.service.UnarchiveThread(ctx, threadID); err != nil {
			return toolError(err), nil
		}
		return toolJSON(map[string]interface{}{"ok": true})
	}
}

func (s *Server) threadDeleteHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threadID, err := req.RequireString("thread_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !req.GetBool("confirm", false) {
			return mcp.NewToolResultError("Deletion is permanent. Pass confirm=true to delete the thread and all its messages."), nil
		}
		receipt, err := s.service.DeleteThread(ctx, threadID)
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(dto.ReceiptToDTO(receipt))
	}
}

func (s *Server) msgPostHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threadID, err := req.RequireString("thread_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		author := req.GetString("author", "")
		if author == "" {
			if identity, ok := s.boundIdentity(ctx); ok {
				author = identity.AgentID
			}
		}

		msg, err := s.service.PostMessage(ctx, threadID, author, content, req.GetString("role", ""), objectArg(req, "metadata"))
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(map[string]interface{}{"msg_id": msg.ID, "seq": msg.Seq})
	}
}

func (s *Server) msgListHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threadID, err := req.RequireString("thread_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		msgs, err := s.service.ListMessages(ctx, threadID, int64(req.GetInt("after_seq", 0)), req.GetInt("limit", 100), true)
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(dto.MessagesToDTO(msgs))
	}
}

func (s *Server) msgWaitHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threadID, err := req.RequireString("thread_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		afterSeq, err := req.RequireInt("after_seq")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		timeout := time.Duration(req.GetInt("timeout_ms", 30000)) * time.Millisecond

		// Explicit credentials win; the session binding is the fallback.
		agentID := req.GetString("agent_id", "")
		token := req.GetString("token", "")
		if agentID == "" || token == "" {
			if identity, ok := s.boundIdentity(ctx); ok {
				agentID, token = identity.AgentID, identity.Token
			}
		}

		msgs, err := s.service.WaitMessages(ctx, threadID, int64(afterSeq), timeout, agentID, token)
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(dto.MessagesToDTO(msgs))
	}
}

func (s *Server) agentRegisterHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ide, err := req.RequireString("ide")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		model, err := req.RequireString("model")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		agent, err := s.service.RegisterAgent(ctx, ide, model,
			req.GetString("description", ""),
			req.GetStringSlice("capabilities", nil),
			req.GetString("display_name", ""))
		if err != nil {
			return toolError(err), nil
		}
		s.bindIdentity(ctx, agent.ID, agent.Token)
		return toolJSON(dto.AgentToDTO(agent))
	}
}

func (s *Server) agentHeartbeatHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentID, token, result := credentials(req)
		if result != nil {
			return result, nil
		}
		if err := s.service.HeartbeatAgent(ctx, agentID, token); err != nil {
			return toolError(err), nil
		}
		s.bindIdentity(ctx, agentID, token)
		return toolJSON(map[string]interface{}{"ok": true})
	}
}

func (s *Server) agentResumeHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentID, token, result := credentials(req)
		if result != nil {
			return result, nil
		}
		agent, err := s.service.ResumeAgent(ctx, agentID, token)
		if err != nil {
			return toolError(err), nil
		}
		s.bindIdentity(ctx, agent.ID, agent.Token)
		return toolJSON(dto.AgentToDTO(agent))
	}
}

func (s *Server) agentUnregisterHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentID, token, result := credentials(req)
		if result != nil {
			return result, nil
		}
		if err := s.service.UnregisterAgent(ctx, agentID, token); err != nil {
			return toolError(err), nil
		}
		if id := sessionID(ctx); id != "" {
			s.sessions.Unbind(id)
		}
		return toolJSON(map[string]interface{}{"ok": true})
	}
}

func (s *Server) agentListHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agents, err := s.service.ListAgents(ctx)
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(dto.AgentsToDTO(agents))
	}
}

func (s *Server) agentSetAliasHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentID, token, result := credentials(req)
		if result != nil {
			return result, nil
		}
		displayName, err := req.RequireString("display_name")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := s.service.SetAgentAlias(ctx, agentID, token, displayName); err != nil {
			return toolError(err), nil
		}
		return toolJSON(map[string]interface{}{"ok": true})
	}
}

func (s *Server) agentSetTypingHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threadID, err := req.RequireString("thread_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		typing, err := req.RequireBool("is_typing")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := s.service.SetAgentTyping(ctx, agentID, threadID, typing); err != nil {
			return toolError(err), nil
		}
		return toolJSON(map[string]interface{}{"ok": true})
	}
}

func (s *Server) busGetConfigHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if lang := req.GetString("language", ""); lang != "" {
			s.setSessionLanguage(ctx, lang)
		}
		return toolJSON(s.service.BusConfig(s.sessionLanguage(ctx)))
	}
}

func credentials(req mcp.CallToolRequest) (agentID, token string, result *mcp.CallToolResult) {
	agentID, err := req.RequireString("agent_id")
	if err != nil {
		return "", "", mcp.NewToolResultError(err.Error())
	}
	token, err = req.RequireString("token")
	if err != nil {
		return "", "", mcp.NewToolResultError(err.Error())
	}
	return agentID, token, nil
}
