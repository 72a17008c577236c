package handlers

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/agentchatbus/agentchatbus/internal/bus/dto"
	"github.com/agentchatbus/agentchatbus/internal/bus/service"
	"github.com/agentchatbus/agentchatbus/internal/bus/session"
	"github.com/agentchatbus/agentchatbus/internal/common/errdefs"
	"github.com/agentchatbus/agentchatbus/internal/common/logger"
	ws "github.com/agentchatbus/agentchatbus/pkg/websocket"
)

// WSHandlers exposes the bus operations over the streaming connection. The
// connection id in the request context links calls to the agent identity
// bound by an earlier register or resume on the same connection.
type WSHandlers struct {
	service  *service.Service
	sessions *session.Registry
	logger   *logger.Logger
}

func NewWSHandlers(svc *service.Service, sessions *session.Registry, log *logger.Logger) *WSHandlers {
	return &WSHandlers{
		service:  svc,
		sessions: sessions,
		logger:   log.WithFields(zap.String("component", "bus-ws-handlers")),
	}
}

func (h *WSHandlers) Register(dispatcher *ws.Dispatcher) {
	dispatcher.RegisterFunc(ws.ActionThreadCreate, h.wsCreateThread)
	dispatcher.RegisterFunc(ws.ActionThreadList, h.wsListThreads)
	dispatcher.RegisterFunc(ws.ActionThreadGet, h.wsGetThread)
	dispatcher.RegisterFunc(ws.ActionThreadState, h.wsSetThreadState)
	dispatcher.RegisterFunc(ws.ActionThreadClose, h.wsCloseThread)
	dispatcher.RegisterFunc(ws.ActionThreadArchive, h.wsArchiveThread)
	dispatcher.RegisterFunc(ws.ActionThreadUnarchive, h.wsUnarchiveThread)
	dispatcher.RegisterFunc(ws.ActionThreadDelete, h.wsDeleteThread)
	dispatcher.RegisterFunc(ws.ActionMsgPost, h.wsPostMessage)
	dispatcher.RegisterFunc(ws.ActionMsgList, h.wsListMessages)
	dispatcher.RegisterFunc(ws.ActionMsgWait, h.wsWaitMessages)
	dispatcher.RegisterFunc(ws.ActionAgentRegister, h.wsRegisterAgent)
	dispatcher.RegisterFunc(ws.ActionAgentHeartbeat, h.wsHeartbeatAgent)
	dispatcher.RegisterFunc(ws.ActionAgentResume, h.wsResumeAgent)
	dispatcher.RegisterFunc(ws.ActionAgentUnregister, h.wsUnregisterAgent)
	dispatcher.RegisterFunc(ws.ActionAgentList, h.wsListAgents)
	dispatcher.RegisterFunc(ws.ActionAgentSetAlias, h.wsSetAlias)
	dispatcher.RegisterFunc(ws.ActionAgentSetTyping, h.wsSetTyping)
	dispatcher.RegisterFunc(ws.ActionBusConfig, h.wsBusConfig)
	dispatcher.RegisterFunc(ws.ActionEventsReplay, h.wsEventsReplay)
}

// wsError maps the core taxonomy onto stream error codes.
func wsError(msg *ws.Message, err error) (*ws.Message, error) {
	var rl *errdefs.RateLimitedError
	if errors.As(err, &rl) {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeRateLimited, err.Error(), map[string]interface{}{
			"limit":       rl.Limit,
			"window":      rl.WindowSecs,
			"retry_after": rl.RetryAfter,
			"scope":       rl.Scope,
		})
	}
	var blocked *errdefs.ContentBlockedError
	if errors.As(err, &blocked) {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeContentBlocked, err.Error(), map[string]interface{}{
			"pattern_label": blocked.PatternLabel,
		})
	}

	switch {
	case errors.Is(err, errdefs.ErrNotFound):
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound, err.Error(), nil)
	case errors.Is(err, errdefs.ErrInvalidInput):
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, err.Error(), nil)
	case errors.Is(err, errdefs.ErrAuthFailed):
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeUnauthorized, "authentication failed", nil)
	case errors.Is(err, errdefs.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeTimeout, "operation timed out", nil)
	default:
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, "request failed", nil)
	}
}

func (h *WSHandlers) wsCreateThread(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req dto.CreateThreadRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	thread, created, err := h.service.CreateThread(ctx, req.Topic, req.Metadata, req.SystemPrompt)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"thread":  dto.ThreadToDTO(thread),
		"created": created,
	})
}

type wsListThreadsRequest struct {
	Status          string `json:"status"`
	IncludeArchived bool   `json:"include_archived"`
}

func (h *WSHandlers) wsListThreads(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsListThreadsRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	threads, err := h.service.ListThreads(ctx, req.Status, req.IncludeArchived)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"threads": dto.ThreadsToDTO(threads)})
}

type wsThreadIDRequest struct {
	ThreadID string `json:"thread_id"`
}

func (h *WSHandlers) wsGetThread(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsThreadIDRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	thread, err := h.service.GetThread(ctx, req.ThreadID)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, dto.ThreadToDTO(thread))
}

type wsSetStateRequest struct {
	ThreadID string `json:"thread_id"`
	State    string `json:"state"`
}

func (h *WSHandlers) wsSetThreadState(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsSetStateRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if err := h.service.SetThreadState(ctx, req.ThreadID, req.State); err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
}

type wsCloseRequest struct {
	ThreadID string `json:"thread_id"`
	Summary  string `json:"summary"`
}

func (h *WSHandlers) wsCloseThread(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsCloseRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if err := h.service.CloseThread(ctx, req.ThreadID, req.Summary); err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
}

func (h *WSHandlers) wsArchiveThread(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsThreadIDRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if err := h.service.ArchiveThread(ctx, req.ThreadID); err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
}

func (h *WSHandlers) wsUnarchiveThread(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsThreadIDRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if err := h.service.UnarchiveThread(ctx, req.ThreadID); err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
}

func (h *WSHandlers) wsDeleteThread(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsThreadIDRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	receipt, err := h.service.DeleteThread(ctx, req.ThreadID)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, dto.ReceiptToDTO(receipt))
}

type wsPostMessageRequest struct {
	ThreadID string                 `json:"thread_id"`
	Author   string                 `json:"author"`
	Content  string                 `json:"content"`
	Role     string                 `json:"role"`
	Metadata map[string]interface{} `json:"metadata"`
}

func (h *WSHandlers) wsPostMessage(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsPostMessageRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}

	// A bound session lets an agent post without restating its id.
	if req.Author == "" {
		if identity, ok := h.boundIdentity(ctx); ok {
			req.Author = identity.AgentID
		}
	}

	posted, err := h.service.PostMessage(ctx, req.ThreadID, req.Author, req.Content, req.Role, req.Metadata)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, dto.MessageToDTO(posted))
}

type wsListMessagesRequest struct {
	ThreadID            string `json:"thread_id"`
	AfterSeq            int64  `json:"after_seq"`
	Limit               *int   `json:"limit"`
	IncludeSystemPrompt *bool  `json:"include_system_prompt"`
}

func (h *WSHandlers) wsListMessages(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsListMessagesRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	includePrompt := true
	if req.IncludeSystemPrompt != nil {
		includePrompt = *req.IncludeSystemPrompt
	}
	// A missing limit pages at 100; an explicit 0 means no stored rows.
	limit := 100
	if req.Limit != nil {
		limit = *req.Limit
	}
	msgs, err := h.service.ListMessages(ctx, req.ThreadID, req.AfterSeq, limit, includePrompt)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"messages": dto.MessagesToDTO(msgs)})
}

func (h *WSHandlers) wsWaitMessages(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req dto.WaitMessagesRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	var threadReq wsThreadIDRequest
	if err := msg.ParsePayload(&threadReq); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}

	// Credential fallback: explicit args win, then the session bound to
	// this connection.
	agentID, token := req.AgentID, req.Token
	if agentID == "" || token == "" {
		if identity, ok := h.boundIdentity(ctx); ok {
			agentID, token = identity.AgentID, identity.Token
		}
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	msgs, err := h.service.WaitMessages(ctx, threadReq.ThreadID, req.AfterSeq, timeout, agentID, token)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"messages": dto.MessagesToDTO(msgs)})
}

func (h *WSHandlers) wsRegisterAgent(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req dto.RegisterAgentRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	agent, err := h.service.RegisterAgent(ctx, req.IDE, req.Model, req.Description, req.Capabilities, req.DisplayName)
	if err != nil {
		return wsError(msg, err)
	}
	h.bindIdentity(ctx, agent.ID, agent.Token)
	return ws.NewResponse(msg.ID, msg.Action, dto.AgentToDTO(agent))
}

func (h *WSHandlers) wsHeartbeatAgent(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req dto.AgentCredentialsRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if err := h.service.HeartbeatAgent(ctx, req.AgentID, req.Token); err != nil {
		return wsError(msg, err)
	}
	h.bindIdentity(ctx, req.AgentID, req.Token)
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
}

func (h *WSHandlers) wsResumeAgent(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req dto.AgentCredentialsRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	agent, err := h.service.ResumeAgent(ctx, req.AgentID, req.Token)
	if err != nil {
		return wsError(msg, err)
	}
	h.bindIdentity(ctx, agent.ID, agent.Token)
	return ws.NewResponse(msg.ID, msg.Action, dto.AgentToDTO(agent))
}

func (h *WSHandlers) wsUnregisterAgent(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req dto.AgentCredentialsRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if err := h.service.UnregisterAgent(ctx, req.AgentID, req.Token); err != nil {
		return wsError(msg, err)
	}
	if connID := ws.ConnectionIDFromContext(ctx); connID != "" {
		h.sessions.Unbind(connID)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
}

func (h *WSHandlers) wsListAgents(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	agents, err := h.service.ListAgents(ctx)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"agents": dto.AgentsToDTO(agents)})
}

func (h *WSHandlers) wsSetAlias(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req dto.SetAliasRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if err := h.service.SetAgentAlias(ctx, req.AgentID, req.Token, req.DisplayName); err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
}

func (h *WSHandlers) wsSetTyping(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req dto.SetTypingRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if err := h.service.SetAgentTyping(ctx, req.AgentID, req.ThreadID, req.Typing); err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
}

func (h *WSHandlers) wsBusConfig(_ context.Context, msg *ws.Message) (*ws.Message, error) {
	return ws.NewResponse(msg.ID, msg.Action, h.service.BusConfig(""))
}

type wsEventsReplayRequest struct {
	AfterID int64 `json:"after_id"`
	Limit   int   `json:"limit"`
}

func (h *WSHandlers) wsEventsReplay(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsEventsReplayRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	events, err := h.service.EventsSince(ctx, req.AfterID, req.Limit)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"events": dto.EventsToDTO(events)})
}

func (h *WSHandlers) bindIdentity(ctx context.Context, agentID, token string) {
	if connID := ws.ConnectionIDFromContext(ctx); connID != "" {
		h.sessions.Bind(connID, agentID, token)
	}
}

func (h *WSHandlers) boundIdentity(ctx context.Context) (session.Identity, bool) {
	connID := ws.ConnectionIDFromContext(ctx)
	if connID == "" {
		return session.Identity{}, false
	}
	return h.sessions.Lookup(connID)
}
